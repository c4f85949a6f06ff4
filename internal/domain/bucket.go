package domain

import (
	"fmt"
	"strings"
)

// Bucket selects which of the two balances of an account an operation targets
type Bucket string

const (
	// BucketReserve is the time-locked balance backed by FIFO deposit batches
	BucketReserve Bucket = "reserve"
	// BucketLiquid is the immediately spendable balance with no batch structure
	BucketLiquid Bucket = "liquid"
)

// ParseBucket converts a selector string into a Bucket
// Matching is case-insensitive and ignores surrounding whitespace
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToLower(strings.TrimSpace(s)))
	if err := b.Validate(); err != nil {
		return "", err
	}
	return b, nil
}

// Validate ensures the bucket is one of the known selectors
func (b Bucket) Validate() error {
	switch b {
	case BucketReserve, BucketLiquid:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBucket, string(b))
	}
}

// Ptr returns a pointer to a copy of b, used for the nullable bucket column of ledger entries
func (b Bucket) Ptr() *Bucket {
	return &b
}
