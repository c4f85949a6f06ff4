package sqlstore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// amountArg renders an amount for a NUMERIC or TEXT column
func amountArg(d decimal.Decimal) string {
	return domain.FormatAmount(d)
}

// parseAmount parses a NUMERIC or TEXT column scanned as a string
func parseAmount(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return domain.Quantize(d), nil
}

// timeArg normalizes a timestamp to the precision PostgreSQL keeps
func timeArg(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
