package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/simaogato/fundledger-backend/internal/adapter/cache"
	grpcadapter "github.com/simaogato/fundledger-backend/internal/adapter/grpc"
	"github.com/simaogato/fundledger-backend/internal/adapter/repository/memory"
	"github.com/simaogato/fundledger-backend/internal/adapter/repository/sqlstore"
	"github.com/simaogato/fundledger-backend/internal/config"
	"github.com/simaogato/fundledger-backend/internal/domain"
	"github.com/simaogato/fundledger-backend/internal/logging"
	"github.com/simaogato/fundledger-backend/internal/usecase/funds"
	"github.com/simaogato/fundledger-backend/internal/usecase/maturation"
	"github.com/simaogato/fundledger-backend/internal/usecase/statement"
)

const connectTimeout = 10 * time.Second

func main() {
	// 1. Load configuration and build the logger
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// 2. Setup storage
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	uow, closeStore, err := openStore(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to open storage", zap.String("driver", cfg.StorageDriver), zap.Error(err))
	}
	defer closeStore()

	// 3. Optional balance cache
	var balanceCache domain.BalanceCache
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			logger.Warn("Redis connection failed, continuing without balance cache", zap.Error(err))
		} else {
			defer client.Close()
			balanceCache = cache.NewBalanceCache(client, cfg.Redis.TTL)
			logger.Info("Balance cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	// 4. Initialize Services (Use Cases)
	engineOpts := []funds.Option{
		funds.WithLogger(logger),
		funds.WithRetryPolicy(funds.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
		}),
	}
	if balanceCache != nil {
		engineOpts = append(engineOpts, funds.WithCache(balanceCache))
	}
	fundsEngine := funds.NewEngine(uow, engineOpts...)
	statementService := statement.NewStatementService(uow, balanceCache, logger)
	maturationService := maturation.NewMaturationService(uow, time.Now, logger)

	// 5. Start gRPC Server
	grpcServer := grpclib.NewServer(
		grpclib.ChainUnaryInterceptor(
			grpcadapter.LoggingInterceptor(logger),
			grpcadapter.AuthInterceptor(cfg.APIToken),
		),
	)
	grpcadapter.RegisterFundServiceServer(grpcServer, grpcadapter.NewServer(fundsEngine, statementService, maturationService))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("addr", cfg.GRPCPort), zap.Error(err))
	}

	// Start server in a goroutine
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCPort), zap.String("storage", cfg.StorageDriver))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("Failed to serve gRPC server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	waitForShutdown(grpcServer, logger)
}

// openStore opens the configured storage backend and applies its schema
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.UnitOfWork, func(), error) {
	var (
		driver string
		dsn    string
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage; balances are lost on restart")
		return memory.NewStore(), func() {}, nil
	case config.StorageSQLite:
		driver, dsn = sqlstore.DriverSQLite, sqlstore.SQLiteDSN(cfg.SQLitePath)
	case config.StoragePgx:
		driver, dsn = sqlstore.DriverPgx, cfg.DatabaseDSN()
	case config.StoragePostgres:
		driver, dsn = sqlstore.DriverPostgres, cfg.DatabaseDSN()
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	db, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}
	return sqlstore.NewUnitOfWork(db), closeDB, nil
}

// waitForShutdown waits for SIGTERM or SIGINT and gracefully shuts down the server
func waitForShutdown(grpcServer *grpclib.Server, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("Shutting down gracefully", zap.String("signal", sig.String()))

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
}
