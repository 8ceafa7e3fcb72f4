package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/internal/adminrpc"
	"github.com/MarkoPoloResearchLab/terminus/internal/bolt11"
	"github.com/MarkoPoloResearchLab/terminus/internal/config"
	"github.com/MarkoPoloResearchLab/terminus/internal/gateway"
	"github.com/MarkoPoloResearchLab/terminus/internal/httpapi"
	"github.com/MarkoPoloResearchLab/terminus/internal/lnclient/lnd"
	"github.com/MarkoPoloResearchLab/terminus/internal/lnclient/offline"
	"github.com/MarkoPoloResearchLab/terminus/internal/provider"
	"github.com/MarkoPoloResearchLab/terminus/internal/store/filestore"
	"github.com/MarkoPoloResearchLab/terminus/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = cleanup() }()

	locations, err := cfg.Locations()
	if err != nil {
		return err
	}
	stack, err := provider.New(locations, provider.WithLogger(logger.Named("provider")))
	if err != nil {
		return fmt.Errorf("provider init: %w", err)
	}

	decoder := bolt11.New()
	node, closeNode, err := openNode(cfg, decoder, logger)
	if err != nil {
		return fmt.Errorf("lightning node: %w", err)
	}
	defer func() { _ = closeNode() }()

	dependencies := ledger.Dependencies{
		Store:           store,
		Decoder:         decoder,
		Now:             func() time.Time { return time.Now().UTC() },
		Logger:          logger.Named("ledger"),
		OperationLogger: ledger.NewZapOperationLogger(logger.Named("operations")),
	}
	custody, err := gateway.New(dependencies, node, stack,
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithMaxBeacons(cfg.MaxBeacons),
		gateway.WithRetryInterval(cfg.RetryInterval),
		gateway.WithPruneInterval(cfg.PruneInterval),
	)
	if err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}
	stack.SetListener(custody)

	if err := custody.LoadPersisted(ctx); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		errCh <- custody.RunTicks(ctx)
	}()
	if subscriber, ok := node.(*lnd.Client); ok {
		go subscriber.SubscribeSettled(ctx, custody.HandleIncomingPayment, custody.PendingPaymentHashes)
	}
	if cfg.HTTPEnabled() {
		go func() {
			errCh <- httpapi.Run(ctx, httpapi.Config{
				ListenAddr:     cfg.HTTPListenAddr,
				AllowedOrigins: cfg.AllowedOrigins,
				JWTSecret:      cfg.JWTSecret,
				JWTIssuer:      cfg.JWTIssuer,
			}, custody, logger.Named("http"))
		}()
	}

	lis, err := net.Listen("tcp", cfg.RPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(adminrpc.LoggingInterceptor(logger.Named("admin"))))
	adminrpc.RegisterHandler(grpcServer, adminrpc.NewServer(custody))
	go func() {
		logger.Info("admin gRPC server starting", zap.String("listen_addr", cfg.RPCListenAddr))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	case serveErr := <-errCh:
		cancel()
		grpcServer.GracefulStop()
		if serveErr == nil || errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

func openNode(cfg *config.Config, decoder ledger.InvoiceDecoder, logger *zap.Logger) (gateway.NodeClient, func() error, error) {
	if !cfg.LightningEnabled() {
		logger.Warn("no lnd address configured, payments are disabled")
		return offline.Node{}, func() error { return nil }, nil
	}
	client, err := lnd.Dial(lnd.Options{
		Address:     cfg.LNDAddress,
		CertHex:     cfg.LNDCertHex,
		MacaroonHex: cfg.LNDMacaroonHex,
	}, decoder, lnd.WithLogger(logger.Named("lnd")))
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

func openStore(ctx context.Context, databaseURL string) (ledger.Store, func() error, error) {
	database, err := config.ResolveDatabase(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if database.Driver == config.DriverFile {
		store, err := filestore.New(database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	}

	gormDB, err := openDatabase(database)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, err
	}
	store := gormstore.New(gormDB)
	if err := store.AutoMigrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return store, sqlDB.Close, nil
}

func openDatabase(database config.Database) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	}
	switch database.Driver {
	case config.DriverPostgres:
		return gorm.Open(postgres.Open(database.DSN), gormConfig)
	case config.DriverSQLite:
		path, err := config.PrepareSQLitePath(database.DSN)
		if err != nil {
			return nil, err
		}
		return gorm.Open(sqlite.Open(path), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", database.Driver)
	}
}
