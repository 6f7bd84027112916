package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vantage-erp/vantage-erp/internal/aging"
	"github.com/vantage-erp/vantage-erp/internal/app"
	"github.com/vantage-erp/vantage-erp/internal/inventory"
	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/ledger/accounts"
	"github.com/vantage-erp/vantage-erp/internal/ledger/acctcfg"
	"github.com/vantage-erp/vantage-erp/internal/ledger/balances"
	"github.com/vantage-erp/vantage-erp/internal/ledger/periods"
	"github.com/vantage-erp/vantage-erp/internal/masterdata/products"
	"github.com/vantage-erp/vantage-erp/internal/masterdata/warehouses"
	"github.com/vantage-erp/vantage-erp/internal/observability"
	"github.com/vantage-erp/vantage-erp/internal/partners"
	"github.com/vantage-erp/vantage-erp/internal/payments"
	"github.com/vantage-erp/vantage-erp/internal/platform/cache"
	"github.com/vantage-erp/vantage-erp/internal/platform/db"
	"github.com/vantage-erp/vantage-erp/internal/posting"
	"github.com/vantage-erp/vantage-erp/internal/procurement"
	"github.com/vantage-erp/vantage-erp/internal/sales"
	"github.com/vantage-erp/vantage-erp/internal/shared"
	"github.com/vantage-erp/vantage-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	locker := shared.NewLocker(redisClient, cfg.LockWaitTimeout, 30*time.Second)

	accountsRepo := accounts.NewRepository(dbpool)
	accountsService := accounts.NewService(accountsRepo, auditLogger)
	accountsHandler := accounts.NewHandler(logger, accountsService)

	periodsRepo := periods.NewRepository(dbpool)
	periodsService := periods.NewService(periodsRepo, locker, auditLogger, periods.Config{
		AutoCreate: cfg.AutoCreatePeriods,
	})
	periodsHandler := periods.NewHandler(logger, periodsService)

	balancesRepo := balances.NewRepository(dbpool)
	balancesService := balances.NewService(balancesRepo, redisClient, cfg.BalanceCacheTTL)
	balancesHandler := balances.NewHandler(logger, balancesService)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, balancesService, ledger.ServiceConfig{
		AutoCreatePeriods: cfg.AutoCreatePeriods,
	})
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	resolver := acctcfg.NewResolver(acctcfg.NewRepository(dbpool), accountsService)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, nil, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	})
	postingHooks := posting.NewHooks(ledgerService, resolver, inventoryService)
	inventoryService.SetIntegration(postingHooks)
	inventoryService.WithIdempotency(shared.NewIdempotencyStore(dbpool))
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	salesRepo := sales.NewRepository(dbpool)
	salesService := sales.NewService(salesRepo, inventoryService, postingHooks, auditLogger)
	salesHandler := sales.NewHandler(logger, salesService)

	procurementRepo := procurement.NewRepository(dbpool)
	procurementService := procurement.NewService(procurementRepo, inventoryService, postingHooks, auditLogger, procurement.Config{
		ExpensePurchases: cfg.ExpensePurchases,
	})
	procurementHandler := procurement.NewHandler(logger, procurementService)

	paymentsRepo := payments.NewRepository(dbpool)
	paymentsService := payments.NewService(
		paymentsRepo,
		postingHooks,
		payments.SalesSource{Service: salesService},
		payments.ProcurementSource{Service: procurementService},
		auditLogger,
		payments.Config{
			AllowOverpayment: cfg.AllowOverpayment,
			// The host grants everything until a real permission backend
			// is plugged in; the gate still flows through the predicate.
			EditPosted: payments.EditPolicyFromPredicate(shared.AllowAll),
		},
	)
	paymentsHandler := payments.NewHandler(logger, paymentsService)

	partnersRepo := partners.NewRepository(dbpool)
	partnersService := partners.NewService(partnersRepo, postingHooks, auditLogger)
	partnersHandler := partners.NewHandler(logger, partnersService)

	productsService := products.NewService(products.NewRepository(dbpool))
	productsHandler := products.NewHandler(logger, productsService)

	warehousesService := warehouses.NewService(warehouses.NewRepository(dbpool))
	warehousesHandler := warehouses.NewHandler(logger, warehousesService)

	agingService := aging.NewService(aging.NewRepository(dbpool))
	agingHandler := aging.NewHandler(logger, agingService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AccountsHandler:   accountsHandler,
		PeriodsHandler:    periodsHandler,
		JournalsHandler:   ledgerHandler,
		BalancesHandler:   balancesHandler,
		InventoryHandler:  inventoryHandler,
		SalesHandler:      salesHandler,
		PurchasesHandler:  procurementHandler,
		PaymentsHandler:   paymentsHandler,
		PartnersHandler:   partnersHandler,
		ProductsHandler:   productsHandler,
		WarehousesHandler: warehousesHandler,
		ReportsHandler:    agingHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
