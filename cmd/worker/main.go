package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/vantage-erp/vantage-erp/internal/app"
	"github.com/vantage-erp/vantage-erp/internal/inventory"
	jobmetrics "github.com/vantage-erp/vantage-erp/internal/jobs"
	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/ledger/accounts"
	"github.com/vantage-erp/vantage-erp/internal/ledger/acctcfg"
	"github.com/vantage-erp/vantage-erp/internal/ledger/balances"
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
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	auditLogger := shared.NewAuditLogger(pool)

	accountsService := accounts.NewService(accounts.NewRepository(pool), auditLogger)
	balancesService := balances.NewService(balances.NewRepository(pool), redisClient, cfg.BalanceCacheTTL)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger, balancesService, ledger.ServiceConfig{
		AutoCreatePeriods: cfg.AutoCreatePeriods,
	})
	resolver := acctcfg.NewResolver(acctcfg.NewRepository(pool), accountsService)

	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, nil, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	})
	postingHooks := posting.NewHooks(ledgerService, resolver, inventoryService)
	inventoryService.SetIntegration(postingHooks)

	salesService := sales.NewService(sales.NewRepository(pool), inventoryService, postingHooks, auditLogger)
	procurementService := procurement.NewService(procurement.NewRepository(pool), inventoryService, postingHooks, auditLogger, procurement.Config{
		ExpensePurchases: cfg.ExpensePurchases,
	})
	paymentsService := payments.NewService(
		payments.NewRepository(pool),
		postingHooks,
		payments.SalesSource{Service: salesService},
		payments.ProcurementSource{Service: procurementService},
		auditLogger,
		payments.Config{AllowOverpayment: cfg.AllowOverpayment},
	)

	metrics := jobmetrics.NewMetrics(nil)
	paymentsSync := jobs.NewPaymentsSyncHandler(logger, paymentsService, metrics)
	integrity := jobs.NewLedgerIntegrityHandler(logger, pool, metrics)
	warmup := jobs.NewBalancesWarmupHandler(logger, balancesService, metrics)

	syncTask, err := jobs.NewPaymentsSyncTask(jobs.PaymentsSyncPayload{Limit: 200})
	if err != nil {
		logger.Error("build payments sync task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPaymentsSync, Handler: paymentsSync.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrity.Handle},
			{Type: jobs.TaskBalancesWarmup, Handler: warmup.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: jobs.NewLedgerIntegrityTask(), Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "0 6 * * *", Task: jobs.NewBalancesWarmupTask(), Options: []asynq.Option{asynq.MaxRetry(2)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
