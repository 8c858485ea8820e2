package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodian/internal/bot"
	"custodian/internal/config"
	"custodian/internal/handler"
	"custodian/internal/infrastructure/cache"
	"custodian/internal/infrastructure/chain"
	"custodian/internal/infrastructure/database"
	"custodian/internal/infrastructure/mq"
	"custodian/internal/job"
	"custodian/internal/notify"
	"custodian/internal/oracle"
	"custodian/internal/repository"
	"custodian/internal/service"
	"custodian/pkg/idgen"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const outboxInterval = 5 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.LoadConfig("config/config.yaml")

	idgen.Init(1)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	producer := mq.InitKafka(&cfg.Kafka)
	defer producer.Close()

	chainClient, err := chain.NewEthereumClient(&cfg.Chain)
	if err != nil {
		logger.Fatal("init chain client", zap.Error(err))
	}

	prices := oracle.New(
		oracle.SourcesFromConfig(&cfg.Oracle),
		cfg.Oracle.SoftTTL,
		cfg.Oracle.HardStaleness,
		logger,
	)

	var tgAPI *tgbotapi.BotAPI
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Telegram.Enabled {
		tgAPI, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal("init telegram bot", zap.Error(err))
		}
		notifier = notify.NewTelegramNotifier(tgAPI, logger)
	}

	accountService := service.NewAccountService(db, cfg, logger)
	depositService := service.NewDepositService(db, cfg, chainClient, prices, notifier, logger)
	withdrawService := service.NewWithdrawService(db, redisClient, cfg, chainClient, prices, notifier, logger)
	webhookService := service.NewWebhookService(db, cfg, prices, notifier, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconcileJob := job.NewDepositReconcileJob(depositService, cfg.Business.ReconcileInterval, logger)
	go reconcileJob.Start(ctx)

	outboxJob := job.NewOutboxSenderJob(repository.NewOutboxRepository(db), producer, outboxInterval, logger)
	go outboxJob.Start(ctx)

	if tgAPI != nil {
		tgBot := bot.New(tgAPI, accountService, depositService, withdrawService, logger)
		go tgBot.Start(ctx)
	}

	h := handler.NewHandler(accountService, depositService, withdrawService, webhookService)
	router := handler.SetupRouter(h, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
