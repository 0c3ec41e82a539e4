package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"automation-service/internal/automation-manager/api"
	amDB "automation-service/internal/automation-manager/db"
	amKafka "automation-service/internal/automation-manager/kafka"
	"automation-service/internal/automation-manager/repository"
	"automation-service/internal/automation-manager/services"
	"automation-service/pkg/config"
	gorm_db "automation-service/pkg/db"
	"automation-service/pkg/lock"
	"automation-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	log := logger.New(cfg)
	defer func() { _ = log.Sync() }()
	log.Info("Automation Manager starting...", zap.String("timezone", cfg.Evaluation.Timezone), zap.Duration("interval", cfg.Evaluation.Interval))

	appCtx, appCancel := context.WithCancel(context.Background())

	gormDB, err := gorm_db.NewGormDB(cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database initialized successfully", zap.String("type", cfg.Database.Type))

	if err := gorm_db.AutoMigrate(gormDB, amDB.Models()...); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	log.Info("Database migration successful")

	var publisher amKafka.Publisher = amKafka.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher = amKafka.NewKafkaPublisher(amKafka.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic))
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.Backend == config.LockBackendRedis {
		client, err := lock.NewRedisClient(appCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to Redis for automation locks", zap.Error(err))
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, cfg.Lock.TTL)
	}
	log.Info("Automation lock backend ready", zap.String("backend", cfg.Lock.Backend))

	automationRepo := repository.NewAutomationRepository(gormDB)
	workItemRepo := repository.NewWorkItemRepository(gormDB)
	workItemService := services.NewWorkItemService(workItemRepo, publisher)

	evaluationService := services.NewEvaluationService(automationRepo, workItemService, publisher,
		services.WithLocation(cfg.Evaluation.Location),
		services.WithLocker(locker),
		services.WithMaxConcurrency(cfg.Evaluation.MaxConcurrency),
		services.WithAutomationTimeout(cfg.Evaluation.AutomationTimeout),
		services.WithFinalizeTimeout(cfg.Evaluation.FinalizeTimeout),
	)

	schedulerService, err := services.NewSchedulerService(appCtx, evaluationService, cfg.Evaluation.Interval,
		gocron.WithLocation(cfg.Evaluation.Location),
		gocron.WithLogger(logger.NewGocronLogger(log)),
	)
	if err != nil {
		log.Fatal("Failed to create scheduler service", zap.Error(err))
	}
	if err := schedulerService.Start(); err != nil {
		log.Fatal("Failed to start scheduler service", zap.Error(err))
	}

	var approvalService *services.ApprovalService
	if cfg.Kafka.Enabled {
		reader := services.NewApprovalReader(cfg.Kafka.Brokers, cfg.Kafka.ApprovalTopic, cfg.Kafka.ApprovalGroupID)
		approvalService = services.NewApprovalService(automationRepo, reader)
		approvalService.StartConsuming(appCtx)
	}

	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(hlog.LevelInfo)

	h := server.Default(server.WithHostPorts(cfg.Server.Addr), server.WithExitWaitTime(cfg.Server.ExitWaitTime))
	api.RegisterRoutes(h.Engine,
		api.NewAutomationHandler(automationRepo),
		api.NewWorkItemHandler(workItemRepo),
		api.NewAdminHandler(evaluationService, schedulerService),
	)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		hlog.Infof("Received signal: %s. Initiating graceful shutdown...", sig)

		appCancel()

		shutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpShutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			hlog.Errorf("Hertz server shutdown error: %v", err)
		} else {
			hlog.Info("Hertz server gracefully stopped.")
		}

		schedulerService.Stop()

		if approvalService != nil {
			approvalService.Close()
			hlog.Info("Approval consumer closed.")
		}

		if err := publisher.Close(); err != nil {
			hlog.Errorf("Event publisher close error: %v", err)
		} else {
			hlog.Info("Event publisher closed.")
		}
		hlog.Info("Automation Manager gracefully shut down.")
	}()

	hlog.Infof("Automation Manager fully initialized and starting Hertz server on %s...", cfg.Server.Addr)
	h.Spin()

	log.Info("Automation Manager has been shut down")
}
