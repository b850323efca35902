package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Amineeeeee523/khalilos/internal/config"
	"github.com/Amineeeeee523/khalilos/internal/db"
	"github.com/Amineeeeee523/khalilos/internal/gateway"
	httpHandlers "github.com/Amineeeeee523/khalilos/internal/http/handlers"
	httpRouter "github.com/Amineeeeee523/khalilos/internal/http/router"
	"github.com/Amineeeeee523/khalilos/internal/logger"
	"github.com/Amineeeeee523/khalilos/internal/repository"
	"github.com/Amineeeeee523/khalilos/internal/service"
	"github.com/Amineeeeee523/khalilos/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	paymee := gateway.NewPaymeeClient(cfg.PaymeeBaseURL, cfg.PaymeeAPIKey, cfg.PaymeeTimeout)

	// Репозитории.
	milestoneRepo := repository.NewMilestoneRepository(dbConn)
	jobRepo := repository.NewJobRepository(dbConn)
	auditRepo := repository.NewAuditRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub()
	go hub.Run()
	notifier := ws.NewPaymentNotifier(hub)

	// Пайплайн выплат и планировщик ретраев.
	captureService := service.NewCaptureService(milestoneRepo, paymee, notifier, int(cfg.CaptureQueueSize))
	captureService.Start(ctx)

	scheduler := service.NewScheduler(
		milestoneRepo,
		captureService,
		cfg.CaptureRetryInterval,
		cfg.TimeoutSweepInterval,
		cfg.StaleAfter,
	)
	scheduler.Start(ctx)

	// Основной escrow сервис.
	escrowService := service.NewEscrowService(milestoneRepo, jobRepo, auditRepo, paymee, captureService, notifier)

	// HTTP хэндлеры.
	escrowHandler := httpHandlers.NewEscrowHandler(escrowService, userRepo)
	webhookHandler := httpHandlers.NewWebhookHandler(escrowService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, escrowHandler, webhookHandler, wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
