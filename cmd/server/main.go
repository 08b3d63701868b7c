package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"    // .env loading for local development
	"github.com/labstack/echo/v4" // Echo web framework
	"github.com/sirupsen/logrus"

	"github.com/moducoop/booking/internal/booking"
	"github.com/moducoop/booking/internal/config"
	"github.com/moducoop/booking/internal/database"
	"github.com/moducoop/booking/internal/handler"
	"github.com/moducoop/booking/internal/notify"
	"github.com/moducoop/booking/internal/payment"
	"github.com/moducoop/booking/internal/queue"
	"github.com/moducoop/booking/internal/repository"
	"github.com/moducoop/booking/internal/router"
	"github.com/moducoop/booking/internal/worker"
)

func main() {
	_ = godotenv.Load() // best effort; real deployments set the environment directly
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()
	if err := database.EnsureSchema(context.Background(), db); err != nil {
		log.Fatalf("schema bootstrap failed: %v", err)
	}

	// Redis is optional at runtime: when unreachable, rate limiting and
	// response caching degrade to pass-through middleware.
	rdb := config.NewRedisClient()
	if rdb == nil {
		logrus.Warn("redis unavailable, rate limiting and caching disabled")
	}

	programs := repository.NewProgramRepo(db)
	capacity := repository.NewCapacityRepo(db)
	bookings := repository.NewBookingRepo(db)
	refunds := repository.NewRefundRepo(db)

	gateway := newGateway(cfg)

	// No broker URL means no notification pipeline: the orchestrator
	// accepts a nil dispatcher and bookings proceed without events.
	var dispatcher booking.Dispatcher
	if cfg.RabbitURL != "" {
		dispatcher = notify.NewDispatcher(cfg.RabbitURL)
	} else {
		logrus.Warn("RABBITMQ_URL unset, notification events disabled")
	}
	flow := booking.New(programs, capacity, bookings, gateway, dispatcher, booking.Config{
		Provider:   cfg.PaymentProvider,
		Currency:   "KRW",
		SuccessURL: cfg.SuccessURL,
		FailURL:    cfg.FailURL,
	})

	// Notification consumer and the pending-payment sweep run for the
	// lifetime of the process.
	if cfg.RabbitURL != "" {
		go func() {
			if err := queue.StartNotificationConsumer(cfg.RabbitURL); err != nil {
				logrus.WithError(err).Error("notification consumer stopped")
			}
		}()
	}
	reconcile := worker.NewPaymentReconcileWorker(flow,
		time.Duration(cfg.ReconcileIntervalSec)*time.Second,
		time.Duration(cfg.PendingTimeoutSec)*time.Second)
	go reconcile.Start(context.Background())

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewProgramHandler(programs), rdb)
	router.RegisterMember(e,
		handler.NewBookingHandler(flow, bookings, refunds),
		handler.NewPaymentHandler(flow, cfg.PaymentWebhookSecret),
		cfg.JWTSecret, rdb)
	router.RegisterAdmin(e, handler.NewAdminHandler(programs, bookings, refunds, gateway), cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s provider=%s)", addr, cfg.Env, cfg.PaymentProvider)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

// newGateway selects the configured payment provider adapter.
func newGateway(cfg config.Config) payment.Gateway {
	timeout := time.Duration(cfg.PaymentTimeoutSec) * time.Second
	switch cfg.PaymentProvider {
	case payment.ProviderWidgetPay:
		return payment.NewWidgetPay(cfg.PaymentBaseURL, cfg.PaymentClientKey, cfg.PaymentSecretKey, timeout, cfg.PaymentMaxRetries)
	case payment.ProviderApprovePay:
		return payment.NewApprovePay(cfg.PaymentBaseURL, cfg.PaymentClientKey, cfg.PaymentSecretKey, timeout, cfg.PaymentMaxRetries)
	default:
		log.Fatalf("unknown payment provider: %q", cfg.PaymentProvider)
		return nil
	}
}
