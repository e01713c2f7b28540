package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tailor_hub/internal/assignment"
	"tailor_hub/internal/config"
	"tailor_hub/internal/delivery"
	"tailor_hub/internal/middleware"
	"tailor_hub/internal/order"
	"tailor_hub/internal/outbox"
	"tailor_hub/internal/payment"
	"tailor_hub/internal/queue"
	"tailor_hub/internal/router"
	"tailor_hub/internal/scheduler"
	"tailor_hub/internal/store"
	rediskey "tailor_hub/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config load")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	// 1. 数据库：建表
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("db open")
	}
	if err := store.Migrate(db); err != nil {
		log.WithError(err).Fatal("db migrate")
	}

	// 2. Redis：限流、任务锁、退款闸门、通知 stream、状态缓存
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable at startup, degraded paths will log and continue")
	}
	cancelPing()

	// 3. Kafka：通知 stream -> topic -> 历史落库
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic)
	defer producer.Close()
	relay := queue.NewRelay(rdb, producer, log, cfg.NotifyStream, cfg.NotifyStreamGroup, cfg.NotifyStreamConsumer)
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.NotifyTopic, cfg.NotifyGroupID, db, log)
	defer consumer.Close()

	notifier := queue.NewStreamNotifier(rdb, cfg.NotifyStream)
	statusCache := rediskey.NewOrderStatusCache(rdb, cfg.StatusCacheTTL)
	refundGuard := rediskey.NewRefundGuard(rdb)
	gateway := payment.NewHTTPGateway(cfg.PaymentAPIBase, cfg.PaymentKeyID, cfg.PaymentKeySecret, log)
	carrier := outbox.NewHTTPCarrier(cfg.CarrierAPIBase, cfg.CarrierAPIKey, log)
	if cfg.CarrierAPIBase == "" {
		log.Warn("CARRIER_API_BASE not set, outbox rows will be marked FAILED")
	}

	fees := assignment.SettingsFees{Default: assignment.Fees{
		CommissionPercent:  cfg.CommissionPercent,
		PlatformFeePercent: cfg.PlatformFeePercent,
		DeliveryCharge:     cfg.DeliveryCharge,
	}}
	dispatcher := outbox.NewDispatcher(db, carrier, log, cfg.OutboxBatch)
	expiry := scheduler.NewExpiry(db, log, cfg.ResponseWindow)

	deps := router.Deps{
		Orders:     order.NewService(db, log, notifier, statusCache),
		Ledger:     assignment.NewLedger(db, log, notifier, fees, cfg.ResponseWindow),
		Checkout:   payment.NewCheckout(db, gateway, log, cfg.PaymentCurrency, cfg.ResponseWindow),
		Finalizer:  payment.NewFinalizer(db, gateway, refundGuard, notifier, statusCache, log, cfg.PaymentWebhookSecret),
		Refunder:   payment.NewRefunder(db, gateway, notifier, statusCache, log),
		Tracker:    delivery.NewTracker(db, notifier, statusCache, log, cfg.CarrierWebhookSecret),
		Dispatcher: dispatcher,
		Limiter:    middleware.RedisRateLimit(rdb, log, cfg.APIRateLimit, cfg.APIRateWindow),
		AdminToken: cfg.AdminToken,
		Log:        log,
	}

	runner := scheduler.NewRunner(rediskey.NewJobLock(rdb), log,
		scheduler.Job{Name: "outbox_dispatch", Interval: cfg.OutboxInterval, Run: func(ctx context.Context) error {
			_, err := dispatcher.Dispatch(ctx)
			return err
		}},
		scheduler.Job{Name: "expire_pending_assignments", Interval: cfg.ExpiryInterval, Run: func(ctx context.Context) error {
			_, err := expiry.ExpirePendingAssignments(ctx)
			return err
		}},
		scheduler.Job{Name: "expire_accepted_quotes", Interval: cfg.ExpiryInterval, Run: func(ctx context.Context) error {
			_, err := expiry.ExpireAcceptedQuotes(ctx)
			return err
		}},
	)

	// 4. HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, deps)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		relay.Run(gctx)
		return nil
	})
	g.Go(func() error {
		consumer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		runner.Start(gctx)
		runner.Wait()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	log.Info("server stopped")
}
