package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/internal/handler"
	"github.com/noah-isme/trainer-marketplace-api/internal/repository"
	"github.com/noah-isme/trainer-marketplace-api/internal/service"
	"github.com/noah-isme/trainer-marketplace-api/pkg/cache"
	"github.com/noah-isme/trainer-marketplace-api/pkg/config"
	"github.com/noah-isme/trainer-marketplace-api/pkg/database"
	"github.com/noah-isme/trainer-marketplace-api/pkg/jobs"
	"github.com/noah-isme/trainer-marketplace-api/pkg/logger"
	"github.com/noah-isme/trainer-marketplace-api/pkg/meeting"
	"github.com/noah-isme/trainer-marketplace-api/pkg/payment"
	"github.com/noah-isme/trainer-marketplace-api/pkg/realtime"
)

// @title Trainer Marketplace API
// @version 1.0.0
// @description Enrollment lifecycle and class allocation for a training marketplace.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, logr); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Progress.CacheEnabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, progress cache disabled", zap.Error(err))
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	scheduleRepo := repository.NewClassScheduleRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	demoRepo := repository.NewDemoRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	registry := realtime.NewRegistry(logr, metricsSvc)
	notifier := service.NewNotificationService(registry, metricsSvc, logr)
	queue := jobs.NewQueue("notifications", notifier.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logr,
		Observe: func(_ jobs.Job, outcome string) {
			metricsSvc.RecordJob("notifications", outcome)
		},
	})
	notifier.Attach(queue)
	queue.Start(ctx)
	defer queue.Stop()

	meetings, err := meeting.New(ctx, cfg.Meeting, logr)
	if err != nil {
		return fmt.Errorf("init meeting provisioner: %w", err)
	}
	if cfg.Payment.RazorpayKeySecret == "" {
		logr.Warn("RAZORPAY_KEY_SECRET is empty, every payment confirmation will be rejected")
	}
	verifier := payment.NewRazorpayVerifier(cfg.Payment.RazorpayKeySecret)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Progress.CacheTTL, logr, cfg.Progress.CacheEnabled && redisClient != nil)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	completion := service.NewCompletionEvaluator(courseRepo, scheduleRepo, enrollmentRepo, logr)
	allocationSvc := service.NewAllocationService(
		userRepo,
		courseRepo,
		enrollmentRepo,
		scheduleRepo,
		meetings,
		cacheSvc,
		notifier,
		metricsSvc,
		validate,
		logr,
		service.AllocationConfig{
			MaxBatchSize:    cfg.Allocation.MaxBatchSize,
			ConflictRetries: cfg.Allocation.ConflictRetries,
			MeetingTimeout:  cfg.Meeting.Timeout,
		},
	)
	scheduleSvc := service.NewScheduleService(scheduleRepo, completion, cacheSvc, notifier, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, courseRepo, userRepo, verifier, cacheSvc, notifier, validate, logr)
	zone, err := time.LoadLocation(cfg.Meeting.TimeZone)
	if err != nil {
		logr.Warn("unknown marketplace time zone, using UTC", zap.String("time_zone", cfg.Meeting.TimeZone), zap.Error(err))
		zone = time.UTC
	}
	clock := service.NewSlotClock(zone, 30*time.Minute)
	availabilitySvc := service.NewAvailabilityService(availabilityRepo, userRepo, clock, validate, logr)
	demoSvc := service.NewDemoService(demoRepo, availabilityRepo, userRepo, courseRepo, meetings, notifier, metricsSvc, clock, validate, logr,
		service.DemoConfig{SessionDuration: cfg.Meeting.DefaultDuration, MeetingTimeout: cfg.Meeting.Timeout})
	courseSvc := service.NewCourseService(courseRepo, logr)

	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		readiness["redis"] = cacheRepo.Ping
	}

	router := newRouter(cfg, logr, routeDeps{
		tokens:       authSvc,
		auditWriter:  userRepo,
		metrics:      metricsSvc,
		auth:         handler.NewAuthHandler(authSvc),
		allocation:   handler.NewAllocationHandler(allocationSvc),
		schedule:     handler.NewScheduleHandler(scheduleSvc),
		enrollment:   handler.NewEnrollmentHandler(enrollmentSvc),
		course:       handler.NewCourseHandler(courseSvc),
		availability: handler.NewAvailabilityHandler(availabilitySvc),
		demo:         handler.NewDemoHandler(demoSvc),
		realtime:     handler.NewRealtimeHandler(authSvc, registry, cfg.CORS.AllowedOrigins, logr),
		observe:      handler.NewMetricsHandler(metricsSvc, readiness),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logr.Info("server shut down gracefully")
	return nil
}
