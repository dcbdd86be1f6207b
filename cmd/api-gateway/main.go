package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/noah-isme/krs-api/api/swagger"
	"github.com/noah-isme/krs-api/internal/handler"
	"github.com/noah-isme/krs-api/internal/middleware"
	"github.com/noah-isme/krs-api/internal/repository"
	"github.com/noah-isme/krs-api/internal/service"
	"github.com/noah-isme/krs-api/pkg/cache"
	"github.com/noah-isme/krs-api/pkg/config"
	"github.com/noah-isme/krs-api/pkg/database"
	"github.com/noah-isme/krs-api/pkg/lock"
	"github.com/noah-isme/krs-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/krs-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/krs-api/pkg/middleware/requestid"
	"github.com/noah-isme/krs-api/pkg/tracing"
)

// @title KRS API
// @version 1.0.0
// @description Course registration (KRS) service for students
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.NewProvider(tracing.Config{Enabled: cfg.Tracing.Enabled, ServiceName: cfg.Tracing.ServiceName})
	if err != nil {
		logr.Fatal("failed to init tracing", zap.Error(err))
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		if cfg.Lock.Enabled {
			logr.Fatal("section lease requires redis", zap.Error(err))
		}
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	students := repository.NewStudentRepository(db)
	sections := repository.NewSectionRepository(db)
	periods := repository.NewPeriodRepository(db)
	registrations := repository.NewRegistrationRepository(db)

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Cache.PeriodTTL, logr, cfg.Cache.Enabled && redisClient != nil)

	txRunner := database.NewTxRunner(db, database.TxConfig{
		Timeout:    cfg.KRS.TxTimeout,
		MaxRetries: cfg.KRS.TxMaxRetries,
		OnRetry: func(int, error) {
			metrics.RecordTxRetry()
		},
	}, logr)

	enrollmentCfg := service.EnrollmentConfig{
		LockEnabled:    cfg.Lock.Enabled,
		LockTTL:        cfg.Lock.TTL,
		LockAutoExtend: cfg.Lock.AutoExtend,
	}
	var locker *lock.Manager
	if cfg.Lock.Enabled {
		locker = lock.NewManager(redisClient, logr,
			lock.WithAttempts(cfg.Lock.Attempts),
			lock.WithBackoff(cfg.Lock.BaseDelay, cfg.Lock.Growth))
	}

	periodSvc := service.NewPeriodService(periods, cacheSvc, service.PeriodConfig{SharedTTL: cfg.Cache.PeriodTTL, LocalTTL: cfg.Cache.LocalTTL}, logr)
	eligibilitySvc := service.NewEligibilityService(students, periodSvc, logr)
	var enrollmentSvc *service.EnrollmentService
	if locker != nil {
		enrollmentSvc = service.NewEnrollmentService(students, sections, registrations, periodSvc, txRunner, locker, metrics, enrollmentCfg, logr)
	} else {
		enrollmentSvc = service.NewEnrollmentService(students, sections, registrations, periodSvc, txRunner, nil, metrics, enrollmentCfg, logr)
	}
	querySvc := service.NewRegistrationQueryService(students, periodSvc, eligibilitySvc, registrations, sections, cacheSvc, cfg.Cache.CatalogTTL, logr)
	studentSvc := service.NewStudentService(students, periodSvc, registrations, logr)
	exportSvc := service.NewExportService(querySvc, studentSvc, logr, nil, nil)
	authSvc := service.NewAuthService(students, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	authHandler := handler.NewAuthHandler(authSvc)
	krsHandler := handler.NewKRSHandler(enrollmentSvc, querySvc, exportSvc, validate)
	scheduleHandler := handler.NewScheduleHandler(querySvc, validate)
	studentHandler := handler.NewStudentHandler(studentSvc)
	dependencies := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		dependencies["redis"] = pingRedis(redisClient)
	}
	metricsHandler := handler.NewMetricsHandler(metrics, dependencies)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	secured.GET("/students/me/summary", studentHandler.Summary)
	secured.GET("/schedules/offered", scheduleHandler.Offered)
	secured.POST("/schedules/status-batch", scheduleHandler.StatusBatch)

	krs := secured.Group("/krs")
	krs.GET("/requirements", krsHandler.Requirements)
	krs.GET("/classes-taken", krsHandler.ClassesTaken)
	krs.GET("/card", krsHandler.Card)

	writes := krs.Group("")
	if cfg.KRS.WindowEnforced {
		writes.Use(middleware.EnrollmentWindow(periodSvc, campusLocation(cfg.KRS.Timezone, logr), nil))
	}
	writes.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	writes.POST("/take", krsHandler.Take)
	writes.POST("/remove", krsHandler.Remove)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logr.Warn("tracer shutdown failed", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

func pingRedis(client *redis.Client) handler.PingFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func campusLocation(name string, logr *zap.Logger) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logr.Warn("unknown KRS timezone, using local time", zap.String("timezone", name), zap.Error(err))
		return time.Local
	}
	return loc
}
