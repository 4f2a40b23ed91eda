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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/lumeo-edu/learnpath-api/internal/handler"
	"github.com/lumeo-edu/learnpath-api/internal/middleware"
	"github.com/lumeo-edu/learnpath-api/internal/repository"
	"github.com/lumeo-edu/learnpath-api/internal/service"
	"github.com/lumeo-edu/learnpath-api/pkg/cache"
	"github.com/lumeo-edu/learnpath-api/pkg/config"
	"github.com/lumeo-edu/learnpath-api/pkg/database"
	"github.com/lumeo-edu/learnpath-api/pkg/export"
	"github.com/lumeo-edu/learnpath-api/pkg/logger"
	corsmiddleware "github.com/lumeo-edu/learnpath-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lumeo-edu/learnpath-api/pkg/middleware/requestid"
	"github.com/lumeo-edu/learnpath-api/pkg/storage"
)

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Summaries fall back to the database when the cache is away.
		logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	assetStore, err := storage.NewLocalStore(cfg.Assets.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init asset storage", "error", err)
	}
	assetSigner := storage.NewSignedURLSigner(cfg.Assets.SignedURLSecret, cfg.Assets.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	seriesRepo := repository.NewSeriesRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	lessonProgressRepo := repository.NewLessonProgressRepository(db)
	courseProgressRepo := repository.NewCourseProgressRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "learnpath-api",
	})

	lessonSvc := service.NewLessonProgressService(lessonProgressRepo, cfg.Progress.AutoCompleteThreshold, validate, logr)
	videoSvc := service.NewVideoProgressService(courseProgressRepo, courseRepo, cfg.Progress.IntroUnlockThreshold, validate, logr)
	unlockSvc := service.NewUnlockService(courseRepo, lessonRepo, lessonProgressRepo, courseProgressRepo, logr)
	aggregateSvc := service.NewAggregateService(lessonProgressRepo, lessonRepo, courseProgressRepo, enrollmentRepo, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var certSvc *service.CertificateService
	var certSigner *storage.SignedURLSigner
	var certStore *storage.LocalStore
	if cfg.Certificates.Enabled {
		certStore, err = storage.NewLocalStore(cfg.Certificates.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init certificate storage", "error", err)
		}
		certSigner = storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)
		certSvc = service.NewCertificateService(
			userRepo, seriesRepo, enrollmentRepo,
			export.NewCertificateRenderer(), certStore, certSigner,
			service.CertificateQueueConfig{
				Workers:    cfg.Certificates.WorkerConcurrency,
				MaxRetries: cfg.Certificates.WorkerRetries,
			},
			logr,
		)
		certSvc.Start(ctx)
		defer certSvc.Stop()
	}

	progressionDeps := service.ProgressionDeps{
		Lessons:        lessonSvc,
		Videos:         videoSvc,
		Unlocks:        unlockSvc,
		Aggregates:     aggregateSvc,
		LessonCatalog:  lessonRepo,
		CourseCatalog:  courseRepo,
		CourseProgress: courseProgressRepo,
		Enrollments:    enrollmentRepo,
		LessonCounts:   lessonRepo,
		Completed:      lessonProgressRepo,
		Cache:          cacheRepo,
		Metrics:        metricsSvc,
		CacheTTL:       cfg.Progress.SummaryCacheTTL,
		Logger:         logr,
	}
	if certSvc != nil {
		progressionDeps.Certificates = certSvc
	}
	progressionSvc := service.NewProgressionService(progressionDeps)

	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, seriesRepo, progressionSvc, validate, logr)
	catalogSvc := service.NewCatalogService(seriesRepo, courseRepo, lessonRepo, lessonSvc, assetSigner, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc, assetSigner, assetStore)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, cfg.Webhook.Secret)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)
	var progressHandler *handler.ProgressHandler
	if certSvc != nil {
		progressHandler = handler.NewProgressHandler(progressionSvc, certSvc, certSigner, certStore)
	} else {
		progressHandler = handler.NewProgressHandler(progressionSvc, nil, nil, nil)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)
	api.POST("/webhooks/payment", enrollmentHandler.PaymentWebhook)
	api.GET("/assets/:token", catalogHandler.DownloadAsset)
	api.GET("/certificates/:token", progressHandler.DownloadCertificate)

	protected := api.Group("", middleware.JWT(authSvc))
	protected.POST("/auth/logout", authHandler.Logout)
	protected.GET("/auth/me", authHandler.Me)

	protected.GET("/series", catalogHandler.ListSeries)
	protected.GET("/series/:id", catalogHandler.GetSeries)
	protected.GET("/courses/:id", catalogHandler.GetCourse)
	protected.GET("/lessons/:id/asset", catalogHandler.LessonAssetURL)

	protected.GET("/enrollments", enrollmentHandler.List)
	protected.POST("/series/:id/enroll", enrollmentHandler.Enroll)

	protected.POST("/series/:id/start", progressHandler.StartSeries)
	protected.GET("/series/:id/progress", progressHandler.GetEnrollmentProgress)
	protected.GET("/series/:id/certificate", progressHandler.CertificateURL)

	protected.GET("/courses/:id/progress", progressHandler.GetCourseProgress)
	protected.POST("/courses/:id/videos/:slot/progress", progressHandler.ReportCourseVideo)
	protected.POST("/courses/:id/videos/:slot/complete", progressHandler.CompleteCourseVideo)

	protected.GET("/lessons/:id/progress", progressHandler.GetLessonProgress)
	protected.POST("/lessons/:id/view", progressHandler.ViewLesson)
	protected.POST("/lessons/:id/complete", progressHandler.CompleteLesson)
	protected.POST("/lessons/:id/video-progress", progressHandler.ReportLessonVideo)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
