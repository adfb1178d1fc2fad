package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/edutech-rw/asset-api/api/swagger"
	"github.com/edutech-rw/asset-api/internal/db"
	"github.com/edutech-rw/asset-api/internal/handler"
	"github.com/edutech-rw/asset-api/internal/middleware"
	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/internal/repository"
	"github.com/edutech-rw/asset-api/internal/service"
	"github.com/edutech-rw/asset-api/pkg/cache"
	"github.com/edutech-rw/asset-api/pkg/config"
	"github.com/edutech-rw/asset-api/pkg/database"
	"github.com/edutech-rw/asset-api/pkg/logger"
	"github.com/edutech-rw/asset-api/pkg/mailer"
	corsmiddleware "github.com/edutech-rw/asset-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edutech-rw/asset-api/pkg/middleware/requestid"
	"github.com/edutech-rw/asset-api/pkg/storage"
)

// @title EdTech Asset API
// @version 1.0.0
// @description Device and application tracking for the school device program
// @BasePath /api/v1
// @schemes http

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

	sqlDB, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer sqlDB.Close() //nolint:errcheck

	if err := db.Migrate(ctx, sqlDB); err != nil {
		logr.Sugar().Fatalw("failed to run migrations", "error", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, analytics cache disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	var sender mailer.Sender
	if cfg.Notifications.Enabled {
		smtp, err := mailer.NewSMTP(cfg.SMTP)
		if err != nil {
			logr.Sugar().Warnw("smtp unavailable, notifications will be logged only", "error", err)
		} else {
			sender = smtp
		}
	}

	letters, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	userRepo := repository.NewUserRepository(sqlDB)
	schoolRepo := repository.NewSchoolRepository(sqlDB)
	deviceRepo := repository.NewDeviceRepository(sqlDB)
	applicationRepo := repository.NewApplicationRepository(sqlDB)
	analyticsRepo := repository.NewAnalyticsRepository(sqlDB)

	notifications := service.NewNotificationService(sender, logr, cfg.Notifications)
	notifications.Start(ctx)
	defer notifications.Stop()

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, schoolRepo, nil, logr)
	schoolSvc := service.NewSchoolService(schoolRepo, nil, logr)
	deviceSvc := service.NewDeviceService(deviceRepo, schoolRepo, nil, logr)
	applicationSvc := service.NewApplicationService(applicationRepo, schoolRepo, deviceRepo, notifications, nil, logr)
	analyticsSvc := service.NewAnalyticsService(analyticsRepo, applicationSvc, cacheRepo, cfg.Analytics.CacheTTL, logr)
	automationSvc := service.NewAutomationService(deviceRepo, schoolRepo, notifications, cfg.Automation, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	schoolHandler := handler.NewSchoolHandler(schoolSvc)
	deviceHandler := handler.NewDeviceHandler(deviceSvc)
	applicationHandler := handler.NewApplicationHandler(applicationSvc, metricsSvc, letters, signer)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsSvc)
	automationHandler := handler.NewAutomationHandler(automationSvc, metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.MaxMultipartMemory = cfg.Uploads.MaxFileSizeBytes

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	r.GET("/files/letters", applicationHandler.DownloadSigned)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), authSvc, authHandler, userHandler, schoolHandler,
		deviceHandler, applicationHandler, analyticsHandler, automationHandler)

	if cfg.Automation.Enabled {
		go runAutomationLoop(ctx, automationSvc, metricsSvc, cfg.Automation.Interval, logr)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}

func registerRoutes(api *gin.RouterGroup, authSvc *service.AuthService,
	auth *handler.AuthHandler, users *handler.UserHandler, schools *handler.SchoolHandler,
	devices *handler.DeviceHandler, applications *handler.ApplicationHandler,
	analytics *handler.AnalyticsHandler, automation *handler.AutomationHandler) {

	api.POST("/auth/login", auth.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	secured.POST("/auth/logout", auth.Logout)
	secured.GET("/auth/me", auth.Me)

	staff := []models.UserRole{models.RoleSuperAdmin, models.RoleAdmin, models.RoleTechnician}
	admins := []models.UserRole{models.RoleSuperAdmin, models.RoleAdmin}
	everyone := []models.UserRole{models.RoleSuperAdmin, models.RoleAdmin, models.RoleTechnician, models.RoleSchool}

	apps := secured.Group("/applications")
	apps.POST("/new-device", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleSchool), middleware.ScopeToSchool(), applications.CreateNewDevice)
	apps.POST("/maintenance", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleSchool), middleware.ScopeToSchool(), applications.CreateMaintenance)
	apps.GET("", middleware.RequireRoles(everyone...), middleware.ScopeToSchool(), applications.List)
	apps.GET("/statistics", middleware.RequireRoles(staff...), applications.Statistics)
	apps.GET("/school/:schoolId", middleware.RequireRoles(everyone...), middleware.ScopeToSchool(), applications.ListBySchool)
	apps.GET("/:id", middleware.RequireRoles(everyone...), middleware.ScopeToSchool(), applications.Get)
	apps.PUT("/:id", middleware.RequireRoles(staff...), applications.Update)
	apps.DELETE("/:id", middleware.RequireRoles(admins...), applications.Delete)
	apps.POST("/:id/assign", middleware.RequireRoles(admins...), applications.Assign)
	apps.POST("/:id/approve", middleware.RequireRoles(admins...), applications.Approve)
	apps.POST("/:id/reject", middleware.RequireRoles(admins...), applications.Reject)
	apps.POST("/:id/start", middleware.RequireRoles(staff...), applications.Start)
	apps.POST("/:id/cancel", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleSchool), middleware.ScopeToSchool(), applications.Cancel)
	apps.POST("/:id/complete", middleware.RequireRoles(staff...), applications.Complete)
	apps.PUT("/:id/issues/:issueId", middleware.RequireRoles(staff...), applications.UpdateDeviceIssue)
	apps.POST("/:id/letter", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleSchool), middleware.ScopeToSchool(), applications.UploadLetter)
	apps.GET("/:id/letter", middleware.RequireRoles(everyone...), middleware.ScopeToSchool(), applications.DownloadLetter)
	apps.GET("/:id/letter/link", middleware.RequireRoles(staff...), applications.LetterLink)

	dev := secured.Group("/devices")
	dev.GET("", middleware.RequireRoles(everyone...), middleware.ScopeToSchool(), devices.List)
	dev.GET("/:id", middleware.RequireRoles(everyone...), middleware.ScopeToSchool(), devices.Get)
	dev.POST("", middleware.RequireRoles(staff...), devices.Create)
	dev.PUT("/:id", middleware.RequireRoles(staff...), devices.Update)
	dev.DELETE("/:id", middleware.RequireRoles(admins...), devices.Delete)

	sch := secured.Group("/schools")
	sch.GET("", middleware.RequireRoles(everyone...), schools.List)
	sch.GET("/:id", middleware.RequireRoles(everyone...), schools.Get)
	sch.POST("", middleware.RequireRoles(admins...), schools.Create)
	sch.PUT("/:id", middleware.RequireRoles(admins...), schools.Update)
	sch.DELETE("/:id", middleware.RequireRoles(models.RoleSuperAdmin), schools.Delete)

	usr := secured.Group("/users")
	usr.Use(middleware.RequireRoles(admins...))
	usr.GET("", users.List)
	usr.GET("/:id", users.Get)
	usr.POST("", users.Create)
	usr.PUT("/:id", users.Update)
	usr.DELETE("/:id", users.Deactivate)

	rep := secured.Group("/analytics")
	rep.Use(middleware.RequireRoles(staff...))
	rep.GET("/categories", analytics.CategoryDistribution)
	rep.GET("/utilization", analytics.Utilization)
	rep.GET("/depreciation", analytics.Depreciation)
	rep.GET("/age", analytics.AgeBuckets)
	rep.GET("/export", analytics.ExportInventory)

	auto := secured.Group("/automation")
	auto.Use(middleware.RequireRoles(admins...))
	auto.GET("/rules", automation.Rules)
	auto.PUT("/rules/:id", automation.ToggleRule)
	auto.POST("/run/:routine", automation.RunRoutine)
}

// runAutomationLoop drives the periodic rules until the context is cancelled.
func runAutomationLoop(ctx context.Context, automation *service.AutomationService,
	metrics *service.MetricsService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results := automation.RunDue(ctx)
			for _, result := range results {
				metrics.RecordAutomationRun(string(result.Routine), result.Error == "")
			}
			logr.Sugar().Debugw("automation tick", "rules_run", len(results))
		}
	}
}
