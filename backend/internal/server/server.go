// Package server assembles the application: storage, caches, services and
// the gin router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/cache"
	"taskify/backend/internal/config"
	"taskify/backend/internal/database"
	"taskify/backend/internal/handlers"
	"taskify/backend/internal/middleware"
	"taskify/backend/internal/monitoring"
	"taskify/backend/internal/repositories"
	"taskify/backend/internal/services"
)

const sessionPurgeInterval = time.Hour

// Application holds all application dependencies and state
type Application struct {
	Config *config.Config
	Log    *logrus.Entry
	Pool   *database.DatabasePool
	Redis  *redis.Client
	Cache  *cache.MultiLevelCache
	Views  *handlers.Views
	Router *gin.Engine
	Server *http.Server

	TaskService     services.TaskService
	AuthService     *services.AuthServiceImpl
	RegisterService *services.RegisterServiceImpl
	AccountService  services.AccountService

	viewStore *cache.MemoryCache
}

// New connects to the database (and redis when enabled), migrates the
// schema and builds the router.
func New(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Application, error) {
	app := &Application{Config: cfg, Log: log}

	log.Info("🚀 Initializing Taskify...")
	log.Infof("📋 Environment: %s", cfg.Server.Environment)

	pool, err := database.NewDatabasePool(database.PoolConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	app.Pool = pool
	log.WithField("driver", pool.Driver()).Info("✅ Database connected and configured")

	if err := repositories.RunMigrations(pool.DB, migrationConfigFor(cfg, pool)); err != nil {
		app.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis, cfg.GetRedisAddr())
		if err != nil {
			log.WithError(err).Warn("⚠️  Redis unavailable (continuing with memory cache only)")
		} else {
			app.Redis = client
			redisCache = cache.NewRedisCache(client, "taskify:")
			log.Info("✅ Redis connected")
		}
	}
	app.Cache = cache.NewMultiLevelCache(redisCache, log)
	lists := cache.NewTaskListCache(app.Cache, cfg.Cache.TaskListTTL, log)

	users := repositories.NewUserRepository(pool.DB)
	sessions := repositories.NewSessionRepository(pool.DB)
	app.TaskService = services.NewTaskService(repositories.NewTaskRepository(pool.DB), lists, log)
	app.AuthService = services.NewAuthService(users, sessions, cfg.Auth, log)
	app.RegisterService = services.NewRegisterService(users, log)
	app.AccountService = services.NewAccountService(users, log)

	app.viewStore = cache.NewMemoryCache()
	app.Views = handlers.NewViews(app.viewStore, 0, log)

	monitoring.RegisterHealthCheck("database", pool.Health)
	monitoring.RegisterHealthCheck("cache", app.Cache.Health)

	log.Info("✅ All services initialized")

	app.setupRoutes()
	return app, nil
}

func migrationConfigFor(cfg *config.Config, pool *database.DatabasePool) *repositories.MigrationConfig {
	return &repositories.MigrationConfig{
		Driver:         pool.Driver(),
		MigrationsPath: cfg.Database.MigrationsPath,
		DBName:         cfg.Database.Name,
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
	}
}

// Rollback reverts the most recent schema migration. Only postgres keeps
// versioned migrations; sqlite databases are rejected.
func Rollback(cfg *config.Config, log *logrus.Entry) error {
	pool, err := database.NewDatabasePool(database.PoolConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer func() {
		if err := pool.Close(); err != nil {
			log.WithError(err).Warn("⚠️  Error closing database")
		}
	}()

	log.WithField("driver", pool.Driver()).Info("⏪ Rolling back last migration")
	return repositories.RollbackMigration(pool.DB, migrationConfigFor(cfg, pool))
}

func (app *Application) mutationLimiter() gin.HandlerFunc {
	perMin := app.Config.RateLimit.MutationsPerMin
	if perMin <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if app.Redis != nil {
		limiter := middleware.NewDistributedRateLimiter(app.Redis)
		return middleware.MutationsOnly(limiter.CreateMiddleware("mutations", &middleware.RateLimit{
			Rate:    perMin,
			Window:  time.Minute,
			KeyFunc: middleware.UserKeyFunc,
		}))
	}
	return middleware.MutationsOnly(middleware.RateLimiter(middleware.PerMinute(perMin), perMin))
}

func (app *Application) setupRoutes() {
	cfg := app.Config
	r := gin.New()
	r.SetHTMLTemplate(handlers.Templates())

	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(app.Log))
	r.Use(middleware.RecoveryWithLog(app.Log))
	r.Use(monitoring.MetricsMiddleware())
	r.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	r.Use(middleware.RateLimiter(middleware.PerMinute(cfg.RateLimit.RequestsPerMin), cfg.RateLimit.BurstSize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.CSRFHeaderName, middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health and monitoring endpoints (no auth required)
	r.GET("/health", monitoring.HealthHandler())
	r.GET("/ready", monitoring.ReadinessHandler())
	r.GET("/live", monitoring.LivenessHandler())
	r.GET("/metrics", monitoring.PrometheusHandler())
	r.GET("/metrics/app", monitoring.MetricsHandler())
	r.GET("/metrics/cache", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tasks": app.Cache.Stats(),
			"views": app.viewStore.Stats(),
		})
	})

	authenticate := middleware.Authenticate(app.AuthService, cfg.Auth.CookieName, app.Log)
	csrf := middleware.CSRF(cfg.Auth.SecureCookies)
	mutations := app.mutationLimiter()

	api := r.Group("/api", authenticate)

	authRoutes := api.Group("/auth")
	{
		authHandler := handlers.NewAuthHandler(app.AuthService, app.Log)
		registrationHandler := handlers.NewRegisterHandler(app.RegisterService, app.Log)

		authRoutes.POST("/register", registrationHandler.Registration)
		authRoutes.POST("/login", authHandler.Token)
		authRoutes.POST("/logout", middleware.RequireSession(), authHandler.Logout)
	}

	taskHandler := handlers.NewTaskHandler(app.TaskService, app.Log)
	taskRoutes := api.Group("/tasks", middleware.RequireSession(), csrf, mutations)
	{
		taskRoutes.POST("", taskHandler.CreateTask)
		taskRoutes.PUT("", taskHandler.UpdateTask)
		taskRoutes.DELETE("", taskHandler.DeleteTask)
		taskRoutes.GET("", taskHandler.ListTasks)
		taskRoutes.GET("/:id", taskHandler.GetTask)
	}
	api.GET("/validate/task", middleware.RequireSession(), taskHandler.ValidateField)

	pages := r.Group("", authenticate, csrf)
	{
		sessionPages := handlers.NewSessionPages(app.AuthService, app.RegisterService, app.AccountService, app.Views, cfg.Auth, app.Log)
		pages.GET("/", func(c *gin.Context) { c.Redirect(http.StatusSeeOther, "/tasks") })
		pages.GET("/sign-in", sessionPages.SignInPage)
		pages.POST("/sign-in", sessionPages.SignIn)
		pages.GET("/sign-up", sessionPages.SignUpPage)
		pages.POST("/sign-up", sessionPages.SignUp)
		pages.POST("/sign-out", sessionPages.SignOut)

		private := pages.Group("", middleware.RequirePageSession("/sign-in"), mutations)
		taskPages := handlers.NewPageHandler(app.TaskService, app.Views, cfg.Auth.SecureCookies, app.Log)
		private.GET("/tasks", taskPages.ListTasks)
		private.POST("/tasks", taskPages.CreateTask)
		private.GET("/tasks/:id", taskPages.ShowTask)
		private.POST("/tasks/:id", taskPages.UpdateTask)
		private.POST("/tasks/:id/delete", taskPages.DeleteTask)
		private.GET("/account", sessionPages.AccountPage)
		private.POST("/account", sessionPages.UpdateAccount)
	}

	app.Router = r
}

// purgeSessions removes expired session rows until ctx is done.
func (app *Application) purgeSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.AuthService.PurgeExpired(ctx)
			if err != nil {
				app.Log.WithError(err).Warn("⚠️  Session purge failed")
				continue
			}
			if n > 0 {
				app.Log.WithField("removed", n).Info("🧹 Expired sessions purged")
			}
		}
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (app *Application) Run(ctx context.Context) error {
	cfg := app.Config
	addr := cfg.GetServerAddr()

	app.Server = &http.Server{
		Addr:         addr,
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go app.purgeSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		app.Log.Infof("🚀 Server starting on %s", addr)
		app.Log.Infof("📊 Metrics available at http://%s/metrics", addr)
		app.Log.Infof("💚 Health check at http://%s/health", addr)
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.Log.Info("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	app.Log.Info("✅ Server stopped gracefully")
	return nil
}

// Close releases caches, redis and the database pool.
func (app *Application) Close() {
	app.Log.Info("🧹 Cleaning up resources...")

	if app.viewStore != nil {
		app.viewStore.Close()
	}
	if app.Cache != nil {
		if err := app.Cache.Close(); err != nil {
			app.Log.WithError(err).Warn("⚠️  Error closing cache")
		}
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			app.Log.WithError(err).Warn("⚠️  Error closing Redis")
		}
	}
	if app.Pool != nil {
		if err := app.Pool.Close(); err != nil {
			app.Log.WithError(err).Warn("⚠️  Error closing database")
		}
	}

	app.Log.Info("✅ Cleanup complete")
}
