package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/flowchain/ccpm/internal/cache"
	"github.com/flowchain/ccpm/internal/eventbus"
	"github.com/flowchain/ccpm/internal/state"
	"github.com/flowchain/ccpm/internal/storage"
	"github.com/flowchain/ccpm/pkg/api/dto"
	"github.com/flowchain/ccpm/pkg/api/handlers"
	"github.com/flowchain/ccpm/pkg/api/middleware"
)

const version = "1.0.0"

func main() {
	log.Printf("Starting CCPM Scheduler Server v%s", version)

	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Database configuration from environment
	dbCfg := &storage.Config{
		Host:        getEnv("DB_HOST", "localhost"),
		Port:        getEnv("DB_PORT", "5432"),
		User:        getEnv("DB_USER", "ccpm"),
		Password:    getEnv("DB_PASSWORD", "ccpm_dev_password"),
		DBName:      getEnv("DB_NAME", "ccpm_scheduler"),
		SSLMode:     getEnv("DB_SSLMODE", "disable"),
		MaxConns:    25,
		MinConns:    5,
		MaxIdleTime: 5 * time.Minute,
		MaxLifetime: 30 * time.Minute,
	}

	// Create logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if env == "development" {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize database connection. The engine works without one; the
	// server just loses durable projects and listing.
	var repo storage.ProjectRepository
	db, err := storage.NewDB(dbCfg)
	if err != nil {
		logger.WithError(err).Warn("running without a database: projects will be in-memory only")
	} else {
		defer db.Close()

		migrateCfg := &storage.MigrateConfig{
			Host:     dbCfg.Host,
			Port:     dbCfg.Port,
			User:     dbCfg.User,
			Password: dbCfg.Password,
			DBName:   dbCfg.DBName,
			SSLMode:  dbCfg.SSLMode,
		}
		if err := storage.RunMigrations(migrateCfg, getEnv("MIGRATIONS_PATH", "./migrations")); err != nil {
			logger.WithError(err).Warn("failed to run migrations")
		}
		repo = storage.NewProjectRepository(db.DB)
	}

	// Initialize Redis-backed report cache
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379")),
	})
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var reportCache *cache.Cache
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("running without Redis: reports will be recomputed on every request")
	} else {
		reportCache = cache.New(cache.NewRedisStore(redisClient), cache.DefaultConfig())
	}

	// Initialize the event bus. Status transitions and buffer band changes
	// fan out over NATS for rendering collaborators.
	publishers := []state.EventPublisher{}
	busCfg := eventbus.DefaultConfig()
	busCfg.URL = getEnv("NATS_URL", busCfg.URL)
	busPublisher, natsConn, err := eventbus.Connect(busCfg, logger)
	if err != nil {
		logger.WithError(err).Warn("running without NATS: no events will be published")
	} else {
		defer natsConn.Close()
		publishers = append(publishers, busPublisher)
	}
	if db != nil {
		publishers = append(publishers, state.NewHistoryPublisher(db.DB))
	}
	stateManager := state.NewManager(state.NewMultiPublisher(publishers...))

	// Set Gin mode based on environment
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger(logger))

	projectHandler := handlers.NewProjectHandler(repo, reportCache, stateManager)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		services := map[string]string{
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		if db == nil {
			status = "degraded"
			services["database"] = "absent"
		} else if err := db.Health(c.Request.Context()); err != nil {
			status = "degraded"
			services["database"] = "unhealthy"
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			status = "degraded"
			services["redis"] = "unhealthy"
		}
		if natsConn == nil || !natsConn.IsConnected() {
			status = "degraded"
			services["nats"] = "disconnected"
		}

		c.JSON(200, dto.HealthResponse{
			Status:   status,
			Services: services,
		})
	})

	jwtConfig := middleware.DefaultJWTConfig()

	// Public routes
	public := router.Group("/api/v1")
	{
		public.GET("/status", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "ok",
				"version": version,
			})
		})
	}

	api := router.Group("/api/v1")
	api.Use(middleware.OptionalAuth(jwtConfig))
	api.Use(middleware.GlobalRateLimiter.RateLimit())

	projects := api.Group("/projects")
	{
		projects.POST("", projectHandler.CreateProject)
		projects.GET("", projectHandler.ListProjects)
		projects.GET("/:id/schedule", projectHandler.GetSchedule)
		projects.GET("/:id/report", projectHandler.GetReport)
		projects.GET("/:id/graph", projectHandler.GetGraphView)
		projects.POST("/:id/simulate", projectHandler.Simulate)
		projects.POST("/:id/tasks/:taskId/progress", projectHandler.UpdateTaskProgress)
	}

	log.Printf("Server listening on port %s in %s mode", port, env)
	if err := router.Run(fmt.Sprintf(":%s", port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
