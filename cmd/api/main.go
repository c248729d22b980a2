package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/edit"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/events"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/gateway"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/orchestrator"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/registry"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/router"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/store"

	_ "github.com/bizmatters/agent-builder/site-orchestrator/docs" // swagger docs
)

// @title Site Orchestrator API
// @version 1.0
// @description Real-time website generation orchestrator
// @description
// @description Coordinates multi-phase site generation jobs against the Forge Engine
// @description and streams typed progress events to observer WebSocket connections.

// @contact.name API Support
// @contact.email support@bizmatters.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

func main() {
	// Initialize OpenTelemetry
	if err := initTracer(); err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}

	cfg := config.Load()

	// Connect to PostgreSQL with retry logic
	log.Println("Connecting to PostgreSQL database...")
	var pool *pgxpool.Pool
	var err error

	for i := 0; i < 10; i++ {
		pool, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err == nil {
			err = pool.Ping(context.Background())
			if err == nil {
				break
			}
		}
		log.Printf("Waiting for database... (attempt %d/10): %v", i+1, err)
		time.Sleep(3 * time.Second)
	}

	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}

	defer pool.Close()
	log.Println("Connected to PostgreSQL database")

	// Persistence and engine client
	st := store.NewPostgresStore(pool)
	engineClient := generation.NewForgeEngineClient(cfg.ForgeEngineURL, cfg.EngineTimeout)

	// Metrics
	genMetrics, err := metrics.NewGenerationMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	// Connection registry with background liveness sweeping
	reg := registry.New()
	livenessCtx, stopLiveness := context.WithCancel(context.Background())
	defer stopLiveness()
	go reg.RunLivenessLoop(livenessCtx, cfg.LivenessInterval)

	// Event emission and the generation pipeline
	emitter := events.NewEmitter(reg)
	editor := edit.NewValidator(engineClient, edit.NewClassifier(), edit.Config{
		MaxChangeFraction:    cfg.MaxChangeFraction,
		SimpleChangeFraction: cfg.SimpleChangeFraction,
		BackendTimeout:       30 * time.Second,
	})
	pipeline := orchestrator.New(st, engineClient, emitter, editor, genMetrics, orchestrator.Config{
		MaxRetries:  cfg.MaxRetries,
		PlanTimeout: cfg.PlanTimeout,
		UnitTimeout: cfg.UnitTimeout,
		PacingDelay: cfg.PacingDelay,
	})
	defer pipeline.Close()

	// Message routing and the gateway layer
	msgRouter := router.New(reg, pipeline)
	socketServer := gateway.NewSocketServer(reg, msgRouter, genMetrics)

	jwtManager, err := auth.NewJWTManager()
	if err != nil {
		log.Fatalf("Failed to initialize JWT manager: %v", err)
	}
	gatewayHandler := gateway.NewHandler(st, jwtManager, pool)

	// Setup Gin router
	ginRouter := gin.Default()

	// Add structured JSON logging middleware
	ginRouter.Use(structuredLoggingMiddleware())

	// Health checks MUST be at the root for the WebService standard
	ginRouter.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "healthy"}
		if !engineClient.IsHealthy(c.Request.Context()) {
			status["forge_engine"] = "unreachable"
		}
		c.JSON(http.StatusOK, status)
	})

	ginRouter.GET("/ready", func(c *gin.Context) {
		// Check database connectivity for readiness
		if err := pool.Ping(context.Background()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Observer WebSocket endpoint. Unauthenticated: observers are read-only
	// and room membership is explicit via join_project frames.
	ginRouter.GET("/ws", socketServer.Serve)

	// API routes
	api := ginRouter.Group("/api")

	// Public routes (no authentication required)
	api.POST("/auth/login", gatewayHandler.Login)

	// Swagger documentation (public)
	ginRouter.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Protected routes (require JWT authentication)
	protected := api.Group("")
	protected.Use(auth.RequireAuth(jwtManager))

	protected.GET("/me", gatewayHandler.GetCurrentUser)

	// Project routes
	protected.POST("/projects", gatewayHandler.CreateProject)
	protected.GET("/projects/:id", gatewayHandler.GetProject)
	protected.GET("/projects/:id/generation", gatewayHandler.GetActiveJob)
	protected.GET("/projects/:id/snapshot", gatewayHandler.GetSnapshot)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      ginRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting Site Orchestrator API server on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new work before closing sockets
	stopLiveness()
	pipeline.Close()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// initTracer initializes OpenTelemetry tracing
func initTracer() error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)

	return nil
}

// structuredLoggingMiddleware provides structured JSON logging for all requests
func structuredLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)

		logEntry := map[string]interface{}{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}

		if claims, ok := auth.ClaimsFromContext(c); ok {
			logEntry["user_id"] = claims.UserID
		}

		if len(c.Errors) > 0 {
			logEntry["errors"] = c.Errors.String()
		}

		logJSON, _ := json.Marshal(logEntry)
		log.Println(string(logJSON))
	}
}
