package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/orafaelscosta/music/internal/config"
	"github.com/orafaelscosta/music/internal/engine"
	"github.com/orafaelscosta/music/internal/handler"
	"github.com/orafaelscosta/music/internal/pipeline"
	"github.com/orafaelscosta/music/internal/progress"
	"github.com/orafaelscosta/music/internal/service"
	"github.com/orafaelscosta/music/internal/store"
	"github.com/orafaelscosta/music/internal/worker"
	ws "github.com/orafaelscosta/music/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Progress bus and WebSocket hub
	bus := progress.NewBus(redisClient)
	hub := ws.NewHub(time.Duration(cfg.Pipeline.RelayBackoffSecs) * time.Second)
	go hub.Run()
	go hub.RunRelay(ctx, bus)

	// Stores and clients
	projectStore := store.NewRedisProjectStore(redisClient)
	engineClient := engine.NewClient(&cfg.Engine)

	// Orchestrator over the step handler table
	steps := pipeline.NewSteps(engineClient, cfg.Storage.Path)
	orchestrator, err := pipeline.NewOrchestrator(projectStore, bus, steps.Handlers())
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	// Services
	taskTimeout := time.Duration(cfg.Pipeline.TaskTimeoutMinutes) * time.Minute
	pipelineService := service.NewPipelineService(projectStore, asynqClient, cfg.Storage.Path, taskTimeout)
	projectService := service.NewProjectService(projectStore)

	// Handlers
	pipelineHandler := handler.NewPipelineHandler(pipelineService, validate)
	projectHandler := handler.NewProjectHandler(projectService, validate)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API routes
	api := app.Group("/api")

	// Project routes
	projects := api.Group("/projects")
	projects.Post("/", projectHandler.Create)
	projects.Get("/:projectId", projectHandler.Get)
	projects.Delete("/:projectId", projectHandler.Delete)

	// Pipeline routes
	pipelineGroup := api.Group("/pipeline")
	pipelineGroup.Post("/quick-start", pipelineHandler.QuickStart)
	pipelineGroup.Post("/:projectId/start", pipelineHandler.Start)
	pipelineGroup.Post("/:projectId/step/:step", pipelineHandler.Step)
	pipelineGroup.Get("/:projectId/status", pipelineHandler.Status)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/projects/:projectId", websocket.New(func(c *websocket.Conn) {
		projectID := c.Params("projectId")
		hub.HandleConnection(c, projectID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, orchestrator)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, orchestrator *pipeline.Orchestrator) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Pipeline.Concurrency,
			Queues: map[string]int{
				"pipeline":    8,
				"maintenance": 2,
			},
		},
	)

	pipelineWorker := worker.NewPipelineWorker(orchestrator)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePipelineFull, pipelineWorker.ProcessFullPipeline)
	mux.HandleFunc(service.TaskTypePipelineStep, pipelineWorker.ProcessStep)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
