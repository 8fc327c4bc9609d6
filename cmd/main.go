package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"studio-backend/internal/agents"
	"studio-backend/internal/backend"
	"studio-backend/internal/config"
	"studio-backend/internal/dispatch"
	"studio-backend/internal/handler"
	"studio-backend/internal/model"
	"studio-backend/internal/service"
	"studio-backend/internal/storage"
	"studio-backend/internal/stream"
	"studio-backend/internal/tools"
	"studio-backend/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path of the config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx := context.Background()

	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Init(); err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	chatModel, err := model.NewChatModel(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create chat model: %v", err)
	}

	backends := backend.NewSet(cfg, backend.NewChatText(chatModel))

	servers := tools.LoadServers(ctx, cfg.MCP)
	defer tools.CloseServers(servers)
	serverNames := make([]string, 0, len(servers))
	for _, s := range servers {
		serverNames = append(serverNames, s.Name)
	}

	hub := stream.NewHub(0)
	defer hub.Close()

	chatService := service.NewChatService(cfg, service.Deps{
		Store:      store,
		Hub:        hub,
		Registry:   agents.NewRegistry(ctx, backends, servers),
		Backends:   backends,
		Dispatcher: dispatch.NewLLM(chatModel),
		MCPServers: serverNames,
	})
	chatService.Start()

	chatHandler := handler.NewChatHandler(chatService)
	libraryHandler := handler.NewLibraryHandler(service.NewLibraryService(backends.Media), hub)

	router := setupRouter(cfg, chatHandler, libraryHandler)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("Server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := chatService.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Unfinished turns at shutdown: %v", err)
	}
	logger.Info("Server stopped")
}

func setupRouter(cfg *config.Config, chatHandler *handler.ChatHandler, libraryHandler *handler.LibraryHandler) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	api := router.Group("/api")
	chatHandler.RegisterRoutes(api)
	libraryHandler.RegisterRoutes(api)
	return router
}
