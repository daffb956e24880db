// Package main runs the planning-poker HTTP server with WebSocket and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/planning-poker/backend/config"
	"github.com/planning-poker/backend/internal/middleware"
	"github.com/planning-poker/backend/internal/realtime"
	"github.com/planning-poker/backend/internal/sessions"
	"github.com/planning-poker/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	repo := sessions.NewRepository()
	hub := realtime.NewHub(logger)
	sessionHandler := sessions.NewHandler(repo, hub, logger)

	// Idle session eviction, off by default (SESSION_TTL_MINUTES=0): the
	// reference behavior keeps sessions for the process lifetime.
	if cfg.Session.TTLMinutes > 0 {
		ttl := time.Duration(cfg.Session.TTLMinutes) * time.Minute
		interval := time.Duration(cfg.Session.CleanupIntervalMinutes) * time.Minute
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for range ticker.C {
				if count := repo.CleanupIdle(ttl); count > 0 {
					logger.Info("evicted idle sessions", zap.Int("count", count))
				}
			}
		}()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Sessions and stories
	router.POST("/session", sessionHandler.Create)
	session := router.Group("/session/:id")
	{
		session.GET("", sessionHandler.GetByID)
		session.GET("/stories", sessionHandler.ListStories)
		session.POST("/story", sessionHandler.AddStory)
		session.DELETE("/story/:storyId", sessionHandler.DeleteStory)
		session.POST("/stories/import", sessionHandler.ImportStories)
		session.GET("/stories/export", sessionHandler.ExportStories)
	}

	// WebSocket (session id in query)
	router.GET("/ws", realtime.ServeWs(hub, repo, cfg.Deck.Cards, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
