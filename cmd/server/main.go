package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelminds/gradeboard/internal/alert"
	"github.com/modelminds/gradeboard/internal/chat"
	"github.com/modelminds/gradeboard/internal/config"
	"github.com/modelminds/gradeboard/internal/monitoring"
	"github.com/modelminds/gradeboard/internal/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if !cfg.MailConfigured() {
		slog.Warn("mail credentials not configured; alert dispatch disabled")
	}
	if !cfg.ChatConfigured() {
		slog.Warn("chat API key not configured; Ask-AI disabled")
	}

	sessions := session.NewManager(30 * time.Minute)
	defer sessions.Close()

	transport := alert.NewSMTPTransport(cfg.SMTPAddr(), cfg.SMTPHost, cfg.SenderEmail, cfg.SenderPassword)
	dispatcher := alert.NewDispatcher(transport, cfg.SenderEmail)
	chatClient := chat.NewClient(cfg.GroqAPIKey, cfg.ChatModel, cfg.ChatURL)

	srv := newServer(cfg, sessions, dispatcher, chatClient, monitoring.NewLogger())

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "data_path", cfg.DataPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited")
}
