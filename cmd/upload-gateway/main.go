package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/invoice-pipeline/internal/app"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("upload gateway exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := common.LoadConfig()
	if err != nil {
		return err
	}
	logger := common.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout := app.Layout(cfg.Storage)
	if err := layout.Init(); err != nil {
		return err
	}

	q, err := app.DialQueue(ctx, cfg.Queue, "upload-gateway", logger)
	if err != nil {
		logger.Error("failed to connect to queue", "error", err)
		return err
	}
	defer q.Close()

	gateway := ingest.NewGateway(layout, q, cfg.Server.AllowedExtensions, logger)
	handler := server.NewHandler(gateway, cfg.Server.MaxUploadBytes, logger, server.WithHealthCheck("broker", q))

	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("upload gateway listening", "addr", cfg.Server.HTTPAddr, "allowed", cfg.Server.AllowedExtensions)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var exitErr error
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	case <-q.Lost():
		// uploads would only pile up unqueued; exit so the supervisor restarts us
		exitErr = q.Healthy()
		logger.Error("broker connection lost, shutting down", "error", exitErr)
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(exitErr, err)
	}
	return exitErr
}
