package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/invoice-pipeline/internal/app"
	"github.com/joseph-ayodele/invoice-pipeline/internal/async"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

const serviceName = "invoice.ocr.Worker"

func main() {
	if err := run(); err != nil {
		slog.Error("ocr worker exited", "error", err)
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

	store, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}
	defer store.Close()

	processor, err := app.NewProcessor(cfg, layout, store.Invoices, logger)
	if err != nil {
		return err
	}

	q, err := app.DialQueue(ctx, cfg.Queue, "ocr-worker", logger)
	if err != nil {
		logger.Error("failed to connect to queue", "error", err)
		return err
	}
	defer q.Close()

	worker := async.NewWorker(q, processor,
		async.WithLogger(logger),
		async.WithRetryDelay(cfg.Worker.RetryDelay),
		async.WithOnResult(func(res pipeline.Result) {
			if res.Outcome.Kind == pipeline.OutcomeRejected {
				logger.Info("artifact rejected", "artifact", res.Name, "reason", res.Outcome.Reason)
			}
		}),
	)
	sweeper := ingest.NewSweeper(layout, q, cfg.Worker.SweepGrace, logger)

	lis, err := net.Listen("tcp", cfg.Server.HealthAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.HealthAddr, "error", err)
		return err
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("health server listening", "addr", cfg.Server.HealthAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		err := worker.Run(gctx)
		healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		if err != nil {
			return err
		}
		// a clean stop still ends the process
		return context.Canceled
	})
	g.Go(func() error { return sweeper.Run(gctx, cfg.Worker.SweepInterval) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-q.Lost():
			healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			logger.Error("broker connection lost, shutting down", "error", q.Healthy())
			return q.Healthy()
		}
	})
	g.Go(func() error {
		worker.LogStats(gctx, cfg.Worker.StatsInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		worker.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})

	err = g.Wait()
	stats := worker.Stats()
	logger.Info("ocr worker stopped",
		"received", stats.Received,
		"persisted", stats.Persisted,
		"rejected", stats.Rejected,
		"skipped", stats.Skipped)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
