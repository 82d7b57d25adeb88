package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/keshly/keshly/internal/async"
	"github.com/keshly/keshly/internal/auth"
	"github.com/keshly/keshly/internal/bootstrap"
	"github.com/keshly/keshly/internal/categorize"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/events"
	"github.com/keshly/keshly/internal/export"
	"github.com/keshly/keshly/internal/ingest"
	"github.com/keshly/keshly/internal/llm"
	profilesvc "github.com/keshly/keshly/internal/profiles"
	receiptsvc "github.com/keshly/keshly/internal/receipts"
	repo "github.com/keshly/keshly/internal/repository"
	"github.com/keshly/keshly/internal/server"
	"github.com/keshly/keshly/internal/stats"
)

func main() {
	cfg := common.LoadConfig()
	logger := bootstrap.Logger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("keshlyd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close(logger)

	users := repo.NewUserRepository(db, logger)
	profiles := repo.NewProfileRepository(db, logger)
	receipts := repo.NewReceiptRepository(db, logger)
	statsRepo := repo.NewStatsRepository(db, logger)

	completer, closeLLM, err := bootstrap.Completer(ctx, cfg.LLM, logger)
	if err != nil {
		return err
	}
	defer closeLLM()
	classifier := llm.NewClassifier(completer, logger)

	extractor, err := bootstrap.Extractor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	clock, err := bootstrap.Normalizer(cfg.Ingest, time.Now)
	if err != nil {
		return err
	}

	hints := categorize.NewSuggester(logger)
	if err := hints.Load(ctx, receipts); err != nil {
		logger.Warn("category hints unavailable", "error", err)
	}

	pub, err := events.NewPublisher(cfg.Events, logger)
	if err != nil {
		return err
	}
	dispatcher := events.NewDispatcher(pub, cfg.Events.RoutingKey, logger,
		async.WithWorkers(cfg.Events.Workers),
		async.WithQueueSize(512),
		async.WithProcessTimeout(30*time.Second),
	)

	flows := ingest.NewRegistry(func(user uuid.UUID) *ingest.Reconciler {
		return ingest.NewReconciler(ingest.Deps{
			Extractor:  extractor,
			Classifier: classifier,
			Receipts:   receipts,
			Session:    ingest.StaticUser(user),
		}, logger.With("user_id", user),
			ingest.WithNormalizer(clock),
			ingest.WithCompensation(cfg.Ingest.CompensateOrphans),
			ingest.WithHints(hints),
			ingest.WithSaveHook(hints.LearnReceipt),
			ingest.WithSaveHook(dispatcher.ReceiptSaved),
		)
	})

	authSvc := auth.NewService(cfg.Auth, users, profiles, auth.NewMailer(cfg.Mail, logger), logger)
	statsSvc := stats.NewService(statsRepo, profiles, receipts, clock, logger)

	httpSrv := server.NewHTTPServer(cfg.Server, server.Services{
		Auth:     authSvc,
		Profiles: profilesvc.NewService(profiles, logger),
		Receipts: receiptsvc.NewService(receipts, logger),
		Flows:    flows,
		Stats:    statsSvc,
		Export:   export.NewService(receipts, logger),
	}, logger)

	monitor := server.NewHealthMonitor(db, cfg.Server.HealthInterval, logger)
	grpcSrv := server.NewGRPCServer(authSvc, monitor, server.NewStatsServer(statsSvc, logger))
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Listen(cfg.Server.HTTPAddr) })
	g.Go(func() error {
		logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		if err := httpSrv.Shutdown(shCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		return dispatcher.Close(shCtx)
	})
	return g.Wait()
}
