package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"naviguard/backend/internal/api/handlers"
	"naviguard/backend/internal/api/routes"
	"naviguard/backend/internal/browser"
	"naviguard/backend/internal/credentials"
	"naviguard/backend/internal/executor"
	"naviguard/backend/internal/macro"
	"naviguard/backend/internal/observability"
	"naviguard/backend/internal/services"
	"naviguard/backend/pkg/auth"
	"naviguard/backend/pkg/database"
	"naviguard/backend/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface, browser sessions and scheduled replays",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	logger := observability.GetLogger()

	repo, closeDB, err := database.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeDB()

	sealer, err := utils.NewSealer(cfg.Credentials.SealingKey)
	if err != nil {
		return err
	}
	tokens, err := auth.NewManager(cfg.JWT.Secret, cfg.JWT.ExpireTime)
	if err != nil {
		return err
	}

	creds := credentials.NewService(repo, sealer, logger)
	hub := services.NewHub(logger)
	sessions := browser.NewManager(cfg, creds, repo, hub, logger)
	store := macro.NewStore(cfg.Macro.Directory, cfg.Macro.DefaultName, logger)
	runner := executor.NewRunner(logger)
	prompts := services.NewPromptBroker(hub, cfg.Replay.PromptTimeout, logger)
	replays := services.NewReplayService(store, runner, prompts, hub, executor.OptionsFromConfig(cfg.Replay), logger)

	h := handlers.New(handlers.Deps{
		Repo:        repo,
		Credentials: creds,
		Sessions:    sessions,
		Macros:      store,
		Replays:     replays,
		Prompts:     prompts,
		Hub:         hub,
		Tokens:      tokens,
		Logger:      logger,
	})

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      routes.SetupRoutes(h, tokens, logger),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting", zap.String("addr", srv.Addr), zap.String("macros", store.Dir()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	if cfg.Scheduler.Enabled {
		scheduler := services.NewScheduler(repo, replays, services.ManagerOpener{Manager: sessions}, logger)
		if err := scheduler.Start(gctx); err != nil {
			logger.Error("Failed to initialize scheduler", zap.Error(err))
		}
		syncer := services.NewScheduleSync(scheduler, cfg.Scheduler.SyncInterval, logger)
		g.Go(func() error { return syncer.Run(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			scheduler.Stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		runner.Stop()
		hub.Close()
		sessions.CloseAll()
		logger.Info("Server shutdown complete")
		return err
	})

	return g.Wait()
}
