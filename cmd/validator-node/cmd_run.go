package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lock-in/validator-node/internal/processor"
	"lock-in/validator-node/internal/registry"
	"lock-in/validator-node/internal/validator"
)

func newRunCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the validator node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, a)
		},
	}
}

func runNode(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger := a.logger
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	id, err := a.identity()
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("validator", id.Address()))

	reg := a.registry(id)
	if info, err := reg.CheckCompatibility(ctx, cfg.Registry.ContractConstraint); err != nil {
		if registry.IsRetryable(err) {
			logger.Warn("Registry unreachable at startup, will keep polling", zap.Error(err))
		} else {
			return fmt.Errorf("registry contract check failed: %w", err)
		}
	} else {
		logger.Info("Connected to registry",
			zap.String("url", cfg.Registry.URL),
			zap.String("contract_version", info.Version),
			zap.Int("quorum", info.Quorum))
	}

	store, err := a.store(ctx)
	if err != nil {
		return err
	}
	model, err := a.model()
	if err != nil {
		return err
	}
	j, err := a.journal(ctx)
	if err != nil {
		return err
	}

	proc := processor.New(store, a.judge(model), reg, j, nil, processor.Config{
		ValidatorID:   id.Address(),
		VoteTimeout:   cfg.Node.VoteTimeout,
		RetryAttempts: cfg.Node.RetryAttempts,
		RetryBackoff:  cfg.Node.RetryBackoff,
	}, logger)

	var sub validator.Subscriber
	if cfg.Registry.Subscribe {
		sub = reg
	}
	node := validator.NewNode(reg, sub, proc, j, validator.NewState(id.Address()), validator.Config{
		PollInterval:  cfg.Node.PollInterval,
		Workers:       cfg.Node.Workers,
		QueueSize:     cfg.Node.QueueSize,
		ShutdownGrace: cfg.Node.ShutdownGrace,
		HealthCheck:   cfg.Node.HealthCheck,
	}, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	validator.NewHandler(node).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Diagnostics server failed", zap.Error(err))
		}
	}()
	logger.Info("Diagnostics server started", zap.String("addr", srv.Addr))

	runErr := node.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Diagnostics server forced to shutdown", zap.Error(err))
	}
	return runErr
}
