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

	"lock-in/validator-node/internal/registry"
)

func newDevnetCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		addr       string
		quorum     int
		threshold  int
		validators []string
	)
	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Serve an in-memory reference registry for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ledger := registry.NewLedger(registry.ConsensusPolicy{Quorum: quorum, ApprovalConfidence: threshold})
			for _, v := range validators {
				ledger.RegisterValidator(v)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(stdout, "devnet registry listening on %s (contract %s)\n", addr, registry.ContractVersion)
			return serveDevnet(ctx, addr, ledger, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8545", "Listen address")
	cmd.Flags().IntVar(&quorum, "quorum", 0, "Verdicts needed to complete a request (0 = simple majority)")
	cmd.Flags().IntVar(&threshold, "approval-confidence", 70, "Minimum mean confidence of approving verdicts")
	cmd.Flags().StringSliceVar(&validators, "validator", nil, "Validator address to pre-register (repeatable)")
	return cmd
}

func serveDevnet(ctx context.Context, addr string, ledger *registry.Ledger, logger *zap.Logger) error {
	hub := registry.NewHub(logger)
	defer hub.Close()

	router := gin.New()
	router.Use(gin.Recovery())
	registry.NewHandler(ledger, hub, logger).RegisterRoutes(&router.RouterGroup)

	srv := &http.Server{Addr: addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Deadlines pass without anyone asking; close them on a timer too.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			if n := ledger.ExpireOverdue(); n > 0 {
				logger.Info("Closed overdue requests", zap.Int("count", n))
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}
