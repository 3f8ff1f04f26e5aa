package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lock-in/validator-node/internal/config"
	"lock-in/validator-node/internal/journal"
	"lock-in/validator-node/internal/judge"
	"lock-in/validator-node/internal/logging"
	"lock-in/validator-node/internal/registry"
	"lock-in/validator-node/pkg/security"
	"lock-in/validator-node/pkg/storage"
)

// app holds the configuration and logger shared by subcommands, plus
// whatever they open that must be closed on exit.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	closers []func()
}

func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	logger, err := logging.New(cfg.Environment, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func (a *app) identity() (*security.Identity, error) {
	return security.NewIdentity(a.cfg.Validator.SecretKey)
}

// store builds the artifact client with every configured upload backend in
// order: local IPFS node, Pinata, S3 archive.
func (a *app) store(ctx context.Context) (storage.IPFSClient, error) {
	sc := a.cfg.Storage

	var uploaders []storage.Uploader
	if sc.IPFSAPIURL != "" {
		uploaders = append(uploaders, storage.NewKuboUploader(sc.IPFSAPIURL))
	}
	if sc.PinataJWT != "" {
		uploaders = append(uploaders, storage.NewPinataUploader(sc.PinataURL, sc.PinataJWT))
	}
	if sc.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Region:          sc.S3.Region,
			Endpoint:        sc.S3.Endpoint,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, storage.NewS3Archive(client, sc.S3.Bucket, sc.S3.Prefix))
	}
	if sc.AllowMockUploads {
		a.logger.Warn("Mock uploads enabled, reasoning may not be retrievable by others")
	}

	var cache storage.PayloadCache
	if sc.Redis.Addr != "" {
		rc := storage.NewRedisPayloadCache(sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB, sc.Redis.TTL)
		if err := rc.Ping(ctx); err != nil {
			a.logger.Warn("Payload cache unavailable, continuing without it", zap.Error(err))
			rc.Close()
		} else {
			cache = rc
			a.closers = append(a.closers, func() { rc.Close() })
		}
	}

	return storage.NewIPFSClient(storage.ClientConfig{
		Gateways:         sc.Gateways,
		FetchTimeout:     sc.FetchTimeout,
		UploadTimeout:    sc.UploadTimeout,
		AllowMockUploads: sc.AllowMockUploads,
	}, uploaders, cache, a.logger), nil
}

func (a *app) model() (judge.ModelClient, error) {
	mc := a.cfg.Model
	return judge.NewModelClient(mc.Provider, mc.URL, mc.Name, mc.APIKey)
}

func (a *app) judge(model judge.ModelClient) *judge.Judge {
	mc := a.cfg.Model
	return judge.NewJudge(model, judge.Config{
		Timeout:     mc.Timeout,
		Temperature: mc.Temperature,
		TopP:        mc.TopP,
		MaxTokens:   mc.MaxTokens,
	}, a.logger)
}

func (a *app) registry(signer security.Signer) *registry.Client {
	rc := a.cfg.Registry
	return registry.NewClient(registry.ClientConfig{
		BaseURL:           rc.URL,
		Timeout:           rc.Timeout,
		RequestsPerSecond: rc.RequestsPerSecond,
		Burst:             rc.Burst,
	}, signer, a.logger)
}

func (a *app) journal(ctx context.Context) (journal.Journal, error) {
	if a.cfg.Database.URL == "" {
		a.logger.Info("No journal database configured, keeping vote journal in memory")
		return journal.NewMemory(), nil
	}
	j, db, err := journal.Open(ctx, a.cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { db.Close() })
	return j, nil
}
