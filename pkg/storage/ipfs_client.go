package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"go.uber.org/zap"
)

const maxPayloadBytes = 10 << 20

var (
	// ErrRetrievalFailed is the root of every fetch failure.
	ErrRetrievalFailed = errors.New("artifact retrieval failed")
	// ErrNotFound means no configured gateway resolved the hash.
	ErrNotFound = fmt.Errorf("%w: content not found", ErrRetrievalFailed)
	// ErrTimeout means every gateway exceeded the retrieval window.
	ErrTimeout = fmt.Errorf("%w: all gateways timed out", ErrRetrievalFailed)
	// ErrNoUploadBackend is returned by Upload when nothing can store the artifact.
	ErrNoUploadBackend = errors.New("no artifact upload backend configured")

	errGatewayNotFound = errors.New("gateway returned 404")
)

// ProofPayload is the evidence submitted with a verification request.
type ProofPayload struct {
	Text     string         `json:"text"`
	Images   []string       `json:"images,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// GatewayAttempt records one failed gateway lookup.
type GatewayAttempt struct {
	Gateway  string
	URL      string
	Err      error
	Duration time.Duration
}

// FetchResult is a successfully retrieved payload plus the failures that
// preceded it.
type FetchResult struct {
	Payload        *ProofPayload
	Gateway        string
	FailedAttempts []GatewayAttempt
}

// RetrievalError is returned when every gateway has been exhausted.
type RetrievalError struct {
	Hash     string
	Attempts []GatewayAttempt
	Kind     error
	Cause    error
}

func (e *RetrievalError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%v)", a.Gateway, a.Err))
	}
	msg := fmt.Sprintf("fetch %s: %v", e.Hash, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if len(parts) > 0 {
		msg += " [" + strings.Join(parts, " | ") + "]"
	}
	return msg
}

func (e *RetrievalError) Unwrap() error { return e.Kind }

// IPFSClient reads proof artifacts from and publishes reasoning artifacts to
// the content-addressed store.
type IPFSClient interface {
	Fetch(ctx context.Context, hash string) (*FetchResult, error)
	Upload(ctx context.Context, payload any) (string, error)
}

// ClientConfig configures the gateway client.
type ClientConfig struct {
	// Gateways are tried in order; the first is the primary.
	Gateways         []string
	FetchTimeout     time.Duration
	UploadTimeout    time.Duration
	AllowMockUploads bool
}

type gatewayClient struct {
	config    ClientConfig
	http      *http.Client
	uploaders []Uploader
	cache     PayloadCache
	logger    *zap.Logger
}

// NewIPFSClient creates a gateway client. cache may be nil.
func NewIPFSClient(cfg ClientConfig, uploaders []Uploader, cache PayloadCache, logger *zap.Logger) IPFSClient {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	gateways := make([]string, 0, len(cfg.Gateways))
	for _, gw := range cfg.Gateways {
		if gw = strings.TrimRight(strings.TrimSpace(gw), "/"); gw != "" {
			gateways = append(gateways, gw)
		}
	}
	cfg.Gateways = gateways
	return &gatewayClient{
		config:    cfg,
		http:      &http.Client{},
		uploaders: uploaders,
		cache:     cache,
		logger:    logger,
	}
}

// GatewayURL builds {gateway}/ipfs/{hash}.
func GatewayURL(gateway, hash string) string {
	return strings.TrimRight(gateway, "/") + "/ipfs/" + hash
}

func (c *gatewayClient) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	hash, err := NormalizeHash(ref)
	if err != nil {
		return nil, &RetrievalError{Hash: ref, Kind: ErrNotFound, Cause: err}
	}

	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, hash); ok {
			return &FetchResult{Payload: DecodeProofPayload(data), Gateway: "cache"}, nil
		}
	}

	result := &FetchResult{}
	for _, gw := range c.config.Gateways {
		if ctx.Err() != nil {
			break
		}
		url := GatewayURL(gw, hash)
		start := time.Now()
		data, err := c.get(ctx, url)
		if err != nil {
			result.FailedAttempts = append(result.FailedAttempts, GatewayAttempt{
				Gateway:  gw,
				URL:      url,
				Err:      err,
				Duration: time.Since(start),
			})
			c.logger.Warn("Gateway fetch failed",
				zap.String("hash", hash),
				zap.String("gateway", gw),
				zap.Error(err))
			continue
		}

		if c.cache != nil {
			c.cache.Set(ctx, hash, data)
		}
		result.Payload = DecodeProofPayload(data)
		result.Gateway = gw
		if len(result.FailedAttempts) > 0 {
			c.logger.Info("Retrieved artifact from fallback gateway",
				zap.String("hash", hash),
				zap.String("gateway", gw),
				zap.Int("failed_attempts", len(result.FailedAttempts)))
		}
		return result, nil
	}

	retErr := &RetrievalError{Hash: hash, Attempts: result.FailedAttempts, Kind: classify(result.FailedAttempts)}
	if len(result.FailedAttempts) == 0 {
		retErr.Cause = ctx.Err()
		if retErr.Cause == nil {
			retErr.Cause = errors.New("no gateways configured")
		}
	}
	c.logger.Error("Artifact retrieval exhausted all gateways",
		zap.String("hash", hash),
		zap.Int("attempts", len(result.FailedAttempts)),
		zap.Error(retErr))
	return nil, retErr
}

func (c *gatewayClient) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errGatewayNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
}

func classify(attempts []GatewayAttempt) error {
	if len(attempts) == 0 {
		return ErrRetrievalFailed
	}
	notFound, timeouts := 0, 0
	for _, a := range attempts {
		switch {
		case errors.Is(a.Err, errGatewayNotFound):
			notFound++
		case isTimeout(a.Err):
			timeouts++
		}
	}
	switch {
	case notFound == len(attempts):
		return ErrNotFound
	case timeouts == len(attempts):
		return ErrTimeout
	default:
		return ErrRetrievalFailed
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// DecodeProofPayload accepts a JSON proof document or, failing that, treats
// the body as plain proof text.
func DecodeProofPayload(data []byte) *ProofPayload {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var payload ProofPayload
		if err := json.Unmarshal(trimmed, &payload); err == nil && (payload.Text != "" || len(payload.Images) > 0) {
			return &payload
		}
	}
	return &ProofPayload{Text: string(data)}
}

// CanonicalJSON marshals v and applies RFC 8785 canonicalisation so that
// equal artifacts hash identically.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact: %w", err)
	}
	return jcs.Transform(raw)
}

func (c *gatewayClient) Upload(ctx context.Context, payload any) (string, error) {
	data, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}

	failures := make([]string, 0, len(c.uploaders))
	for _, u := range c.uploaders {
		uctx, cancel := context.WithTimeout(ctx, c.config.UploadTimeout)
		hash, err := u.Put(uctx, data)
		cancel()
		if err == nil {
			c.logger.Info("Uploaded artifact",
				zap.String("backend", u.Name()),
				zap.String("hash", hash))
			return hash, nil
		}
		c.logger.Warn("Artifact upload failed",
			zap.String("backend", u.Name()),
			zap.Error(err))
		failures = append(failures, fmt.Sprintf("%s: %v", u.Name(), err))
	}

	if c.config.AllowMockUploads {
		hash, err := ComputeCID(data)
		if err != nil {
			return "", err
		}
		c.logger.Warn("No upload backend available, using offline mock hash",
			zap.String("hash", hash))
		return hash, nil
	}
	if len(failures) == 0 {
		return "", ErrNoUploadBackend
	}
	return "", fmt.Errorf("artifact upload failed on all backends: %s", strings.Join(failures, "; "))
}
