package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lock-in/validator-node/pkg/security"
)

// Registry is the validator's view of the on-chain registry.
type Registry interface {
	ListPendingFor(ctx context.Context, validatorID string) ([]VerificationRequest, error)
	GetGoal(ctx context.Context, goalID string) (*Goal, error)
	CastVote(ctx context.Context, requestID uint64, approved bool, confidence int, reasoningRef string) (*VoteAck, error)
	GetValidator(ctx context.Context, validatorID string) (*ValidatorInfo, error)
}

// ClientConfig configures the HTTP registry client.
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client talks to the registry gateway over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	signer  security.Signer
	logger  *zap.Logger
}

// NewClient creates a registry client that signs votes with signer.
func NewClient(cfg ClientConfig, signer security.Signer, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		signer:  signer,
		logger:  logger,
	}
}

func (c *Client) ListPendingFor(ctx context.Context, validatorID string) ([]VerificationRequest, error) {
	var out []VerificationRequest
	if err := c.do(ctx, http.MethodGet, "/v1/validators/"+url.PathEscape(validatorID)+"/pending", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetGoal(ctx context.Context, goalID string) (*Goal, error) {
	var out Goal
	if err := c.do(ctx, http.MethodGet, "/v1/goals/"+url.PathEscape(goalID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetValidator(ctx context.Context, validatorID string) (*ValidatorInfo, error) {
	var out ValidatorInfo
	if err := c.do(ctx, http.MethodGet, "/v1/validators/"+url.PathEscape(validatorID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CastVote signs and submits a ballot. A second vote for the same request
// comes back as a RejectionError wrapping ErrAlreadyVoted.
func (c *Client) CastVote(ctx context.Context, requestID uint64, approved bool, confidence int, reasoningRef string) (*VoteAck, error) {
	ballot := Ballot{
		RequestID:    requestID,
		ValidatorID:  c.signer.Address(),
		Approved:     approved,
		Confidence:   confidence,
		ReasoningRef: reasoningRef,
		SignedAt:     time.Now().UnixMilli(),
	}
	sig, err := c.signer.Sign(ballot)
	if err != nil {
		return nil, fmt.Errorf("failed to sign ballot: %w", err)
	}

	var ack VoteAck
	path := "/v1/requests/" + strconv.FormatUint(requestID, 10) + "/votes"
	if err := c.do(ctx, http.MethodPost, path, SignedVote{Ballot: ballot, Signature: sig}, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Info returns the registry contract description.
func (c *Client) Info(ctx context.Context) (*ContractInfo, error) {
	var out ContractInfo
	if err := c.do(ctx, http.MethodGet, "/v1/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckCompatibility verifies that the registry contract version satisfies
// constraint (e.g. "^1.0").
func (c *Client) CheckCompatibility(ctx context.Context, constraint string) (*ContractInfo, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}
	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid contract constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(info.Version)
	if err != nil {
		return info, fmt.Errorf("registry reported invalid version %q: %w", info.Version, err)
	}
	if !cons.Check(v) {
		return info, fmt.Errorf("registry contract %s does not satisfy %s", v, constraint)
	}
	return info, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s %s: status %s", ErrTransport, method, path, resp.Status)
	}
	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
		if eb.Code == "" {
			eb.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		}
		return rejection(eb.Code, eb.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTransport, path, err)
	}
	return nil
}
