package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, ledger *Ledger) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	hub := NewHub(zap.NewNop())
	NewHandler(ledger, hub, zap.NewNop()).RegisterRoutes(&router.RouterGroup)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, hub
}

func TestClient_EndToEndVote(t *testing.T) {
	v1 := newIdentity(t)
	ledger, req := seededLedger(t, DefaultConsensusPolicy(), v1)
	srv, _ := newTestServer(t, ledger)

	client := NewClient(ClientConfig{BaseURL: srv.URL}, v1, zap.NewNop())
	ctx := context.Background()

	pending, err := client.ListPendingFor(ctx, v1.Address())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
	assert.Equal(t, []string{v1.Address()}, pending[0].SelectedValidators)
	assert.False(t, pending[0].Deadline.IsZero())

	goal, err := client.GetGoal(ctx, pending[0].GoalID)
	require.NoError(t, err)
	assert.Equal(t, "Code daily", goal.Title)

	ack, err := client.CastVote(ctx, req.ID, true, 87, "bafyreasoning")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, ack.Status)
	assert.Equal(t, OutcomeApproved, ack.Outcome)

	_, err = client.CastVote(ctx, req.ID, true, 87, "bafyreasoning")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyVoted))
	assert.True(t, IsRejection(err))
	assert.False(t, IsRetryable(err))

	info, err := client.GetValidator(ctx, v1.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.TotalValidations)
}

func TestClient_ApplicationErrors(t *testing.T) {
	v1 := newIdentity(t)
	ledger, _ := seededLedger(t, DefaultConsensusPolicy(), v1)
	srv, _ := newTestServer(t, ledger)
	client := NewClient(ClientConfig{BaseURL: srv.URL}, v1, zap.NewNop())

	_, err := client.GetGoal(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownGoal)

	_, err = client.CastVote(context.Background(), 999, true, 50, "bafyreasoning")
	assert.ErrorIs(t, err, ErrUnknownRequest)

	outsider := NewClient(ClientConfig{BaseURL: srv.URL}, newIdentity(t), zap.NewNop())
	_, err = outsider.CastVote(context.Background(), 1, true, 50, "bafyreasoning")
	assert.ErrorIs(t, err, ErrNotSelected)
}

func TestClient_TransportErrors(t *testing.T) {
	v1 := newIdentity(t)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	client := NewClient(ClientConfig{BaseURL: failing.URL}, v1, zap.NewNop())
	_, err := client.ListPendingFor(context.Background(), v1.Address())
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRejection(err))

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	client = NewClient(ClientConfig{BaseURL: deadURL, Timeout: time.Second}, v1, zap.NewNop())
	_, err = client.CastVote(context.Background(), 1, true, 50, "bafyreasoning")
	assert.True(t, IsRetryable(err))
}

func TestClient_CheckCompatibility(t *testing.T) {
	v1 := newIdentity(t)
	srv, _ := newTestServer(t, NewLedger(DefaultConsensusPolicy()))
	client := NewClient(ClientConfig{BaseURL: srv.URL}, v1, zap.NewNop())

	info, err := client.CheckCompatibility(context.Background(), "^1.0")
	require.NoError(t, err)
	assert.Equal(t, ContractVersion, info.Version)
	assert.Equal(t, 70, info.ApprovalConfidence)

	_, err = client.CheckCompatibility(context.Background(), "^2.0")
	assert.Error(t, err)
}

func TestClient_Subscribe(t *testing.T) {
	v1 := newIdentity(t)
	ledger := NewLedger(DefaultConsensusPolicy())
	ledger.PutGoal(Goal{ID: "g1", Title: "Run"})
	ledger.RegisterValidator(v1.Address())
	srv, hub := newTestServer(t, ledger)

	client := NewClient(ClientConfig{BaseURL: srv.URL}, v1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan VerificationRequest, 4)
	done := make(chan error, 1)
	go func() { done <- client.Subscribe(ctx, v1.Address(), events) }()

	// Wait until the feed is connected before creating the request.
	require.Eventually(t, func() bool {
		return hub.Subscribers() > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := ledger.SubmitProof("g1", "user", "bafyproof", []string{v1.Address()}, time.Hour)
	require.NoError(t, err)

	select {
	case req := <-events:
		assert.Equal(t, "g1", req.GoalID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}
