package validator

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lock-in/validator-node/internal/judge"
	"lock-in/validator-node/internal/processor"
	"lock-in/validator-node/internal/registry"
	"lock-in/validator-node/pkg/workflows"
)

func setupRouter(node *Node) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(node).RegisterRoutes(router)
	return router
}

func TestHandler_Health(t *testing.T) {
	d := newDevnet(t)
	node := d.node(t, &stubJudge{}, Config{})
	router := setupRouter(node)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "never synced")

	node.State().ApplyRegistry(registry.ValidatorInfo{Active: true, Reputation: 61, TotalValidations: 12})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, d.identity.Address(), report.Validator)
	assert.Equal(t, 61, report.Reputation)
	assert.Equal(t, int64(12), report.TotalValidations)
}

func TestHandler_Stats(t *testing.T) {
	d := newDevnet(t)
	node := d.node(t, &stubJudge{}, Config{})
	state := node.State()

	state.RecordResult(processor.Result{Stage: workflows.StageDone, Adjudication: &judge.AdjudicationResult{Degraded: true}})
	state.RecordResult(processor.Result{Stage: workflows.StageDone})
	state.RecordResult(processor.Result{
		Stage: workflows.StageFailed,
		Err:   &processor.StageError{Stage: workflows.StageVoting, Kind: processor.ErrVoteRejected, Err: errors.New("closed")},
	})

	w := httptest.NewRecorder()
	setupRouter(node).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats StatsReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(1), stats.Degraded)
	assert.Equal(t, 0, stats.InFlight)
}
