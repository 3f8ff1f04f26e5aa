package judge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lock-in/validator-node/pkg/storage"
)

// MockModelClient is a mock implementation of the ModelClient interface
type MockModelClient struct {
	mock.Mock
}

func (m *MockModelClient) Model() string { return "llama3.2:3b" }

func (m *MockModelClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockModelClient) ListModels(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

var codingGoal = Goal{
	ID:          "7",
	Title:       "Code every day",
	Description: "Write code for at least 2 hours",
	GoalType:    "coding",
}

func TestAdjudicate_Approves(t *testing.T) {
	model := new(MockModelClient)
	model.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerateRequest) bool {
		return req.Temperature == 0.3 && req.Prompt == BuildPrompt(codingGoal, storage.ProofPayload{Text: "I coded for 2 hours"})
	})).Return(`{"approved": true, "confidence": 87, "reasoning": "Specific and plausible.", "manipulation_detected": false}`, nil)

	j := NewJudge(model, DefaultConfig(), zap.NewNop())
	result := j.Adjudicate(context.Background(), codingGoal, storage.ProofPayload{Text: "I coded for 2 hours"})

	assert.True(t, result.Approved)
	assert.Equal(t, 87, result.Confidence)
	assert.Equal(t, "Specific and plausible.", result.Reasoning)
	assert.False(t, result.Degraded)
	assert.Equal(t, "llama3.2:3b", result.Model)
	model.AssertExpectations(t)
}

func TestAdjudicate_TransportFailureRejects(t *testing.T) {
	model := new(MockModelClient)
	model.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	j := NewJudge(model, DefaultConfig(), zap.NewNop())
	result := j.Adjudicate(context.Background(), codingGoal, storage.ProofPayload{Text: "trust me"})

	assert.False(t, result.Approved)
	assert.Equal(t, 0, result.Confidence)
	assert.True(t, result.Degraded)
	assert.Contains(t, result.Reasoning, "connection refused")
}

func TestAdjudicate_MalformedOutput(t *testing.T) {
	model := new(MockModelClient)
	model.On("Generate", mock.Anything, mock.Anything).Return("I think this looks fine", nil)

	j := NewJudge(model, DefaultConfig(), zap.NewNop())
	result := j.Adjudicate(context.Background(), codingGoal, storage.ProofPayload{Text: "trust me"})

	assert.False(t, result.Approved)
	assert.Equal(t, 0, result.Confidence)
	assert.Equal(t, "I think this looks fine", result.Reasoning)
	assert.Equal(t, "I think this looks fine", result.RawResponse)
}

func TestAdjudicate_TimeoutBounded(t *testing.T) {
	model := new(MockModelClient)
	model.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)

	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	j := NewJudge(model, cfg, zap.NewNop())

	start := time.Now()
	result := j.Adjudicate(context.Background(), codingGoal, storage.ProofPayload{Text: "x"})

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, result.Approved)
	assert.True(t, result.Degraded)
}

func TestBuildPrompt(t *testing.T) {
	proof := storage.ProofPayload{
		Text:   "Pushed 4 commits",
		Images: []string{"ipfs://bafyimg1", "ipfs://bafyimg2"},
	}
	prompt := BuildPrompt(codingGoal, proof)

	assert.Equal(t, prompt, BuildPrompt(codingGoal, proof))
	assert.Contains(t, prompt, "Title: Code every day")
	assert.Contains(t, prompt, "Type: coding")
	assert.Contains(t, prompt, "Pushed 4 commits")
	assert.Contains(t, prompt, "PROOF INCLUDES 2 IMAGES")
	assert.Contains(t, prompt, "Image 2: ipfs://bafyimg2")
	assert.Contains(t, prompt, `"manipulation_detected": true or false`)

	assert.Contains(t, BuildPrompt(codingGoal, storage.ProofPayload{Text: "x"}), "NO IMAGES PROVIDED")
}

func TestOllamaClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "llama3.2:3b", body["model"])
			assert.Equal(t, "json", body["format"])
			assert.Equal(t, false, body["stream"])
			opts := body["options"].(map[string]any)
			assert.Equal(t, 0.3, opts["temperature"])
			assert.Equal(t, 0.9, opts["top_p"])
			_ = json.NewEncoder(w).Encode(map[string]string{"response": `{"approved": true}`})
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": "llama3.2:3b"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "llama3.2:3b")
	out, err := client.Generate(context.Background(), GenerateRequest{Prompt: "p", Temperature: 0.3, TopP: 0.9})
	require.NoError(t, err)
	assert.Equal(t, `{"approved": true}`, out)

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2:3b"}, models)
}

func TestOpenAIClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "hello"}}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "gpt-4o-mini", "sk-test")
	out, err := client.Generate(context.Background(), GenerateRequest{System: "s", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestNewModelClient_UnknownProvider(t *testing.T) {
	_, err := NewModelClient("anthropic", "", "m", "")
	assert.Error(t, err)
}
