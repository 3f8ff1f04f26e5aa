package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lock-in/validator-node/internal/judge"
	"lock-in/validator-node/pkg/security"
)

func TestRootCommand_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(nil, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.NotZero(t, stdout.Len(), "expected help output on stdout")
}

func TestRootCommand_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"nonexistent"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestSubcommandRegistration(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, name := range []string{"run", "check", "keygen", "adjudicate", "devnet", "version"} {
		assert.Contains(t, names, name)
	}
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.True(t, strings.HasPrefix(stdout.String(), "validator-node dev"))
	assert.Contains(t, stdout.String(), "registry contract")
}

func TestKeygen(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"keygen"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	fields := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		key, value, ok := strings.Cut(line, ":")
		require.True(t, ok, line)
		fields[key] = strings.TrimSpace(value)
	}

	id, err := security.NewIdentity(fields["secret"])
	require.NoError(t, err)
	assert.Equal(t, fields["address"], id.Address())
}

func TestAdjudicate_RequiresOneProofSource(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"adjudicate", "--goal-title", "Study"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "exactly one of")
}

func TestAdjudicate_ProofFile(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		verdict := `{"approved": true, "confidence": 82, "reasoning": "Screenshot shows a 2h session.", "manipulation_detected": false}`
		_ = json.NewEncoder(w).Encode(map[string]string{"response": verdict})
	}))
	defer ollama.Close()
	t.Setenv("MODEL_PROVIDER", "ollama")
	t.Setenv("MODEL_URL", ollama.URL)

	proof := filepath.Join(t.TempDir(), "proof.json")
	require.NoError(t, os.WriteFile(proof, []byte(`{"text": "I coded for 2 hours"}`), 0o600))

	var stdout, stderr bytes.Buffer
	code := run([]string{"adjudicate", "--goal-title", "Code daily", "--goal-type", "coding", "--proof-file", proof}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var result judge.AdjudicationResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.True(t, result.Approved)
	assert.Equal(t, 82, result.Confidence)
	assert.False(t, result.Degraded)
}

func TestCheck_FailsWhenEndpointsDown(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	t.Setenv("MODEL_URL", downURL)
	t.Setenv("REGISTRY_URL", downURL)
	t.Setenv("IPFS_GATEWAYS", downURL)
	t.Setenv("VALIDATOR_SECRET_KEY", "")

	var stdout, stderr bytes.Buffer
	code := run([]string{"check"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "FAIL  model")
	assert.Contains(t, stdout.String(), "FAIL  gateway")
	assert.Contains(t, stderr.String(), "one or more checks failed")
}
