package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garvis/router/auth"
	"github.com/garvis/router/models"
	"github.com/garvis/router/services"
	"github.com/garvis/router/services/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRouting(t *testing.T, upURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "router.yaml")
	doc := fmt.Sprintf(`
endpoints:
  - {id: gpu0, base_url: %q}
  - {id: cpu, base_url: "http://127.0.0.1:1"}
  - {id: spare, base_url: "http://127.0.0.1:2"}
inventory:
  gar-code: {endpoint: gpu0, real_model: "qwen2.5-coder:7b"}
  gar-router: {endpoint: cpu, real_model: "llama3.2:3b"}
policy:
  default: gar-router
  rules:
    - {name: code-hints, keywords: [sql], target: gar-code}
`, upURL)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func upServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	t.Run("valid config with one endpoint down warns", func(t *testing.T) {
		path := writeRouting(t, upServer(t).URL)
		logPath := filepath.Join(t.TempDir(), "logs", "router.jsonl")
		reportPath := filepath.Join(t.TempDir(), "report.json")

		out, err := execute(t, "", "validate", "--config", path, "--decision-log", logPath, "--probe-timeout", "500ms", "-o", reportPath)
		require.NoError(t, err, out)

		data, err := os.ReadFile(reportPath)
		require.NoError(t, err)
		var report Report
		require.NoError(t, json.Unmarshal(data, &report))

		statuses := map[string]CheckStatus{}
		for _, r := range report.Results {
			statuses[r.Name] = r.Status
		}
		assert.Equal(t, CheckPass, statuses["routing config consistent"])
		assert.Equal(t, CheckWarn, statuses["endpoints in use"])
		assert.Equal(t, CheckPass, statuses["decision log writable"])
		assert.Equal(t, CheckWarn, statuses["endpoints reachable"])
		assert.Equal(t, 0, report.Summary[CheckFail])
		assert.Contains(t, out, "JSON report:")
	})

	t.Run("broken config fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "router.yaml")
		require.NoError(t, os.WriteFile(path, []byte("endpoints: []\n"), 0o600))

		out, err := execute(t, "", "validate", "--config", path, "--offline")
		require.Error(t, err)
		assert.Contains(t, out, `"status": "fail"`)
	})
}

func TestBuildReport_Offline(t *testing.T) {
	path := writeRouting(t, "http://127.0.0.1:3")

	report := buildReport(t.Context(), &validateOptions{
		configPath:  path,
		decisionLog: filepath.Join(t.TempDir(), "router.jsonl"),
		offline:     true,
	})

	assert.False(t, report.Failed())
	for _, r := range report.Results {
		assert.NotEqual(t, "endpoints reachable", r.Name)
	}
}

func TestProbe(t *testing.T) {
	path := writeRouting(t, upServer(t).URL)

	out, err := execute(t, "", "probe", "--config", path, "--timeout", "500ms")
	require.NoError(t, err)

	var snapshot models.HealthSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snapshot))
	assert.Equal(t, models.HealthDegraded, snapshot.Status)
	assert.True(t, snapshot.Endpoints["gpu0"].OK)
	assert.False(t, snapshot.Endpoints["cpu"].OK)
}

func TestDecide(t *testing.T) {
	path := writeRouting(t, "http://127.0.0.1:3")

	t.Run("prompt from args", func(t *testing.T) {
		out, err := execute(t, "", "decide", "--config", path, "write", "SQL")
		require.NoError(t, err)

		var evaluation proxy.Evaluation
		require.NoError(t, json.Unmarshal([]byte(out), &evaluation))
		assert.Equal(t, "gar-code", evaluation.Alias)
		assert.Equal(t, "code-hints", evaluation.Rule)
		assert.Equal(t, "gpu0", evaluation.Target)
	})

	t.Run("prompt from stdin with explicit model", func(t *testing.T) {
		out, err := execute(t, "write SQL\n", "decide", "--config", path, "-m", "GAR-ROUTER:latest")
		require.NoError(t, err)

		var evaluation proxy.Evaluation
		require.NoError(t, json.Unmarshal([]byte(out), &evaluation))
		assert.Equal(t, "gar-router", evaluation.Alias)
		assert.Equal(t, models.SourceExplicit, evaluation.Source)
	})

	t.Run("unknown alias", func(t *testing.T) {
		_, err := decide(t.Context(), path, "hi", "gar-nope")
		assert.ErrorIs(t, err, services.ErrUnknownAlias)
	})

	t.Run("empty stdin", func(t *testing.T) {
		_, err := execute(t, "", "decide", "--config", path)
		assert.Error(t, err)
	})
}

func TestToken(t *testing.T) {
	t.Run("issues a token the gateway accepts", func(t *testing.T) {
		out, err := execute(t, "", "token", "--secret", "s3cret", "--subject", "ci")
		require.NoError(t, err)

		principal, err := auth.NewJWTValidator("s3cret", "").ValidateToken(t.Context(), strings.TrimSpace(out))
		require.NoError(t, err)
		assert.Equal(t, "ci", principal.Subject)
	})

	t.Run("secret required", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "")
		_, err := execute(t, "", "token")
		assert.Error(t, err)
	})
}

func TestStats_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	_, err := execute(t, "", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database configured")
}
