package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exprc/pkg/config"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	srv := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, gojson.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestCompile_Success(t *testing.T) {
	ts := newTestServer(t)

	resp, body := post(t, ts, "/compile", `{"source": "b * (a + 1)"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	assert.Equal(t, "UTF-8", body["encoding"])
	assert.Equal(t, []any{"a", "b"}, body["variables"])
	text := body["assembly"].(string)
	assert.True(t, strings.HasPrefix(text, "section .text\n"))
	assert.Contains(t, text, "  extern scanf\n")
	assert.Contains(t, text, "  var_b: resd 1\n")
}

func TestCompile_DivisionOverride(t *testing.T) {
	ts := newTestServer(t)

	_, sign := post(t, ts, "/compile", `{"source": "a / 2"}`)
	_, zero := post(t, ts, "/compile", `{"source": "a / 2", "division": "zero"}`)

	assert.Contains(t, sign["assembly"], "  cdq\n")
	assert.Contains(t, zero["assembly"], "  mov edx, 0\n")
	assert.NotContains(t, zero["assembly"], "cdq")
}

func TestCompile_ParseErrorsArePositioned(t *testing.T) {
	ts := newTestServer(t)

	resp, body := post(t, ts, "/compile", `{"source": "(1 + 2"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "parse", body["stage"])

	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	assert.Equal(t, "')' was expected", first["message"])
	assert.Equal(t, "ExpectedToken", first["kind"])
	assert.EqualValues(t, 0, first["line"])
}

func TestCompile_TranslationErrorsHaveNoPosition(t *testing.T) {
	ts := newTestServer(t)

	resp, body := post(t, ts, "/compile", `{"source": "a and b"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "translate", body["stage"])

	first := body["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "UnsupportedExpression", first["kind"])
	assert.NotContains(t, first, "line")
}

func TestCompile_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"source": `},
		{"unknown division", `{"source": "1", "division": "floor"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, ts, "/compile", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["errors"])
		})
	}
}

func TestRun_PrintsResult(t *testing.T) {
	ts := newTestServer(t)

	resp, body := post(t, ts, "/run", `{"source": "2 + 3 * 4"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "14\n", body["output"])

	state := body["state"].(map[string]any)
	assert.EqualValues(t, 0, state["exit_code"])
}

func TestRun_ReadsVariablesFromInput(t *testing.T) {
	ts := newTestServer(t)

	resp, body := post(t, ts, "/run", `{"source": "a * 2 - b", "input": "21 2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a = b = 40\n", body["output"])

	mem := body["state"].(map[string]any)["memory"].(map[string]any)
	assert.EqualValues(t, 21, mem["var_a"])
	assert.EqualValues(t, 2, mem["var_b"])
}

func TestRun_DivideErrorIsReported(t *testing.T) {
	ts := newTestServer(t)

	resp, body := post(t, ts, "/run", `{"source": "10 / a", "input": "0"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "run", body["stage"])
	first := body["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "DivideError", first["kind"])
}

func TestRun_MissingInput(t *testing.T) {
	ts := newTestServer(t)

	resp, body := post(t, ts, "/run", `{"source": "a"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	first := body["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "Input", first["kind"])
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsExposeCompilations(t *testing.T) {
	ts := newTestServer(t)

	post(t, ts, "/compile", `{"source": "1 + 1"}`)
	post(t, ts, "/compile", `{"source": "@"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, `exprc_compilations_total{result="ok",stage="translate"} 1`)
	assert.Contains(t, text, `exprc_compilations_total{result="error",stage="lex"} 1`)
	assert.Contains(t, text, `http_requests_total{method="POST",path="/compile",status="200"} 1`)
	assert.Contains(t, text, "exprc_compile_duration_seconds_count 2")
}

func TestMetricsLabelUnmatchedRoutes(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/nope-1", "/nope-2/deeper"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `http_requests_total{method="GET",path="unmatched",status="404"} 2`)
	assert.NotContains(t, string(raw), "nope")
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.RateLimit = 1 })

	first, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	first.Body.Close()
	second, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	second.Body.Close()

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.CORSOrigins = []string{"https://play.example"} })

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/compile", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://play.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://play.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
