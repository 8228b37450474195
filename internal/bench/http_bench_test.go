package bench

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/imagegate/pkg/app"
	"github.com/osvaldoandrade/imagegate/pkg/config"
	"github.com/osvaldoandrade/imagegate/pkg/domain"
)

const benchToken = "bench-token"

var benchImage = bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 4096)

// newMystic answers every create with a task that is already COMPLETED.
func newMystic(b *testing.B) *httptest.Server {
	b.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/cdn/out.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(benchImage)
		case r.Method == http.MethodPost:
			_, _ = io.WriteString(w, `{"data":{"task_id":"bench-task","status":"CREATED"}}`)
		case strings.HasPrefix(r.URL.Path, "/v1/ai/mystic/"):
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
				"task_id":   "bench-task",
				"status":    "COMPLETED",
				"generated": []string{srv.URL + "/cdn/out.png"},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	b.Cleanup(srv.Close)
	return srv
}

func newBenchApp(b *testing.B, mirror bool) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)
	mystic := newMystic(b)

	mirrorFlag := "false"
	if mirror {
		mirrorFlag = "true"
	}
	env := map[string]string{
		"ENV_FILE":                  "",
		"ENV":                       "bench",
		"LOG_LEVEL":                 "error",
		"FREEPIK_API_KEY":           "bench-key",
		"FREEPIK_BASE_URL":          mystic.URL + "/v1/ai/mystic",
		"POLL_INTERVAL_MS":          "1",
		"ASSET_ROOT":                b.TempDir(),
		"ASSET_MIRROR_GENERATED":    mirrorFlag,
		"STORAGE_BACKEND":           "redis",
		"REDIS_ADDR":                mr.Addr(),
		"AUTH_PROVIDER":             "static",
		"AUTH_CONFIG":               `{"token":"` + benchToken + `","subject":"bench"}`,
		"AUTH_REQUIRED_SCOPE":       "",
		"RATE_LIMIT_GENERATE_RPM":   "0",
		"RATE_LIMIT_GENERATE_BURST": "0",
	}
	for k, v := range env {
		b.Setenv(k, v)
	}
	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		b.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		b.Fatalf("validate config: %v", err)
	}

	a, err := app.NewApplication(cfg, app.WithLogOutput(io.Discard))
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	b.Cleanup(func() { _ = a.Close() })
	return a
}

func doJSONRequest(b *testing.B, h http.Handler, method, path, bearerToken string, body []byte) (int, []byte) {
	b.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func BenchmarkHTTP_GenerateSync(b *testing.B) {
	a := newBenchApp(b, false)
	body := []byte(`{"prompt":"a lighthouse at dusk","model":"fluid"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/images/generate", benchToken, body)
		if status != http.StatusOK {
			b.Fatalf("generate status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkHTTP_GenerateAsync(b *testing.B) {
	a := newBenchApp(b, false)
	body := []byte(`{"prompt":"a lighthouse at dusk","async":true}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/images/generate", benchToken, body)
		if status != http.StatusAccepted {
			b.Fatalf("submit status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkHTTP_ServeMirroredImage(b *testing.B) {
	a := newBenchApp(b, true)

	status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/images/generate", benchToken, []byte(`{"prompt":"a fox"}`))
	if status != http.StatusOK {
		b.Fatalf("generate status %d body=%s", status, string(resp))
	}
	var out struct {
		Data domain.GenerationResult `json:"data"`
	}
	if err := json.Unmarshal(resp, &out); err != nil || out.Data.GUID == "" {
		b.Fatalf("generate parse failed: err=%v body=%s", err, string(resp))
	}

	b.SetBytes(int64(len(benchImage)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, _ := doJSONRequest(b, a.Engine, http.MethodGet, "/images/"+out.Data.GUID, "", nil)
		if status != http.StatusOK {
			b.Fatalf("get image status %d", status)
		}
	}
}
