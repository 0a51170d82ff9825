package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/fosterhub/internal/config"
)

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Logging.Level = "error"
	cfg.Server.Port = 0
	return cfg
}

func TestNewApplicationWithMemoryStores(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Server.Port = 18080

	a, err := NewApplicationWithConfig(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, a.db)
	assert.Nil(t, a.redis)
	assert.NotNil(t, a.limiter)
	assert.Equal(t, "0.0.0.0:18080", a.httpServer.Addr)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://fosterhub.example")
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
	assert.Equal(t, "https://fosterhub.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIdentityRejectionKeepsCORSHeaders(t *testing.T) {
	a, err := NewApplicationWithConfig(context.Background(), testConfig())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://fosterhub.example")
	req.Header.Set("X-User-ID", "bad user!")
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "https://fosterhub.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewApplicationWithSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "fosterhub.db")

	a, err := NewApplicationWithConfig(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, a.db)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"animal_id":"animal-1"}`)
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users/alice/sprites", body))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var count int
	require.NoError(t, a.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sprites`))
	assert.Equal(t, 1, count)

	require.NoError(t, a.Shutdown(ctx))
	assert.Nil(t, a.db)
}

func TestNewApplicationRejectsBadZone(t *testing.T) {
	cfg := testConfig()
	cfg.Sprites.TimeZone = "Mars/Olympus"
	_, err := NewApplicationWithConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"

	a, err := NewApplicationWithConfig(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	require.NoError(t, a.Shutdown(context.Background()))
}
