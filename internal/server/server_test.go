package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkcfg/internal/ledger"
	"github.com/vk/pkcfg/internal/report"
	"github.com/vk/pkcfg/internal/schedule"
)

func timit(t *testing.T) []byte {
	t.Helper()
	src, err := os.ReadFile("../../testdata/timit_transformer_ligru.cfg")
	require.NoError(t, err)
	return src
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(context.Background(), Options{})
	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestValidate(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	s := New(context.Background(), Options{Ledger: store})

	rec := do(t, s, http.MethodPost, "/v1/validate?name=timit.cfg", timit(t))
	require.Equal(t, http.StatusOK, rec.Code)
	var sum report.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.True(t, sum.Valid)
	assert.Equal(t, "timit.cfg", sum.File)

	bad := strings.Replace(string(timit(t)), "seed = 2234\n", "", 1)
	rec = do(t, s, http.MethodPost, "/v1/validate", []byte(bad))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.False(t, sum.Valid)
	assert.Equal(t, "request.cfg", sum.File)

	runs, err := store.Runs(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestValidate_SyntaxError(t *testing.T) {
	s := New(context.Background(), Options{})
	rec := do(t, s, http.MethodPost, "/v1/validate", []byte("[exp\nseed = 1\n"))
	require.Equal(t, http.StatusOK, rec.Code)
	var sum report.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.False(t, sum.Valid)
	require.NotEmpty(t, sum.Diagnostics)
	assert.Equal(t, 1, sum.Diagnostics[0].Range.StartLine)
}

func TestValidate_TooLarge(t *testing.T) {
	s := New(context.Background(), Options{MaxBody: 16})
	rec := do(t, s, http.MethodPost, "/v1/validate", timit(t))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPlan(t *testing.T) {
	s := New(context.Background(), Options{})
	rec := do(t, s, http.MethodPost, "/v1/plan?epochs=2", timit(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sum schedule.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Len(t, sum.Epochs, 2)
	assert.Equal(t, "train_TIMIT_tr_ep000_ck00", sum.Epochs[0].Train[0])

	rec = do(t, s, http.MethodPost, "/v1/plan?epochs=x", timit(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := strings.Replace(string(timit(t)), "seed = 2234\n", "", 1)
	rec = do(t, s, http.MethodPost, "/v1/plan", []byte(bad))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExport(t *testing.T) {
	s := New(context.Background(), Options{})

	rec := do(t, s, http.MethodPost, "/v1/export/yaml", timit(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "n_epochs_tr: 24")

	rec = do(t, s, http.MethodPost, "/v1/export/hcl", timit(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "compute(liGRU_layers, out_dnn0)")

	rec = do(t, s, http.MethodPost, "/v1/export/toml", timit(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_Shutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(context.Background(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
