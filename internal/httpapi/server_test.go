package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subcog/subcog/internal/capture"
	"github.com/subcog/subcog/internal/config"
	"github.com/subcog/subcog/internal/embedding"
	"github.com/subcog/subcog/internal/eventbus"
	"github.com/subcog/subcog/internal/recall"
	"github.com/subcog/subcog/internal/router"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	r, err := router.New(router.Config{UserDataDir: dir, Dimensions: 8}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	embedder := embedding.NewMockEmbedder(8)
	bus := eventbus.New()
	t.Cleanup(bus.Close)

	return New(r, embedder, bus,
		capture.DefaultConfig(),
		recall.DefaultConfig(),
		recall.NewBooster(recall.DefaultBoostConfig()),
		config.DedupConfig{
			SemanticThreshold:       0.92,
			RecentCaptureWindowSecs: 300,
			RecentCaptureCacheSize:  1000,
		},
		config.ServerConfig{Host: "localhost", Port: 0},
		nil,
	)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleCapture_ThenRecall(t *testing.T) {
	s := newTestServer(t)

	body, err := json.Marshal(captureRequest{
		Content:   "remember to rotate the api key",
		Namespace: "default",
		Domain:    "general",
		Source:    "test",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture", bytes.NewReader(body))
	req.Header.Set("X-Subcog-Local", "true")
	req.Header.Set("X-Subcog-Scope", "user")
	w := httptest.NewRecorder()
	s.handleCapture(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var captureResp capture.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &captureResp))
	assert.NotEmpty(t, captureResp.MemoryID)

	recallBody, err := json.Marshal(recallRequest{Query: "rotate", Mode: "text", Limit: 10})
	require.NoError(t, err)
	recallReq := httptest.NewRequest(http.MethodPost, "/api/v1/recall", bytes.NewReader(recallBody))
	recallReq.Header.Set("X-Subcog-Local", "true")
	recallReq.Header.Set("X-Subcog-Scope", "user")
	recallW := httptest.NewRecorder()
	s.handleRecall(recallW, recallReq)
	require.Equal(t, http.StatusOK, recallW.Code)
}

func TestHandleCapture_InvalidBodyIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.handleCapture(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolve_CachesServicesPerBackendSet(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Subcog-Scope", "project")
	req.Header.Set("X-Subcog-Key", "/tmp/project-a")

	svc1, err := s.resolve(context.Background(), req)
	require.NoError(t, err)
	svc2, err := s.resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, svc1, svc2)
}
