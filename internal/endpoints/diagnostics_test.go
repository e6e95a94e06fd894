package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_vastplayer/internal/storage"
)

type fakeLister struct {
	recs     []*storage.ResolutionRecord
	err      error
	minDepth int
	limit    int
}

func (f *fakeLister) DeepChains(_ context.Context, minDepth, limit int) ([]*storage.ResolutionRecord, error) {
	f.minDepth = minDepth
	f.limit = limit
	return f.recs, f.err
}

func serveDiagnostics(store ChainLister, path string) *httptest.ResponseRecorder {
	router := httprouter.New()
	router.GET("/api/v1/resolutions/deep/:min_depth", NewDiagnosticsHandler(store).HandleDeepChains)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleDeepChains(t *testing.T) {
	lister := &fakeLister{recs: []*storage.ResolutionRecord{{
		ID:         7,
		SessionID:  "s-1",
		TagURL:     "https://ads.example.com/tag.xml",
		Outcome:    "success",
		MaxDepth:   4,
		AdCount:    1,
		FailedURLs: []string{},
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}

	rec := serveDiagnostics(lister, "/api/v1/resolutions/deep/3?limit=20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, lister.minDepth)
	assert.Equal(t, 20, lister.limit)

	var got []storage.ResolutionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "s-1", got[0].SessionID)
	assert.Equal(t, 4, got[0].MaxDepth)
}

func TestHandleDeepChains_EmptyIsArray(t *testing.T) {
	rec := serveDiagnostics(&fakeLister{}, "/api/v1/resolutions/deep/2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleDeepChains_LimitCapped(t *testing.T) {
	lister := &fakeLister{}
	rec := serveDiagnostics(lister, "/api/v1/resolutions/deep/1?limit=100000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxDeepChainLimit, lister.limit)
}

func TestHandleDeepChains_BadParams(t *testing.T) {
	for _, path := range []string{
		"/api/v1/resolutions/deep/abc",
		"/api/v1/resolutions/deep/-1",
		"/api/v1/resolutions/deep/2?limit=0",
		"/api/v1/resolutions/deep/2?limit=x",
	} {
		rec := serveDiagnostics(&fakeLister{}, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestHandleDeepChains_StoreError(t *testing.T) {
	rec := serveDiagnostics(&fakeLister{err: errors.New("db down")}, "/api/v1/resolutions/deep/2")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestHandleDeepChains_Disabled(t *testing.T) {
	rec := serveDiagnostics(nil, "/api/v1/resolutions/deep/2")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
