package endpoints

import (
	"context"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/thenexusengine/tne_vastplayer/internal/storage"
	"github.com/thenexusengine/tne_vastplayer/pkg/logger"
)

// maxDeepChainLimit caps one page of deep chain records
const maxDeepChainLimit = 500

// ChainLister lists resolutions that followed many wrappers
type ChainLister interface {
	DeepChains(ctx context.Context, minDepth, limit int) ([]*storage.ResolutionRecord, error)
}

// DiagnosticsHandler exposes the resolution audit log so operators can find
// redirect loops and slow wrapper chains:
//   - GET /api/v1/resolutions/deep/:min_depth?limit=<n>
type DiagnosticsHandler struct {
	store ChainLister
}

// NewDiagnosticsHandler creates a new diagnostics handler
func NewDiagnosticsHandler(store ChainLister) *DiagnosticsHandler {
	return &DiagnosticsHandler{store: store}
}

// HandleDeepChains lists recent resolutions at or beyond a wrapper depth
func (h *DiagnosticsHandler) HandleDeepChains(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	log := logger.Log

	minDepth, err := strconv.Atoi(ps.ByName("min_depth"))
	if err != nil || minDepth < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid min_depth"})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
	}
	if limit > maxDeepChainLimit {
		limit = maxDeepChainLimit
	}

	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "audit log disabled"})
		return
	}

	recs, err := h.store.DeepChains(r.Context(), minDepth, limit)
	if err != nil {
		log.Error().Err(err).Int("min_depth", minDepth).Msg("diagnostics: deep chain query failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "query failed"})
		return
	}
	if recs == nil {
		recs = []*storage.ResolutionRecord{}
	}

	writeJSON(w, http.StatusOK, recs)
}
