package ping

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_vastplayer/internal/metrics"
	"github.com/thenexusengine/tne_vastplayer/internal/tracking"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

type tracker struct {
	mu    sync.Mutex
	paths []string
}

func (tr *tracker) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr.mu.Lock()
		tr.paths = append(tr.paths, r.URL.RequestURI())
		tr.mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/fail") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (tr *tracker) received() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.paths...)
}

func TestPinger_SendsEveryURL(t *testing.T) {
	tr := &tracker{}
	srv := tr.server(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)
	p := NewHTTPPinger(Config{Workers: 2}, m)

	p.Ping(context.Background(), tracking.Request{
		Event: "start",
		URLs:  []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/fail"},
	})
	p.Close()

	assert.ElementsMatch(t, []string{"/a", "/b", "/fail"}, tr.received())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PingsTotal.WithLabelValues("start", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PingsTotal.WithLabelValues("start", "error")))
}

func TestPinger_SubstitutesErrorCode(t *testing.T) {
	tr := &tracker{}
	srv := tr.server(t)
	p := NewHTTPPinger(Config{}, nil)

	p.Ping(context.Background(), tracking.Request{
		Event:     "error",
		URLs:      []string{srv.URL + "/err?code=[ERRORCODE]"},
		ErrorCode: vast.CodeWrapperNoAds,
	})
	p.Close()

	require.Len(t, tr.received(), 1)
	assert.Equal(t, "/err?code=303", tr.received()[0])
}

func TestPinger_OutlivesCancelledContext(t *testing.T) {
	tr := &tracker{}
	srv := tr.server(t)
	p := NewHTTPPinger(Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Ping(ctx, tracking.Request{Event: "impression", URLs: []string{srv.URL + "/imp"}})
	p.Close()

	assert.Equal(t, []string{"/imp"}, tr.received())
}

func TestExpand(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	assert.Equal(t, "https://t.example.com/e?c=400",
		Expand("https://t.example.com/e?c=[ERRORCODE]", vast.CodeGeneralLinearAds, now))
	assert.Equal(t, "https://t.example.com/e?c=[ERRORCODE]",
		Expand("https://t.example.com/e?c=[ERRORCODE]", 0, now), "no code leaves the macro")
	assert.Equal(t, "https://t.example.com/i?ts=2024-03-01T12%3A30%3A00Z",
		Expand("https://t.example.com/i?ts=[TIMESTAMP]", 0, now))

	busted := Expand("https://t.example.com/i?cb=[CACHEBUSTING]", 0, now)
	assert.Regexp(t, `^https://t\.example\.com/i\?cb=\d{8}$`, busted)

	plain := "https://t.example.com/i"
	assert.Equal(t, plain, Expand(plain, vast.CodeUndefined, now))
}
