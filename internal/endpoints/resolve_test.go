package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_vastplayer/internal/engine"
	"github.com/thenexusengine/tne_vastplayer/internal/wrapper"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

const podVAST = `<VAST version="3.0">
<Ad id="a1" sequence="1"><InLine><AdTitle>First</AdTitle><Creatives><Creative><Linear skipoffset="00:00:05">
<Duration>00:00:15</Duration>
<MediaFiles><MediaFile delivery="progressive" type="video/mp4"><![CDATA[https://cdn.example.com/a1.mp4]]></MediaFile></MediaFiles>
<VideoClicks><ClickThrough><![CDATA[https://advertiser.example.com/a1]]></ClickThrough></VideoClicks>
</Linear></Creative></Creatives></InLine></Ad>
<Ad id="a2" sequence="2"><InLine><AdTitle>Second</AdTitle><Creatives><Creative><Linear>
<Duration>00:00:30</Duration>
<MediaFiles><MediaFile delivery="progressive" type="video/mp4"><![CDATA[https://cdn.example.com/a2.mp4]]></MediaFile></MediaFiles>
</Linear></Creative></Creatives></InLine></Ad>
<Ad id="solo"><InLine><AdTitle>Standalone</AdTitle><Creatives><Creative><Linear>
<Duration>00:00:10</Duration>
<MediaFiles><MediaFile delivery="progressive" type="video/mp4"><![CDATA[https://cdn.example.com/solo.mp4]]></MediaFile></MediaFiles>
</Linear></Creative></Creatives></InLine></Ad>
</VAST>`

const scheduleVMAP = `<vmap:VMAP xmlns:vmap="http://www.iab.net/videosuite/vmap" version="1.0">
<vmap:AdBreak timeOffset="start" breakType="linear" breakId="pre">
<vmap:AdSource><vmap:AdTagURI><![CDATA[https://ads.example.com/pre.xml]]></vmap:AdTagURI></vmap:AdSource>
</vmap:AdBreak>
<vmap:AdBreak timeOffset="00:05:00" breakType="linear" breakId="mid" repeatAfter="00:05:00">
<vmap:AdSource><vmap:AdTagURI><![CDATA[https://ads.example.com/mid.xml]]></vmap:AdTagURI></vmap:AdSource>
</vmap:AdBreak>
<vmap:AdBreak timeOffset="end" breakType="linear" breakId="post">
<vmap:AdSource><vmap:AdTagURI><![CDATA[https://ads.example.com/post.xml]]></vmap:AdTagURI></vmap:AdSource>
</vmap:AdBreak>
</vmap:VMAP>`

func factoryFor(docs map[string]string) EngineFactory {
	fetcher := wrapper.FetcherFunc(func(_ context.Context, u string) (vast.Node, error) {
		body, ok := docs[u]
		if !ok {
			return nil, fmt.Errorf("GET %s: connection refused", u)
		}
		return vast.ParseDocumentString(body)
	})
	return func() (*engine.Engine, error) {
		return engine.New(engine.Config{}, engine.Deps{Fetcher: fetcher})
	}
}

func get(t *testing.T, h http.HandlerFunc, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path+"?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandleResolve_Pod(t *testing.T) {
	tag := "https://ads.example.com/pod.xml"
	h := NewResolveHandler(factoryFor(map[string]string{tag: podVAST}))

	rec := get(t, h.HandleResolve, "/api/v1/resolve", url.Values{"tag": {tag}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp PodSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "3.0", resp.Version)
	assert.NotEmpty(t, resp.SessionID)
	require.Len(t, resp.Members, 2)

	first := resp.Members[0]
	assert.Equal(t, "a1", first.ID)
	assert.Equal(t, "First", first.Name)
	assert.Equal(t, "linear", first.Type)
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, 2, first.Length)
	assert.Equal(t, int64(15000), first.DurationMs)
	assert.True(t, first.Skip.Allowed)
	assert.Equal(t, float64(5), first.Skip.Offset)
	assert.Equal(t, []string{"https://cdn.example.com/a1.mp4"}, first.MediaFiles)
	assert.Equal(t, "https://advertiser.example.com/a1", first.ClickThrough)

	assert.Equal(t, "a2", resp.Members[1].ID)
	assert.Equal(t, 2, resp.Members[1].Index)

	require.NotNil(t, resp.Fallback)
	assert.Equal(t, "solo", resp.Fallback.ID)
}

func TestHandleResolve_MissingTag(t *testing.T) {
	h := NewResolveHandler(factoryFor(nil))

	rec := get(t, h.HandleResolve, "/api/v1/resolve", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing tag parameter")
}

func TestHandleResolve_InvalidTag(t *testing.T) {
	h := NewResolveHandler(factoryFor(nil))

	for _, tag := range []string{"ftp://ads.example.com/x.xml", "not a url", "javascript:alert(1)"} {
		rec := get(t, h.HandleResolve, "/api/v1/resolve", url.Values{"tag": {tag}})
		assert.Equal(t, http.StatusBadRequest, rec.Code, tag)
	}
}

func TestHandleResolve_FetchFailure(t *testing.T) {
	h := NewResolveHandler(factoryFor(map[string]string{}))

	rec := get(t, h.HandleResolve, "/api/v1/resolve", url.Values{"tag": {"https://ads.example.com/down.xml"}})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int(vast.CodeWrapperTimeout), resp.Code)
}

func TestHandleResolve_EngineUnavailable(t *testing.T) {
	h := NewResolveHandler(func() (*engine.Engine, error) {
		return nil, errors.New("no fetcher")
	})

	rec := get(t, h.HandleResolve, "/api/v1/resolve", url.Values{"tag": {"https://ads.example.com/x.xml"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleSchedule(t *testing.T) {
	u := "https://ads.example.com/schedule.xml"
	h := NewResolveHandler(factoryFor(map[string]string{u: scheduleVMAP}))

	rec := get(t, h.HandleSchedule, "/api/v1/schedule", url.Values{"url": {u}, "content_ms": {"1200000"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScheduleSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.0", resp.Version)
	require.Len(t, resp.Breaks, 3)
	assert.Equal(t, "preroll", resp.Breaks[0].Roll)
	assert.Equal(t, "midroll", resp.Breaks[1].Roll)
	assert.Equal(t, int64(300000), resp.Breaks[1].RepeatMs)
	assert.Equal(t, "postroll", resp.Breaks[2].Roll)
	assert.Equal(t, "https://ads.example.com/post.xml", resp.Breaks[2].AdTagURI)

	var offsets []int64
	for _, occ := range resp.Occurrences {
		offsets = append(offsets, occ.OffsetMs)
	}
	assert.Equal(t, []int64{0, 300000, 600000, 900000, 1200000}, offsets)
}

func TestHandleSchedule_WithoutContentLength(t *testing.T) {
	u := "https://ads.example.com/schedule.xml"
	h := NewResolveHandler(factoryFor(map[string]string{u: scheduleVMAP}))

	rec := get(t, h.HandleSchedule, "/api/v1/schedule", url.Values{"url": {u}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScheduleSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Breaks, 3)
	assert.Empty(t, resp.Occurrences)
}

func TestHandleSchedule_BadContentLength(t *testing.T) {
	h := NewResolveHandler(factoryFor(nil))

	rec := get(t, h.HandleSchedule, "/api/v1/schedule", url.Values{
		"url":        {"https://ads.example.com/schedule.xml"},
		"content_ms": {"-5"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
