package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_vastplayer/internal/chain"
	"github.com/thenexusengine/tne_vastplayer/internal/pod"
	"github.com/thenexusengine/tne_vastplayer/internal/tracking"
	"github.com/thenexusengine/tne_vastplayer/internal/wrapper"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

type pingLog struct {
	mu   sync.Mutex
	reqs []tracking.Request
}

func (p *pingLog) Ping(_ context.Context, req tracking.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
}

func (p *pingLog) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, r := range p.reqs {
		out = append(out, r.Event)
	}
	return out
}

func (p *pingLog) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = nil
}

func trackingFor(id string) map[string][]string {
	out := make(map[string][]string, len(vast.TrackedEvents))
	for _, name := range vast.TrackedEvents {
		out[name] = []string{"https://t.example.com/" + id + "/" + name}
	}
	return out
}

func ad(id string, seq int) *wrapper.Ad {
	return &wrapper.Ad{
		Key: id,
		Template: &vast.AdTemplate{
			ID:             id,
			Sequence:       seq,
			ErrorURLs:      []string{"https://t.example.com/" + id + "/error?c=[ERRORCODE]"},
			ImpressionURLs: []string{"https://t.example.com/" + id + "/imp"},
			Linear: &vast.Linear{
				Duration:          "00:00:20",
				SkipOffset:        "00:00:05",
				ClickTrackingURLs: []string{"https://t.example.com/" + id + "/click"},
				MediaFiles:        []vast.MediaFile{{URL: "https://cdn.example.com/" + id + ".mp4", Type: "video/mp4"}},
				Tracking:          trackingFor(id),
			},
		},
	}
}

func interactiveAd(id string, seq int) *wrapper.Ad {
	a := ad(id, seq)
	a.Template.Linear.MediaFiles = []vast.MediaFile{{
		URL: "https://cdn.example.com/" + id + ".js", Type: "application/javascript", APIFramework: "VPAID",
	}}
	return a
}

func assemble(t *testing.T, podded, standalone []*wrapper.Ad) *pod.Pod {
	t.Helper()
	p, err := pod.Assemble(&wrapper.Result{
		SessionID:  "s1",
		Version:    "3.0",
		Features:   vast.Features{Podded: true, Fallback: true},
		Podded:     podded,
		Standalone: standalone,
		Registry:   chain.NewRegistry(),
	}, pod.Options{})
	require.NoError(t, err)
	return p
}

type fixture struct {
	m     *Machine
	ctrl  *MockController
	pings *pingLog
	clock *clock.Mock
}

func newFixture() *fixture {
	f := &fixture{ctrl: (&MockController{}).allowAll(), pings: &pingLog{}, clock: clock.NewMock()}
	f.m = NewMachine(context.Background(), f.ctrl, tracking.NewDispatcher(f.pings), Config{
		ManagerName: "test",
		Clock:       f.clock,
	})
	return f
}

func TestMachine_PlaysPodInOrder(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1), ad("b", 2)}, nil)

	require.NoError(t, f.m.Play(p.Primary()))
	assert.Equal(t, Playing, f.m.Mode())
	f.ctrl.AssertCalled(t, "NotifyPodStarted", "a", 2)
	f.ctrl.AssertCalled(t, "ShowSkipButton", true, float64(5), false)
	assert.Equal(t, []string{"impression", "creativeView", "start"}, f.pings.events())

	require.NoError(t, f.m.Complete())
	unit := f.m.Unit()
	assert.Equal(t, "b", unit.Current.ID())
	assert.Equal(t, "a", unit.Previous.ID())
	assert.Equal(t, Playing, unit.Mode)

	require.NoError(t, f.m.Complete())
	assert.Equal(t, Ended, f.m.Mode())

	assert.Equal(t, []string{
		"NotifyPodStarted", "NotifyLinearAdStarted", "ShowSkipButton",
		"NotifyLinearAdEnded", "NotifyLinearAdStarted", "ShowSkipButton",
		"NotifyLinearAdEnded", "NotifyPodEnded",
	}, f.ctrl.methods())
	f.ctrl.AssertCalled(t, "NotifyPodEnded", "a")
	f.ctrl.AssertNumberOfCalls(t, "NotifyPodStarted", 1)
}

func TestMachine_PropsReachController(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1)}, nil)

	require.NoError(t, f.m.Play(p.Primary()))
	f.ctrl.AssertCalled(t, "NotifyLinearAdStarted", "a", AdProps{
		Name: "a", DurationMs: 20000, Skippable: true, SkipOffset: 5, Index: 1, Length: 1,
	})
}

func TestMachine_QuartilesAndPause(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1)}, nil)
	require.NoError(t, f.m.Play(p.Primary()))
	f.pings.reset()

	f.m.OnPlayheadUpdate(5000, 20000)
	require.NoError(t, f.m.Pause(nil))
	f.m.OnPlayheadUpdate(15000, 20000) // ignored while paused
	require.NoError(t, f.m.Resume(nil))
	f.m.OnPlayheadUpdate(15000, 20000)
	f.m.OnPlayheadUpdate(16000, 20000)

	assert.Equal(t, []string{"firstQuartile", "pause", "resume", "midpoint", "thirdQuartile"}, f.pings.events())
}

func TestMachine_PauseRejectsWrongState(t *testing.T) {
	f := newFixture()
	assert.ErrorIs(t, f.m.Pause(nil), ErrNoCurrentAd)

	p := assemble(t, []*wrapper.Ad{ad("a", 1)}, nil)
	require.NoError(t, f.m.Play(p.Primary()))
	assert.ErrorIs(t, f.m.Resume(nil), ErrInvalidTransition)
	assert.ErrorIs(t, f.m.Play(p.Primary()), ErrInvalidTransition)
}

func TestMachine_VolumeAndFullscreen(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1)}, nil)
	require.NoError(t, f.m.Play(p.Primary()))
	f.pings.reset()

	f.m.OnVolumeChanged(0)
	f.m.OnVolumeChanged(0)
	f.m.OnVolumeChanged(0.5)
	f.m.OnFullscreenChanged(true)
	f.m.OnFullscreenChanged(false)
	require.NoError(t, f.m.Click())

	assert.Equal(t, []string{"mute", "unmute", "fullscreen", "exitFullscreen", "click"}, f.pings.events())
}

func TestMachine_SkipAdvances(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1), ad("b", 2)}, nil)
	require.NoError(t, f.m.Play(p.Primary()))
	f.pings.reset()

	require.NoError(t, f.m.Skip())
	assert.Equal(t, "b", f.m.Unit().Current.ID())
	assert.Equal(t, []string{"skip", "impression", "creativeView", "start"}, f.pings.events())
}

func TestMachine_FailPlaysFallback(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1), ad("b", 2)}, []*wrapper.Ad{ad("fb", 0)})
	require.NoError(t, f.m.Play(p.Primary()))
	f.pings.reset()

	require.NoError(t, f.m.Fail(vast.NewError(vast.CodeGeneralLinearAds, "decode failed", nil)))

	unit := f.m.Unit()
	require.NotNil(t, unit.Current)
	assert.Equal(t, "fb", unit.Current.ID())
	assert.Equal(t, Playing, unit.Mode)

	f.ctrl.AssertCalled(t, "ForceAdToPlay", "test", p.Fallback, pod.Linear, []string{"https://cdn.example.com/fb.mp4"})
	f.ctrl.AssertNumberOfCalls(t, "NotifyPodStarted", 1)
	f.ctrl.AssertNotCalled(t, "NotifyPodEnded", mock.Anything)

	f.pings.mu.Lock()
	require.NotEmpty(t, f.pings.reqs)
	first := f.pings.reqs[0]
	f.pings.mu.Unlock()
	assert.Equal(t, "error", first.Event)
	assert.Equal(t, vast.CodeGeneralLinearAds, first.ErrorCode)

	require.NoError(t, f.m.Complete())
	f.ctrl.AssertCalled(t, "NotifyPodEnded", "a")
	assert.Equal(t, Ended, f.m.Mode())
}

func TestMachine_FailWithoutFallbackEndsPod(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1), ad("b", 2)}, nil)
	require.NoError(t, f.m.Play(p.Primary()))

	require.NoError(t, f.m.Fail(errors.New("boom")))
	assert.Equal(t, Failed, f.m.Mode())
	f.ctrl.AssertCalled(t, "RaiseAdError", "boom")
	f.ctrl.AssertCalled(t, "NotifyPodEnded", "a")
	f.ctrl.AssertNotCalled(t, "ForceAdToPlay", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMachine_FallbackFailureEndsPod(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1)}, []*wrapper.Ad{ad("fb", 0)})
	require.NoError(t, f.m.Play(p.Primary()))
	require.NoError(t, f.m.Fail(errors.New("first")))
	require.NoError(t, f.m.Fail(errors.New("second")))

	assert.Equal(t, Failed, f.m.Mode())
	f.ctrl.AssertNumberOfCalls(t, "ForceAdToPlay", 1)
	f.ctrl.AssertCalled(t, "NotifyPodEnded", "a")
}

func TestMachine_CancelIsSilent(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1)}, nil)
	require.NoError(t, f.m.Play(p.Primary()))
	before := len(f.ctrl.methods())
	f.pings.reset()

	f.m.Cancel(nil, "host request")
	assert.Equal(t, Idle, f.m.Mode())
	assert.Len(t, f.ctrl.methods(), before)
	assert.Empty(t, f.pings.events())
	assert.ErrorIs(t, f.m.Complete(), ErrNoCurrentAd)
}

func TestMachine_CancelOtherMemberIgnored(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1), ad("b", 2)}, nil)
	require.NoError(t, f.m.Play(p.Primary()))

	f.m.Cancel(p.Members[1], "stale")
	assert.Equal(t, Playing, f.m.Mode())
}

func TestMachine_LoadLifecycle(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1)}, nil)

	ticket, err := f.m.Load("req-1")
	require.NoError(t, err)
	assert.Equal(t, Loading, f.m.Mode())
	assert.Equal(t, "req-1", f.m.Unit().LoadingKey)
	_, err = f.m.Load("req-2")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, f.m.Loaded(ticket, p.Primary()))
	assert.Equal(t, Playing, f.m.Mode())
	assert.Empty(t, f.m.Unit().LoadingKey)

	f.m.Reset()
	ticket, err = f.m.Load("req-3")
	require.NoError(t, err)
	f.m.LoadFailed(ticket, vast.NewError(vast.CodeWrapperNoAds, "empty", nil))
	assert.Equal(t, Failed, f.m.Mode())
	f.ctrl.AssertCalled(t, "NotifyPodEnded", "req-3")

	// a late failure for a finished request is ignored
	f.m.LoadFailed(ticket, errors.New("late"))
	f.ctrl.AssertNumberOfCalls(t, "NotifyPodEnded", 1)
}

func TestMachine_StaleLoadTicket(t *testing.T) {
	f := newFixture()
	p := assemble(t, []*wrapper.Ad{ad("a", 1)}, nil)

	stale, err := f.m.Load("req-1")
	require.NoError(t, err)
	f.m.Reset()

	fresh, err := f.m.Load("req-2")
	require.NoError(t, err)
	assert.NotEqual(t, stale, fresh)

	f.m.LoadFailed(stale, errors.New("superseded"))
	assert.Equal(t, Loading, f.m.Mode())
	assert.Equal(t, "req-2", f.m.Unit().LoadingKey)
	assert.ErrorIs(t, f.m.Loaded(stale, p.Primary()), ErrStaleLoad)
	assert.Equal(t, Loading, f.m.Mode())

	require.NoError(t, f.m.Loaded(fresh, p.Primary()))
	assert.Equal(t, Playing, f.m.Mode())
	f.ctrl.AssertNotCalled(t, "NotifyPodEnded", "req-1")
}

func TestMachine_NonLinear(t *testing.T) {
	f := newFixture()
	hybrid := ad("h", 1)
	hybrid.Template.NonLinear = &vast.NonLinear{
		Resource:          vast.ResourceStatic,
		URL:               "https://cdn.example.com/h.png",
		ClickTrackingURLs: []string{"https://t.example.com/h/nlclick"},
	}
	p := assemble(t, []*wrapper.Ad{hybrid}, nil)
	require.Equal(t, 2, p.Len())

	require.NoError(t, f.m.Play(p.Primary()))
	require.NoError(t, f.m.Complete())

	unit := f.m.Unit()
	require.NotNil(t, unit.Current)
	assert.Equal(t, pod.NonLinear, unit.Current.Type)
	f.pings.reset()
	require.NoError(t, f.m.Click())
	assert.Equal(t, []string{"nonLinearClick"}, f.pings.events())

	require.NoError(t, f.m.Complete())
	f.ctrl.AssertCalled(t, "NotifyNonLinearAdEnded", "h")
	f.ctrl.AssertCalled(t, "NotifyPodEnded", "h")
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "playing", Playing.String())
	assert.Equal(t, "idle", Mode(42).String())
	assert.True(t, Skipped.Terminal())
	assert.False(t, Paused.Terminal())
}

func TestDefaultTimeouts(t *testing.T) {
	m := NewMachine(context.Background(), &MockController{}, nil, Config{})
	assert.Equal(t, DefaultTimeouts(), m.cfg.Timeouts)
	assert.Equal(t, "vast", m.cfg.ManagerName)
	assert.Equal(t, 5*time.Second, m.cfg.Timeouts.IFrameLoad)
}
