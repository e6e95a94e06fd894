package vast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vmapXML = `<?xml version="1.0" encoding="UTF-8"?>
<vmap:VMAP xmlns:vmap="http://www.iab.net/videosuite/vmap" version="1.0">
  <vmap:AdBreak timeOffset="start" breakType="linear" breakId="preroll">
    <vmap:AdSource id="pre-source" allowMultipleAds="false" followRedirects="true">
      <vmap:AdTagURI templateType="vast3"><![CDATA[https://ads.example.com/pre.xml]]></vmap:AdTagURI>
    </vmap:AdSource>
    <vmap:TrackingEvents>
      <vmap:Tracking event="breakStart"><![CDATA[https://example.com/break-start]]></vmap:Tracking>
      <vmap:Tracking event="breakEnd"><![CDATA[https://example.com/break-end]]></vmap:Tracking>
      <vmap:Tracking event="error"><![CDATA[https://example.com/break-error]]></vmap:Tracking>
    </vmap:TrackingEvents>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="00:10:00.000" breakType="linear,nonlinear" breakId="mid" repeatAfter="00:10:00">
    <vmap:AdSource id="mid-source">
      <vmap:VASTAdData>
        <VAST version="3.0">
          <Ad id="inline-mid"><InLine><Creatives><Creative><Linear>
            <Duration>00:00:15</Duration>
            <MediaFiles><MediaFile type="video/mp4">https://cdn.example.com/mid.mp4</MediaFile></MediaFiles>
          </Linear></Creative></Creatives></InLine></Ad>
        </VAST>
      </vmap:VASTAdData>
    </vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="50%" breakType="nonlinear" breakId="half">
    <vmap:AdSource><vmap:AdTagURI>https://ads.example.com/half.xml</vmap:AdTagURI></vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="#2" breakId="second-opportunity">
    <vmap:AdSource><vmap:AdTagURI>https://ads.example.com/pos.xml</vmap:AdTagURI></vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="end" breakType="linear" breakId="postroll">
    <vmap:AdSource><vmap:AdTagURI>https://ads.example.com/post.xml</vmap:AdTagURI></vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="-01:00:10" breakId="bad-offset">
    <vmap:AdSource><vmap:AdTagURI>https://ads.example.com/bad.xml</vmap:AdTagURI></vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="start" breakId="no-source"/>
</vmap:VMAP>`

func parseVMAP(t *testing.T) *Schedule {
	t.Helper()
	doc, err := ParseDocumentString(vmapXML)
	require.NoError(t, err)
	s, err := ParseSchedule(doc)
	require.NoError(t, err)
	return s
}

func TestParseSchedule(t *testing.T) {
	s := parseVMAP(t)
	assert.Equal(t, "1.0", s.Version)
	require.Len(t, s.Entries, 5, "breaks with a bad offset or no source are skipped")

	pre := s.Entries[0]
	assert.Equal(t, "preroll", pre.BreakID)
	assert.Equal(t, OffsetStart, pre.Offset.Kind)
	assert.Equal(t, []string{"linear"}, pre.BreakTypes)
	assert.Equal(t, "pre-source", pre.SourceID)
	assert.False(t, pre.AllowMultipleAds)
	assert.True(t, pre.FollowRedirects)
	assert.Equal(t, "https://ads.example.com/pre.xml", pre.AdTagURI)
	assert.Equal(t, "vast3", pre.TemplateType)
	assert.Nil(t, pre.InlineVAST)
	assert.Equal(t, []string{"https://example.com/break-start"}, pre.Tracking.BreakStart)
	assert.Equal(t, []string{"https://example.com/break-end"}, pre.Tracking.BreakEnd)
	assert.Equal(t, []string{"https://example.com/break-error"}, pre.Tracking.Error)
	assert.Equal(t, "preroll", pre.Roll())

	mid := s.Entries[1]
	assert.Equal(t, OffsetTime, mid.Offset.Kind)
	assert.Equal(t, int64(600000), mid.Offset.Millis)
	assert.Equal(t, int64(600000), mid.RepeatAfterMs)
	assert.Equal(t, []string{"linear", "nonlinear"}, mid.BreakTypes)
	assert.True(t, mid.AllowMultipleAds, "allowMultipleAds defaults to true")
	assert.Empty(t, mid.AdTagURI)
	require.NotNil(t, mid.InlineVAST)
	assert.Equal(t, "midroll", mid.Roll())

	inline, err := ResolveDocument(mid.InlineVAST)
	require.NoError(t, err)
	require.Len(t, inline.Templates(), 1)
	assert.Equal(t, "inline-mid", inline.Templates()[0].ID)

	half := s.Entries[2]
	assert.Equal(t, OffsetPercent, half.Offset.Kind)
	assert.Equal(t, 50.0, half.Offset.Percent)
	assert.True(t, half.HasBreakType("nonlinear"))
	assert.False(t, half.HasBreakType("linear"))

	pos := s.Entries[3]
	assert.Equal(t, OffsetPosition, pos.Offset.Kind)
	assert.Equal(t, 2, pos.Offset.Position)
	assert.True(t, pos.HasBreakType("display"), "no types allows everything")

	post := s.Entries[4]
	assert.Equal(t, OffsetEnd, post.Offset.Kind)
	assert.Equal(t, "postroll", post.Roll())
}

func TestSchedule_Occurrences(t *testing.T) {
	s := parseVMAP(t)

	// 25 minutes of content
	occ := s.Occurrences(1500000)
	offsets := make([]int64, 0, len(occ))
	ids := make([]string, 0, len(occ))
	for _, o := range occ {
		offsets = append(offsets, o.OffsetMs)
		ids = append(ids, o.Entry.BreakID)
	}

	assert.Equal(t, []int64{0, 600000, 750000, 1200000, 1500000}, offsets)
	assert.Equal(t, []string{"preroll", "mid", "half", "mid", "postroll"}, ids)
}

func TestSchedule_OccurrencesUnknownDuration(t *testing.T) {
	s := parseVMAP(t)

	occ := s.Occurrences(0)
	require.Len(t, occ, 2, "only start and fixed time offsets can be placed")
	assert.Equal(t, "preroll", occ[0].Entry.BreakID)
	assert.Equal(t, "mid", occ[1].Entry.BreakID)
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		raw     string
		kind    OffsetKind
		wantErr bool
	}{
		{"start", OffsetStart, false},
		{"END", OffsetEnd, false},
		{"00:00:30", OffsetTime, false},
		{"25%", OffsetPercent, false},
		{"#1", OffsetPosition, false},
		{"#0", OffsetPosition, true},
		{"150%", OffsetPercent, true},
		{"", OffsetStart, true},
		{"soon", OffsetStart, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			o, err := ParseOffset(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, o.Kind)
		})
	}
}

func TestParseSchedule_NotVMAP(t *testing.T) {
	doc, err := ParseDocumentString(vastDoc("3.0", inlineAd("a", 0)))
	require.NoError(t, err)

	_, err = ParseSchedule(doc)
	require.Error(t, err)
	assert.Equal(t, CodeSchemaValidation, CodeOf(err))
}
