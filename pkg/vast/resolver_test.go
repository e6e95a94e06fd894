package vast

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inlineAd(id string, sequence int) string {
	seq := ""
	if sequence > 0 {
		seq = fmt.Sprintf(` sequence="%d"`, sequence)
	}
	return fmt.Sprintf(`<Ad id="%s"%s><InLine><AdSystem>Test</AdSystem><Creatives><Creative><Linear>
<Duration>00:00:10</Duration>
<MediaFiles><MediaFile type="video/mp4">https://cdn.example.com/%s.mp4</MediaFile></MediaFiles>
</Linear></Creative></Creatives></InLine></Ad>`, id, seq, id)
}

func wrapperAd(id, uri string) string {
	return fmt.Sprintf(`<Ad id="%s"><Wrapper><VASTAdTagURI><![CDATA[%s]]></VASTAdTagURI></Wrapper></Ad>`, id, uri)
}

func vastDoc(version string, ads ...string) string {
	return fmt.Sprintf(`<VAST version="%s">%s</VAST>`, version, strings.Join(ads, ""))
}

func resolve(t *testing.T, xml string) (*Document, error) {
	t.Helper()
	doc, err := ParseDocumentString(xml)
	require.NoError(t, err)
	return ResolveDocument(doc)
}

func TestResolveDocument_NValidInlineAds(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d ads", n), func(t *testing.T) {
			ads := make([]string, 0, n+1)
			for i := 0; i < n; i++ {
				ads = append(ads, inlineAd(fmt.Sprintf("ad-%d", i), 0))
			}
			// one malformed element is skipped, not counted
			ads = append(ads, `<Ad id="bad"><Unknown/></Ad>`)

			d, err := resolve(t, vastDoc("3.0", ads...))
			require.NoError(t, err)
			assert.Len(t, d.Templates(), n)
			assert.Equal(t, []int{n}, d.Skipped)
			assert.Equal(t, ClassAllInline, d.Class)
			for i, tmpl := range d.Standalone {
				assert.Equal(t, i, tmpl.Position)
			}
		})
	}
}

func TestResolveDocument_NoAds(t *testing.T) {
	xml := `<VAST version="3.0">
  <Error><![CDATA[https://example.com/no-ads?code=[ERRORCODE]]]></Error>
</VAST>`

	d, err := resolve(t, xml)
	require.Error(t, err)
	assert.Equal(t, CodeWrapperNoAds, CodeOf(err))
	assert.Empty(t, d.Templates())
	assert.Equal(t, []string{"https://example.com/no-ads?code=[ERRORCODE]"}, d.ErrorURLs)
}

func TestResolveDocument_NoAdsBeforeVersionCheck(t *testing.T) {
	d, err := resolve(t, `<VAST version="9.0"><Error>https://example.com/e</Error></VAST>`)
	assert.True(t, IsCode(err, CodeWrapperNoAds))
	assert.Equal(t, []string{"https://example.com/e"}, d.ErrorURLs)
}

func TestResolveDocument_Validity(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		code ErrorCode
	}{
		{
			name: "missing VAST root",
			xml:  `<Other>` + inlineAd("a", 0) + `</Other>`,
			code: CodeSchemaValidation,
		},
		{
			name: "two VAST roots",
			xml:  `<Root>` + vastDoc("3.0", inlineAd("a", 0)) + vastDoc("3.0", inlineAd("b", 0)) + `</Root>`,
			code: CodeSchemaValidation,
		},
		{
			name: "unsupported major",
			xml:  vastDoc("4.1", inlineAd("a", 0)),
			code: CodeVersionUnsupported,
		},
		{
			name: "unreadable version",
			xml:  vastDoc("abc", inlineAd("a", 0)),
			code: CodeVersionUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolve(t, tt.xml)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}
}

func TestResolveDocument_PoddedVersion3(t *testing.T) {
	d, err := resolve(t, vastDoc("3.0",
		inlineAd("third", 3),
		inlineAd("first", 1),
		inlineAd("solo", 0),
		inlineAd("second", 2),
	))
	require.NoError(t, err)

	assert.Equal(t, 3, d.Major)
	assert.True(t, d.Features.Podded)
	assert.True(t, d.Features.Fallback)

	require.Len(t, d.Podded, 3)
	assert.Equal(t, "first", d.Podded[0].ID)
	assert.Equal(t, "second", d.Podded[1].ID)
	assert.Equal(t, "third", d.Podded[2].ID)
	require.Len(t, d.Standalone, 1)
	assert.Equal(t, "solo", d.Standalone[0].ID)
}

func TestResolveDocument_Version2IgnoresSequence(t *testing.T) {
	d, err := resolve(t, vastDoc("2.0", inlineAd("a", 1), inlineAd("b", 2)))
	require.NoError(t, err)

	assert.False(t, d.Features.Podded)
	assert.False(t, d.Features.Fallback)
	assert.Empty(t, d.Podded)
	assert.Len(t, d.Standalone, 2)
}

func TestResolveDocument_DuplicateSequence(t *testing.T) {
	d, err := resolve(t, vastDoc("3.0", inlineAd("a", 1), inlineAd("b", 1)))
	require.NoError(t, err)

	require.Len(t, d.Podded, 1)
	assert.Equal(t, "a", d.Podded[0].ID)
	require.Len(t, d.Standalone, 1)
	assert.Equal(t, "b", d.Standalone[0].ID)
}

func TestResolveDocument_SequenceHoles(t *testing.T) {
	d, err := resolve(t, vastDoc("3.0", inlineAd("a", 1), inlineAd("c", 3)))
	require.NoError(t, err)

	require.Len(t, d.Podded, 3)
	assert.Nil(t, d.Podded[1])
	assert.Len(t, d.Templates(), 2)
}

func TestResolveDocument_Classification(t *testing.T) {
	d, err := resolve(t, vastDoc("3.0", wrapperAd("w", "https://example.com/next")))
	require.NoError(t, err)
	assert.Equal(t, ClassAllWrapper, d.Class)

	d, err = resolve(t, vastDoc("3.0", wrapperAd("w", "https://example.com/next"), inlineAd("i", 0)))
	require.NoError(t, err)
	assert.Equal(t, ClassMixed, d.Class)

	d, err = resolve(t, vastDoc("3.0", `<Ad><Unknown/></Ad>`))
	require.NoError(t, err)
	assert.Equal(t, ClassEmpty, d.Class)
	assert.Equal(t, "empty", d.Class.String())
}

func TestMajorVersion(t *testing.T) {
	major, err := MajorVersion("3.0")
	require.NoError(t, err)
	assert.Equal(t, 3, major)

	major, err = MajorVersion(" 2 ")
	require.NoError(t, err)
	assert.Equal(t, 2, major)

	_, err = MajorVersion("")
	assert.Error(t, err)
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("fetching: %w", NewError(CodeWrapperLimitReached, "too deep", nil))
	assert.Equal(t, CodeWrapperLimitReached, CodeOf(err))
	assert.Equal(t, CodeUndefined, CodeOf(fmt.Errorf("plain")))
	assert.False(t, IsCode(nil, CodeUndefined))
	assert.Equal(t, "wrapper_limit_reached", CodeWrapperLimitReached.String())
	assert.Equal(t, "code_999", ErrorCode(999).String())
}

func TestParseDocument_Malformed(t *testing.T) {
	_, err := ParseDocumentString(`<VAST version="3.0"<Ad>`)
	require.Error(t, err)
	assert.Equal(t, CodeXMLParsing, CodeOf(err))

	_, err = ParseDocument([]byte("not markup"))
	require.Error(t, err)
	assert.Equal(t, CodeXMLParsing, CodeOf(err))
}
