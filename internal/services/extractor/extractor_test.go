package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/common"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	config := &common.ExtractorConfig{
		SentinelStart:      "<<<JSON_START>>>",
		SentinelEnd:        "<<<JSON_END>>>",
		MinCandidateLength: 150,
		MinContainerLength: 400,
	}
	return NewService(config, arbor.NewLogger())
}

// graphJSON builds a valid knowledge-graph payload of at least minLen
// bytes.
func graphJSON(t *testing.T, label string, minLen int) string {
	t.Helper()
	var nodes []string
	i := 0
	for {
		nodes = append(nodes, fmt.Sprintf(`{"id":"%s-node-%d","type":"company","name":"Example Holdings %d"}`, label, i, i))
		payload := fmt.Sprintf(`{"nodes":[%s],"edges":[]}`, strings.Join(nodes, ","))
		if len(payload) >= minLen {
			return payload
		}
		i++
	}
}

// Sentinels are entity-escaped the way the browser serializes them in
// page markup; the text content stays the literal delimiter.
const (
	escapedStart = "&lt;&lt;&lt;JSON_START&gt;&gt;&gt;"
	escapedEnd   = "&lt;&lt;&lt;JSON_END&gt;&gt;&gt;"
)

func modelResponsePage(inner string) string {
	return fmt.Sprintf(`<html><body>
		<user-query><message-content><p>Generate the graph. Schema: {"nodes": [], "edges": []}</p></message-content></user-query>
		<message-content class="model-response-text">%s</message-content>
	</body></html>`, inner)
}

func TestSentinelRoundTripWithSkeletonEcho(t *testing.T) {
	s := newTestService(t)
	payload := graphJSON(t, "real", 600)

	// The response echoes the empty schema skeleton before the sentinel
	// delimited answer - the extractor must return exactly the delimited
	// object, never the skeleton.
	inner := fmt.Sprintf(`<p>Here is the knowledge graph you asked for.</p>
		<pre><code>Use this template: {"nodes": [], "edges": []}
%s%s%s
</code></pre>`, escapedStart, payload, escapedEnd)

	result, err := s.Extract(modelResponsePage(inner))
	require.NoError(t, err)
	assert.Equal(t, strategySentinel, result.Strategy)
	assert.JSONEq(t, payload, string(result.JSON))
}

func TestLongestCandidateWins(t *testing.T) {
	s := newTestService(t)
	small := graphJSON(t, "small", 200)
	large := graphJSON(t, "large", 5000)
	require.Less(t, len(small), 1000)

	// The small candidate appears first in document order; length, not
	// position, decides.
	inner := fmt.Sprintf(`<p>Draft:</p><pre><code>%s</code></pre>
		<p>Full result:</p><pre><code>%s</code></pre>`, small, large)

	result, err := s.Extract(modelResponsePage(inner))
	require.NoError(t, err)
	assert.JSONEq(t, large, string(result.JSON))
}

func TestBelowFloorCandidatesDiscarded(t *testing.T) {
	s := newTestService(t)

	// JSON-shaped but tiny: almost always the echoed prompt template
	inner := `<p>` + strings.Repeat("Some helpful prose about graphs. ", 30) +
		`</p><pre><code>{"nodes": [], "edges": []}</code></pre>`

	_, err := s.Extract(modelResponsePage(inner))
	require.Error(t, err)
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Greater(t, extractionErr.Diagnostics.TextLength, 0)
}

func TestSkeletonEchoCannotRideProsePastFloor(t *testing.T) {
	s := newTestService(t)

	// The raw brace span runs from the first skeleton to the second and
	// clears the floor on the prose between them; once the echo trim
	// re-anchors onto the trailing skeleton the floor applies again.
	text := `Schema: {"nodes": [], "edges": []} ` +
		strings.Repeat("Connecting prose about the graph. ", 20) +
		`{"nodes": [], "edges": []}`
	require.Greater(t, len(text), s.config.MinCandidateLength)

	assert.Empty(t, s.collectCandidates(text))
}

func TestUserTurnExcluded(t *testing.T) {
	s := newTestService(t)
	echoed := graphJSON(t, "echo", 600)
	answer := graphJSON(t, "answer", 600)

	page := fmt.Sprintf(`<html><body>
		<user-query><message-content class="model-response-text"><pre><code>%s</code></pre></message-content></user-query>
		<message-content class="model-response-text"><pre><code>%s</code></pre></message-content>
	</body></html>`, echoed, answer)

	result, err := s.Extract(page)
	require.NoError(t, err)
	assert.JSONEq(t, answer, string(result.JSON))
}

func TestSkeletonEchoTrimmedFromBraceSpan(t *testing.T) {
	s := newTestService(t)
	payload := graphJSON(t, "data", 600)

	// Empty template and real payload concatenated in one code block: the
	// brace span covers both, and the trim re-anchors at the second
	// occurrence of the key marker.
	inner := fmt.Sprintf(`<pre><code>{"nodes": [], "edges": []} followed by %s</code></pre>`, payload)

	result, err := s.Extract(modelResponsePage(inner))
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(result.JSON))
}

func TestRepairTrailingCommasAndTruncation(t *testing.T) {
	s := newTestService(t)
	payload := graphJSON(t, "fix", 600)

	// Trailing comma after the last node and a lost closing bracket/brace
	broken := strings.TrimSuffix(payload, `],"edges":[]}`) + `,],"edges":[`

	inner := fmt.Sprintf(`<pre><code>%s</code></pre>`, broken)
	result, err := s.Extract(modelResponsePage(inner))
	require.NoError(t, err)
	assert.True(t, result.Repaired)
	assert.True(t, json.Valid(result.JSON))
}

func TestRepairUnescapedNewlines(t *testing.T) {
	got, repaired, err := parseOrRepair("{\"nodes\":[{\"id\":\"n1\",\"name\":\"line one\nline two\"}],\"edges\":[]}")
	require.NoError(t, err)
	assert.True(t, repaired)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	nodes := decoded["nodes"].([]interface{})
	name := nodes[0].(map[string]interface{})["name"].(string)
	assert.Equal(t, "line one\nline two", name)
}

func TestWholePageFallback(t *testing.T) {
	s := newTestService(t)
	payload := graphJSON(t, "loose", 600)

	// No recognizable response container at all; the payload sits in
	// unknown markup and only the whole-page scan can find it.
	page := fmt.Sprintf(`<html><body><div class="totally-new-wrapper">
		<pre><code>%s%s%s</code></pre>
	</div></body></html>`, escapedStart, payload, escapedEnd)

	result, err := s.Extract(page)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(result.JSON))
}

func TestNoCandidateCarriesDiagnostics(t *testing.T) {
	s := newTestService(t)

	page := `<html><body><message-content class="model-response-text"><p>` +
		strings.Repeat("I could not produce the graph, sorry. ", 30) +
		`</p></message-content></body></html>`

	_, err := s.Extract(page)
	require.Error(t, err)

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, "whole-page", extractionErr.Diagnostics.Strategy)
	assert.NotEmpty(t, extractionErr.Diagnostics.TextPreview)
}

func TestUnterminatedSentinelStillRecovered(t *testing.T) {
	s := newTestService(t)
	payload := graphJSON(t, "cut", 600)
	truncated := payload[:len(payload)-14] // lose "],\"edges\":[]}"

	inner := fmt.Sprintf(`<pre><code>%s%s</code></pre>`, escapedStart, truncated)
	result, err := s.Extract(modelResponsePage(inner))
	require.NoError(t, err)
	assert.True(t, result.Repaired)
	assert.True(t, json.Valid(result.JSON))
}
