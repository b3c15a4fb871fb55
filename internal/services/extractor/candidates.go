package extractor

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// candidate is one plausible JSON span pulled out of container text.
type candidate struct {
	text     string
	strategy string
}

const (
	strategySentinel = "sentinel"
	strategyFence    = "fence"
	strategyBrace    = "brace"
)

// collectCandidates gathers every plausible JSON span via the three
// independent strategies and drops anything under the substantial-length
// floor, both before and after the skeleton-echo trim. Candidates keep
// their strategy tag so selection can prefer the unambiguous ones.
func (s *Service) collectCandidates(text string) []candidate {
	var candidates []candidate

	for _, span := range s.sentinelCandidates(text) {
		candidates = append(candidates, candidate{text: span, strategy: strategySentinel})
	}
	for _, span := range fencedCandidates(text) {
		candidates = append(candidates, candidate{text: span, strategy: strategyFence})
	}
	if span, ok := braceCandidate(text); ok {
		candidates = append(candidates, candidate{text: span, strategy: strategyBrace})
	}

	kept := candidates[:0]
	for _, c := range candidates {
		trimmed := strings.TrimSpace(c.text)
		if len(trimmed) < s.config.MinCandidateLength {
			continue
		}
		trimmed = s.trimSkeletonEcho(trimmed)
		// The floor applies again after the trim: a page-wide brace span
		// can clear it on prose alone and then shrink to the echoed empty
		// skeleton, which is exactly what the floor is there to reject
		if len(trimmed) < s.config.MinCandidateLength {
			continue
		}
		c.text = trimmed
		kept = append(kept, c)
	}
	return kept
}

// pickCandidate selects the winner. Sentinel spans were explicitly
// requested in the prompt to bound the answer, so a surviving sentinel
// candidate always beats fence and brace spans that may have swallowed
// the echoed prompt around it. Within a strategy the longest candidate
// wins: a correct full payload is always substantially larger than any
// truncated or templated fragment.
func pickCandidate(candidates []candidate) (candidate, bool) {
	for _, strategy := range []string{strategySentinel, strategyFence, strategyBrace} {
		var best candidate
		found := false
		for _, c := range candidates {
			if c.strategy != strategy {
				continue
			}
			if !found || len(c.text) > len(best.text) {
				best = c
				found = true
			}
		}
		if found {
			return best, true
		}
	}
	return candidate{}, false
}

// sentinelCandidates extracts every span bounded by the configured
// start/end delimiters.
func (s *Service) sentinelCandidates(text string) []string {
	start, end := s.config.SentinelStart, s.config.SentinelEnd
	if start == "" || end == "" {
		return nil
	}

	var spans []string
	remaining := text
	for {
		i := strings.Index(remaining, start)
		if i < 0 {
			break
		}
		rest := remaining[i+len(start):]
		j := strings.Index(rest, end)
		if j < 0 {
			// Unterminated sentinel: take everything after the marker,
			// the payload may be truncated but still repairable
			spans = append(spans, rest)
			break
		}
		spans = append(spans, rest[:j])
		remaining = rest[j+len(end):]
	}
	return spans
}

// fencedCandidates pulls the literal content of fenced code blocks out of
// the markdown via the goldmark AST. Only JSON-shaped blocks qualify.
func fencedCandidates(markdown string) []string {
	source := []byte(markdown)
	parser := goldmark.New()
	doc := parser.Parser().Parse(text.NewReader(source))

	var spans []string
	ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		// Indented code blocks count too; both carry literal content
		switch node.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
		default:
			return ast.WalkContinue, nil
		}

		var sb strings.Builder
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			sb.Write(segment.Value(source))
		}
		content := sb.String()
		if strings.Contains(content, "{") {
			spans = append(spans, content)
		}
		return ast.WalkContinue, nil
	})
	return spans
}

// braceCandidate is the brute-force first-'{'-to-last-'}' span.
func braceCandidate(text string) (string, bool) {
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first < 0 || last <= first {
		return "", false
	}
	return text[first : last+1], true
}

// keyMarker anchors the skeleton-echo trim. The knowledge-graph schema
// always opens with a nodes collection, so its key doubles as the
// payload's signature.
const keyMarker = `"nodes"`

// emptySkeleton matches the echoed prompt template: the key marker
// followed immediately by an empty collection.
var emptySkeleton = regexp.MustCompile(`"nodes"\s*:\s*\[\s*\]`)

// trimSkeletonEcho recovers real data concatenated after an echoed empty
// schema template. When a candidate still contains the empty-skeleton
// pattern and the key marker occurs again further in, the candidate is
// re-anchored at the object opening just before that second occurrence.
func (s *Service) trimSkeletonEcho(text string) string {
	if !emptySkeleton.MatchString(text) {
		return text
	}

	first := strings.Index(text, keyMarker)
	if first < 0 {
		return text
	}
	second := strings.Index(text[first+len(keyMarker):], keyMarker)
	if second < 0 {
		return text
	}
	secondAbs := first + len(keyMarker) + second

	// Re-anchor at the '{' that opens the object carrying the second
	// occurrence
	opening := strings.LastIndex(text[:secondAbs], "{")
	if opening < 0 {
		return text
	}
	closing := strings.LastIndex(text, "}")
	if closing <= opening {
		return text
	}
	return text[opening : closing+1]
}
