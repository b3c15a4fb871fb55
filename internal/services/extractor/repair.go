package extractor

import (
	"encoding/json"
	"regexp"
	"strings"
)

// parseOrRepair tries strict parsing first, then a structural repair
// pass. Returns the valid JSON text and whether repair was needed.
func parseOrRepair(text string) (string, bool, error) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return trimmed, false, nil
	}

	repaired := repairJSON(trimmed)
	if json.Valid([]byte(repaired)) {
		return repaired, true, nil
	}
	return "", false, &ExtractionError{
		Reason: "payload unparseable after repair",
		Diagnostics: Diagnostics{
			Strategy:    "repair",
			TextLength:  len(trimmed),
			TextPreview: preview(trimmed),
		},
	}
}

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	fenceRemnant  = regexp.MustCompile("```(?:json)?")
)

// markdownEscape matches a backslash escaping markdown punctuation. The
// HTML-to-text conversion inserts these in prose; none of them is a
// valid JSON escape, so stripping the backslash is always safe.
var markdownEscape = regexp.MustCompile(`\\([\[\]*_\-.#+!()>~|])`)

// repairJSON applies tolerant structural fixes to almost-JSON: fence
// remnants, markdown escape artifacts, trailing commas, raw newlines
// inside strings, and unbalanced closers from truncated output.
func repairJSON(text string) string {
	repaired := fenceRemnant.ReplaceAllString(text, "")
	repaired = strings.TrimSpace(repaired)
	repaired = markdownEscape.ReplaceAllString(repaired, "$1")
	repaired = trailingComma.ReplaceAllString(repaired, "$1")
	repaired = escapeNewlinesInStrings(repaired)
	repaired = balanceClosers(repaired)
	return repaired
}

// escapeNewlinesInStrings replaces literal newlines occurring inside
// string values with their escaped form. Models routinely emit multi-line
// descriptions without escaping them.
func escapeNewlinesInStrings(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	inString := false
	escaped := false
	for _, r := range text {
		if escaped {
			sb.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
			sb.WriteRune(r)
		case '"':
			inString = !inString
			sb.WriteRune(r)
		case '\n':
			if inString {
				sb.WriteString(`\n`)
			} else {
				sb.WriteRune(r)
			}
		case '\r':
			if inString {
				sb.WriteString(`\r`)
			} else {
				sb.WriteRune(r)
			}
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// balanceClosers appends missing closing braces/brackets to truncated
// output and drops surplus closers past the point the document balances.
func balanceClosers(text string) string {
	var stack []rune
	inString := false
	escaped := false
	end := len(text)

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, r)
			}
		case '}', ']':
			if inString {
				continue
			}
			if len(stack) == 0 {
				// Surplus closer: everything from here on is trailing noise
				end = i
				return strings.TrimSpace(text[:end])
			}
			open := stack[len(stack)-1]
			if (r == '}' && open == '{') || (r == ']' && open == '[') {
				stack = stack[:len(stack)-1]
			}
		}
	}

	result := text[:end]
	// Truncated mid-string: close it before closing containers
	if inString {
		result += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			result += "}"
		} else {
			result += "]"
		}
	}
	return result
}
