package extractor

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// containerSelectors are the response-container strategies in fallback
// order. The upstream markup changes often, so current selectors come
// first and older generations stay as fallbacks.
var containerSelectors = []string{
	`message-content.model-response-text`,
	`model-response message-content`,
	`div.model-response-text`,
	`div[data-message-author-role="model"]`,
	`div.markdown`,
}

// userTurnSelectors identify containers belonging to the user's own turn.
// Anything inside these is the echoed prompt, never the answer.
var userTurnSelectors = []string{
	`user-query`,
	`div[data-message-author-role="user"]`,
	`div.user-query-container`,
}

// selectContainers returns the text of candidate response containers in
// document order, filtered to JSON-shaped, substantial content with
// user-turn containers excluded. The caller picks the last survivor
// (most recent conversational turn).
func (s *Service) selectContainers(doc *goquery.Document) []string {
	var texts []string

	for _, selector := range containerSelectors {
		selection := doc.Find(selector)
		if selection.Length() == 0 {
			continue
		}

		selection.Each(func(_ int, container *goquery.Selection) {
			if isUserTurn(container) {
				return
			}
			text := s.containerText(container)
			if len(text) < s.config.MinContainerLength {
				return
			}
			if !looksJSONShaped(text, s.config.SentinelStart) {
				return
			}
			texts = append(texts, text)
		})

		// First selector strategy that produced survivors wins; later
		// strategies are fallbacks for older markup, not additions.
		if len(texts) > 0 {
			return texts
		}
	}
	return texts
}

// isUserTurn reports whether the container sits inside a user-turn
// wrapper.
func isUserTurn(container *goquery.Selection) bool {
	for _, selector := range userTurnSelectors {
		if container.Closest(selector).Length() > 0 {
			return true
		}
	}
	return false
}

// looksJSONShaped checks for braces, markdown fencing, or the sentinel
// delimiter, any of which marks the text as potentially carrying a
// payload.
func looksJSONShaped(text, sentinelStart string) bool {
	if strings.Contains(text, "{") {
		return true
	}
	if strings.Contains(text, "```") {
		return true
	}
	if sentinelStart != "" && strings.Contains(text, sentinelStart) {
		return true
	}
	return false
}

// containerText converts a container's HTML to markdown so code blocks
// keep their literal content - in particular the newlines that delimiter
// and brace matching depend on. A plain .Text() flattens code blocks into
// one line and loses them.
func (s *Service) containerText(container *goquery.Selection) string {
	html, err := goquery.OuterHtml(container)
	if err != nil {
		return container.Text()
	}

	converted, err := s.converter.ConvertString(html)
	if err != nil || strings.TrimSpace(converted) == "" {
		return container.Text()
	}
	return converted
}

// pageText flattens the whole document for the last-resort scan.
func (s *Service) pageText(doc *goquery.Document) string {
	html, err := doc.Html()
	if err != nil {
		return doc.Text()
	}
	converted, err := s.converter.ConvertString(html)
	if err != nil || strings.TrimSpace(converted) == "" {
		return doc.Text()
	}
	return converted
}

func newConverter() *md.Converter {
	// Fenced style keeps code-block content byte-literal in the markdown
	return md.NewConverter("", true, &md.Options{
		CodeBlockStyle: "fenced",
		Fence:          "```",
	})
}
