package extractor

import (
	"encoding/json"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/common"
)

// Service recovers a single well-formed JSON payload from a rendered
// conversation page. The page interleaves model prose, the echoed
// prompt, and the payload with no single stable container, so the
// pipeline works candidate lists at every stage instead of trusting any
// one selector or span.
//
// The whole pipeline is pure over the captured HTML: no browser handle,
// fully unit-testable.
type Service struct {
	config    *common.ExtractorConfig
	converter *md.Converter
	logger    arbor.ILogger
}

// NewService creates a response extractor
func NewService(config *common.ExtractorConfig, logger arbor.ILogger) *Service {
	return &Service{
		config:    config,
		converter: newConverter(),
		logger:    logger,
	}
}

// Result carries the recovered payload and how it was found.
type Result struct {
	JSON     json.RawMessage
	Strategy string
	Repaired bool
}

// Extract runs the full pipeline against a rendered page: container
// selection, candidate harvesting, longest-survivor selection, parse,
// repair, and a whole-page fallback scan before giving up.
func (s *Service) Extract(pageHTML string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, &ExtractionError{
			Reason: "page markup unparseable",
			Err:    err,
			Diagnostics: Diagnostics{
				Strategy:   "parse-html",
				TextLength: len(pageHTML),
			},
		}
	}

	containers := s.selectContainers(doc)
	if len(containers) > 0 {
		// Last qualifying container is the most recent conversational turn
		text := containers[len(containers)-1]
		result, err := s.extractFromText(text)
		if err == nil {
			s.logger.Debug().
				Str("strategy", result.Strategy).
				Int("containers", len(containers)).
				Int("payload_bytes", len(result.JSON)).
				Bool("repaired", result.Repaired).
				Msg("Payload extracted from response container")
			return result, nil
		}
		s.logger.Debug().Err(err).Msg("Container extraction failed, trying whole-page scan")
	}

	// Last resort: scan the whole rendered page with the same strategies
	full := s.pageText(doc)
	result, err := s.extractFromText(full)
	if err != nil {
		return nil, &ExtractionError{
			Reason: "no substantial JSON candidate on page",
			Err:    err,
			Diagnostics: Diagnostics{
				Strategy:    "whole-page",
				TextLength:  len(full),
				TextPreview: preview(full),
				Candidates:  0,
			},
		}
	}

	s.logger.Warn().
		Str("strategy", result.Strategy).
		Msg("Payload recovered via whole-page fallback scan")
	return result, nil
}

// extractFromText harvests candidates from one text blob and parses the
// winner.
func (s *Service) extractFromText(text string) (*Result, error) {
	candidates := s.collectCandidates(text)
	winner, ok := pickCandidate(candidates)
	if !ok {
		return nil, &ExtractionError{
			Reason: "no candidate above length floor",
			Diagnostics: Diagnostics{
				Strategy:    "collect",
				TextLength:  len(text),
				TextPreview: preview(text),
				Candidates:  len(candidates),
			},
		}
	}

	parsed, repaired, err := parseOrRepair(winner.text)
	if err != nil {
		return nil, err
	}

	return &Result{
		JSON:     json.RawMessage(parsed),
		Strategy: winner.strategy,
		Repaired: repaired,
	}, nil
}
