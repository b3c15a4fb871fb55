package worker

import (
	"fmt"
	"strings"
)

// FailureClass is the structured error taxonomy. Classes are raised
// deliberately by the layer that detects the condition; the message
// heuristic in classifyMessage exists only for errors that bubble up
// from the driver unclassified.
type FailureClass string

const (
	// FailureRetryable covers web-UI volatility: element not found within
	// a bounded wait, generation timeout, empty extraction, navigation
	// timeout. Retried via the task retry counter.
	FailureRetryable FailureClass = "retryable"
	// FailureRateLimit cools the account down and retries the task,
	// preferably on a different account.
	FailureRateLimit FailureClass = "rate_limit"
	// FailureUnsupported marks flows automation cannot pass (second
	// factor, persistent selector loss). The account is not blamed.
	FailureUnsupported FailureClass = "unsupported"
	// FailureParse means the payload stayed unparseable after repair.
	// Terminal; diagnostics retained for operators.
	FailureParse FailureClass = "parse"
)

// StepError is a classified failure from one worker step, carrying the
// diagnostics operators need to see why without reproducing the run.
type StepError struct {
	Step        string
	Class       FailureClass
	Diagnostics map[string]string
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Step, e.Class, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// stepErr builds a StepError with optional diagnostics pairs.
func stepErr(step string, class FailureClass, err error, kv ...string) *StepError {
	diagnostics := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		diagnostics[kv[i]] = kv[i+1]
	}
	return &StepError{Step: step, Class: class, Diagnostics: diagnostics, Err: err}
}

// rateLimitMarkers are the substrings that indicate throttling when they
// surface in driver errors or on-page banners.
var rateLimitMarkers = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"quota",
	"reached your limit",
	"try again later",
	"unusual traffic",
}

// classifyMessage is the fallback classifier for unstructured errors.
// Everything not recognizably a rate limit counts as retryable; terminal
// classes are only ever raised structurally.
func classifyMessage(message string) FailureClass {
	lowered := strings.ToLower(message)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lowered, marker) {
			return FailureRateLimit
		}
	}
	return FailureRetryable
}
