package worker

// OutcomeKind is the structured result of one task run. The scheduler
// decides requeue-vs-fail from this, never from sniffing error text.
type OutcomeKind string

const (
	OutcomeCompleted   OutcomeKind = "completed"
	OutcomeRetryable   OutcomeKind = "retryable"
	OutcomeRateLimited OutcomeKind = "rate_limited"
	OutcomeTerminal    OutcomeKind = "terminal"
	OutcomeCancelled   OutcomeKind = "cancelled"
)

// Outcome reports how a task run ended.
type Outcome struct {
	Kind OutcomeKind
	// Failure is set for every kind except Completed and Cancelled
	Failure *StepError
	// RecordID is the persisted graph record on success
	RecordID string
}

func completed(recordID string) Outcome {
	return Outcome{Kind: OutcomeCompleted, RecordID: recordID}
}

func cancelled() Outcome {
	return Outcome{Kind: OutcomeCancelled}
}

// failureOutcome maps a StepError's class onto the outcome kind.
func failureOutcome(err *StepError) Outcome {
	switch err.Class {
	case FailureRateLimit:
		return Outcome{Kind: OutcomeRateLimited, Failure: err}
	case FailureUnsupported, FailureParse:
		return Outcome{Kind: OutcomeTerminal, Failure: err}
	default:
		return Outcome{Kind: OutcomeRetryable, Failure: err}
	}
}
