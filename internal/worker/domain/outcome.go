package domain

import "github.com/cuongbtq/repairshop-worker/internal/worker/variables"

// Outcome is the single result reported to the engine for a job attempt.
// Only the fields of its Kind are meaningful.
type Outcome struct {
	Kind OutcomeKind

	// Completed
	Output variables.Bag

	// Failed
	RetriesRemaining uint
	Reason           string

	// BusinessError
	Code    string
	Message string
}

// Completed creates a completion outcome
func Completed(output variables.Bag) Outcome {
	return Outcome{Kind: OutcomeCompleted, Output: output}
}

// Failed creates a failure outcome
func Failed(retriesRemaining uint, reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, RetriesRemaining: retriesRemaining, Reason: reason}
}

// BusinessErrorOutcome creates a business error outcome
func BusinessErrorOutcome(code, message string) Outcome {
	return Outcome{Kind: OutcomeBusinessError, Code: code, Message: message}
}

// DecrementRetries returns retries-1, floored at zero
func DecrementRetries(retries uint) uint {
	if retries == 0 {
		return 0
	}
	return retries - 1
}
