package domain

// OutcomeKind identifies which of the three engine actions an Outcome maps to
type OutcomeKind string

// Outcome kinds
const (
	OutcomeCompleted     OutcomeKind = "COMPLETED"
	OutcomeFailed        OutcomeKind = "FAILED"
	OutcomeBusinessError OutcomeKind = "BUSINESS_ERROR"
)

// Business error codes thrown by the repair-shop handlers
const (
	ErrorCodeNoTrip                  = "no_trip"
	ErrorCodeInvalidMembershipNumber = "invalid_membership_number"
)
