package model

// Outcome is the verdict of broadcast arbitration for one submitted event.
type Outcome int16

const (
	OutcomeAccepted Outcome = iota + 1
	OutcomeIgnoredDisarmed
	OutcomeIgnoredDuplicate
	OutcomeRejectedInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeIgnoredDisarmed:
		return "ignored_disarmed"
	case OutcomeIgnoredDuplicate:
		return "ignored_duplicate"
	case OutcomeRejectedInvalid:
		return "rejected_invalid"
	default:
		return "unknown"
	}
}

// Result maps the outcome onto the wire result reported to the producer.
// Ignored events are a success: producers must not retry them.
func (o Outcome) Result() string {
	switch o {
	case OutcomeAccepted, OutcomeIgnoredDisarmed, OutcomeIgnoredDuplicate:
		return ResultSuccess
	default:
		return ResultFailed
	}
}

// Ignored reports whether the outcome is a policy ignore rather than an acceptance or a rejection.
func (o Outcome) Ignored() bool {
	return o == OutcomeIgnoredDisarmed || o == OutcomeIgnoredDuplicate
}

// Detail reasons attached to outcomes.
const (
	ReasonNotArmed      = "not_armed"
	ReasonPreviousValid = "previous_valid"
	ReasonDuplicateID   = "duplicate_id"
)

const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)
