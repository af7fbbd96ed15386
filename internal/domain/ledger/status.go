package ledger

import "fmt"

// Status is the reconciliation_status of a transaction, receipt or payment.
type Status string

const (
	StatusUnmatched         Status = "unmatched"
	StatusCandidateProposed Status = "candidate_proposed"
	StatusLinked            Status = "linked"
	StatusVerified          Status = "verified"
	StatusDisputed          Status = "disputed"
	StatusExcluded          Status = "excluded"
)

// transitions is the only table of legal status changes.
var transitions = map[Status][]Status{
	StatusUnmatched:         {StatusCandidateProposed, StatusLinked, StatusExcluded},
	StatusCandidateProposed: {StatusLinked, StatusUnmatched, StatusExcluded},
	StatusLinked:            {StatusVerified, StatusDisputed},
	StatusVerified:          {StatusDisputed},
	StatusDisputed:          {StatusUnmatched},
	StatusExcluded:          nil,
}

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown status %q: %w", s, ErrInvalidRecord)
	}
	return st, nil
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsOpen reports whether the record can still be matched.
func (s Status) IsOpen() bool {
	return s == StatusUnmatched || s == StatusCandidateProposed
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the new status.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return to, nil
}
