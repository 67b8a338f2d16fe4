package domain

import "fmt"

// FallbackOutcome classifies the end of a parameter fallback search.
type FallbackOutcome int

// Fallback outcomes.
const (
	FallbackSuccess FallbackOutcome = iota
	FallbackExhausted
	FallbackAborted
)

// String returns the outcome name.
func (o FallbackOutcome) String() string {
	switch o {
	case FallbackSuccess:
		return "success"
	case FallbackExhausted:
		return "exhausted"
	case FallbackAborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FallbackResult is the result of a parameter fallback search.
type FallbackResult struct {
	Outcome     FallbackOutcome
	Path        string        // Downloaded file, set on success
	Combination Combination   // Combination that succeeded or caused the abort
	Attempted   []Combination // Combinations tried by the search, in order
	Err         error         // Unrelated error that stopped the search
}

// Ok reports whether the search found data.
func (r FallbackResult) Ok() bool {
	return r.Outcome == FallbackSuccess
}

// Error returns the search failure as an error, or nil on success.
func (r FallbackResult) Error() error {
	switch r.Outcome {
	case FallbackSuccess:
		return nil
	case FallbackExhausted:
		return fmt.Errorf("no suitable data for any of %d combinations: %w",
			len(r.Attempted), ErrNoDataForParameters)
	default:
		return fmt.Errorf("fallback aborted at %s: %w", r.Combination, r.Err)
	}
}
