package bot

import "github.com/pulkyeet/liquidation-bot/internal/swap"

// Outcome of a whole cycle as seen by the venue fallback.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeBenign // only "no defined pools"; changes nothing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeBenign:
		return "benign"
	}
	return "unknown"
}

// FallbackState chooses the venue for the next cycle. It is on the primary venue
// while Failures < Max and on the secondary one otherwise.
//
//	primary   --success--> primary (Failures = 0)
//	primary   --failure--> primary (Failures++), secondary once Failures == Max
//	secondary --success--> primary (Failures = 0)
//	secondary --failure--> secondary
type FallbackState struct {
	Failures  int
	Max       int
	Primary   swap.Venue
	Secondary swap.Venue
}

func NewFallbackState(primary, secondary swap.Venue, max int) *FallbackState {
	return &FallbackState{Max: max, Primary: primary, Secondary: secondary}
}

func (s *FallbackState) OnSecondary() bool {
	return s.Failures >= s.Max
}

func (s *FallbackState) Venue() swap.Venue {
	if s.OnSecondary() {
		return s.Secondary
	}
	return s.Primary
}

// Record applies a cycle outcome and reports whether the venue changed.
func (s *FallbackState) Record(o Outcome) bool {
	before := s.Venue()

	switch o {
	case OutcomeSuccess:
		s.Failures = 0
	case OutcomeFailure:
		if !s.OnSecondary() {
			s.Failures++
		}
	}

	return s.Venue() != before
}
