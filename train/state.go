package train

import (
	"math"

	"github.com/ksboy/NLP-External-knowledge/model"
)

// StopReason says why training ended.
type StopReason int

const (
	Running StopReason = iota
	ConvergedByPatience
	UpdateBudgetExhausted
	EpochBudgetExhausted
	NonFiniteLoss
)

func (r StopReason) String() string {
	switch r {
	case Running:
		return "running"
	case ConvergedByPatience:
		return "converged-by-patience"
	case UpdateBudgetExhausted:
		return "update-budget-exhausted"
	case EpochBudgetExhausted:
		return "epoch-budget-exhausted"
	case NonFiniteLoss:
		return "non-finite-loss"
	}
	return "unknown"
}

// State is everything the loop mutates besides the parameters.
type State struct {
	Epoch   int
	Updates int
	LRate   float64

	HistoryErrs []float64 // 1 - valid accuracy, one per validation
	ValidAccs   []float64
	TestAccs    []float64

	Best      model.Snapshot
	BestEpoch int
	Bad       int
	Wait      int
	LRChanges []int // epochs at which the rate was halved

	Stop StopReason
}

func NewState(lrate float64) *State {
	return &State{LRate: lrate}
}

// Decision is what the caller has to do after a validation.
type Decision struct {
	Improved bool // snapshot the parameters as best
	Halved   bool // restore the best snapshot
	Stop     bool
}

// RecordValidation appends validErr to the history and applies the
// patience policy: a new minimum (ties included) resets the wait
// counter; otherwise the wait counter grows, and once it reaches waitN
// the rate is halved and the bad counter grows. More than patience bad
// counts stops training.
func (s *State) RecordValidation(validErr float64, patience, waitN int) Decision {
	var d Decision
	s.HistoryErrs = append(s.HistoryErrs, validErr)
	best := math.Inf(1)
	for _, e := range s.HistoryErrs {
		best = math.Min(best, e)
	}

	if s.Updates == 0 || validErr <= best {
		d.Improved = true
		s.BestEpoch = s.Epoch
		s.Wait = 0
	}
	if validErr > best {
		s.Wait++
	}
	if s.Wait >= waitN {
		s.Bad++
		s.Wait = 0
		s.LRate *= 0.5
		s.LRChanges = append(s.LRChanges, s.Epoch)
		d.Halved = true
	}
	if s.Bad > patience {
		s.Stop = ConvergedByPatience
		d.Stop = true
	}
	return d
}
