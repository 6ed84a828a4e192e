package contracts

// Direction is the side of a proposed or open position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Opposite returns the reversed direction.
func (d Direction) Opposite() Direction {
	if d == DirectionShort {
		return DirectionLong
	}
	return DirectionShort
}

// Signal is a proposed directional, weighted trade intent for one
// instrument. Signals are regenerated every rebalance date and never
// persisted by the core.
// SSOT: Entry -> RiskManager -> Ledger hand-off uses this type only.
type Signal struct {
	Instrument   Instrument         `json:"instrument"`
	Direction    Direction          `json:"direction"`
	TargetWeight float64            `json:"target_weight"` // [0, 1]
	Reason       string             `json:"reason,omitempty"`
	Metadata     map[string]float64 `json:"metadata,omitempty"`
}

// ExitSet is the decision output of the exit stage for one rebalance date.
// Close instructs the ledger to flatten the position; Reverse instructs it
// to flatten and immediately open the opposite direction with the supplied
// signal.
type ExitSet struct {
	Close   map[Instrument]string `json:"close"`   // instrument -> reason
	Reverse map[Instrument]Signal `json:"reverse"` // instrument -> replacement signal
}

// NewExitSet returns an empty, non-nil exit set.
func NewExitSet() ExitSet {
	return ExitSet{
		Close:   make(map[Instrument]string),
		Reverse: make(map[Instrument]Signal),
	}
}

// Merge folds other into e. Entries already present win, so callers merge
// in priority order (the orchestrator seeds the set with forced risk exits
// and merges strategy exits second). A close always beats a reverse for the
// same instrument.
func (e ExitSet) Merge(other ExitSet) {
	for inst, reason := range other.Close {
		if _, exists := e.Close[inst]; !exists {
			e.Close[inst] = reason
		}
		delete(e.Reverse, inst)
	}
	for inst, sig := range other.Reverse {
		if _, closed := e.Close[inst]; closed {
			continue
		}
		if _, exists := e.Reverse[inst]; !exists {
			e.Reverse[inst] = sig
		}
	}
}

// Empty reports whether the set carries no decisions.
func (e ExitSet) Empty() bool {
	return len(e.Close) == 0 && len(e.Reverse) == 0
}
