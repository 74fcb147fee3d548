package domain

// RecordState is the lifecycle state of a TestRecord.
type RecordState string

// Record lifecycle states. Editing is entered by every mutation and resolved
// into Insufficient or Computed once the summary has been recomputed.
const (
	StateEmpty        RecordState = "empty"
	StateEditing      RecordState = "editing"
	StateInsufficient RecordState = "insufficient"
	StateComputed     RecordState = "computed"
	StateFinalized    RecordState = "finalized"
)

var recordTransitions = map[RecordState]map[RecordState]struct{}{
	StateEmpty:        toStateSet(StateEditing),
	StateEditing:      toStateSet(StateEmpty, StateInsufficient, StateComputed),
	StateInsufficient: toStateSet(StateEditing, StateFinalized),
	StateComputed:     toStateSet(StateEditing, StateFinalized),
	StateFinalized:    {},
}

// Terminal reports whether no further transition is allowed from s.
func (s RecordState) Terminal() bool {
	next, ok := recordTransitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether moving from s to next is allowed.
func (s RecordState) CanTransition(next RecordState) bool {
	allowed, ok := recordTransitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

func toStateSet(states ...RecordState) map[RecordState]struct{} {
	out := make(map[RecordState]struct{}, len(states))
	for _, s := range states {
		out[s] = struct{}{}
	}
	return out
}
