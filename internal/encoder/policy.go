package encoder

// policy turns debounced pin levels into steps.
// It runs once per poll after both pins have been debounced.
type policy interface {
	// decode reports whether a step was produced on this poll.
	// committedA and committedB report which pins changed stable level.
	decode(e *Encoder, committedA, committedB bool) bool
}

func policyFor(m Mode) policy {
	switch m {
	case ModeSingle:
		return edgePolicy{}
	case ModeQuad:
		return cyclePolicy{coalesce: true}
	default:
		return cyclePolicy{}
	}
}

// edgePolicy reports a step on every debounced edge of either pin.
// It does not use the change/quadChange bookkeeping.
type edgePolicy struct{}

func (edgePolicy) decode(e *Encoder, committedA, committedB bool) bool {
	// Both pins moving in one poll skips a Gray-code state; direction is unknowable.
	if committedA == committedB {
		return false
	}

	// After an A edge the pins differ when A leads; after a B edge they are equal.
	differ := e.a.stable != e.b.stable
	aLeads := differ
	if committedB {
		aLeads = !differ
	}

	e.direction = e.invert != aLeads
	e.step = stepFor(e.direction)
	return true
}

// cyclePolicy reports a step when the pins return to equal levels after
// a transition. With coalesce set only every other cycle is reported.
type cyclePolicy struct {
	coalesce bool
}

func (p cyclePolicy) decode(e *Encoder, _, _ bool) bool {
	differ := e.a.stable != e.b.stable

	// Pins differ: a click has started, latch its direction
	if differ && !e.change {
		e.change = true
		aLeads := e.a.prevStable != e.a.stable
		e.direction = e.invert != aLeads
		return false
	}

	// Pins equal again: the click is complete
	if !differ && e.change {
		e.change = false
		if e.settling {
			// Started between detents; this half-click carries no direction.
			e.settling = false
			return false
		}
		e.quadChange = !e.quadChange
		if p.coalesce && e.quadChange {
			return false
		}
		e.step = stepFor(e.direction)
		return true
	}

	return false
}

func stepFor(direction bool) Step {
	if direction {
		return StepCW
	}
	return StepCCW
}
