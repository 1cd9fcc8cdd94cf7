package split

// Confirm records the participant's agreement with the current allocation.
// Confirmation requires a fully allocated receipt and a non-empty cart, and a
// repeat confirmation without an intervening mutation is rejected rather than
// silently absorbed. Reaching the quorum transitions the session to ready;
// further confirmations are rejected so the count never exceeds the quorum.
func (e *Engine) Confirm(participant string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	participant = normalizeParticipant(participant)
	if participant == "" {
		return ErrInvalidParticipant
	}
	if len(e.items) == 0 {
		return ErrNoReceipt
	}
	if !e.fullyAllocatedLocked() {
		return ErrAllocationIncomplete
	}
	if len(e.carts[participant]) == 0 {
		return ErrEmptyCart
	}
	if e.confirmed[participant] {
		return ErrAlreadyConfirmed
	}
	if e.confirmedCount == e.required {
		return ErrQuorumReached
	}

	e.confirmed[participant] = true
	e.confirmedCount++
	e.emitter.Emit(confirmEvent(participant, e.confirmedCount, e.required))
	if e.confirmedCount == e.required {
		e.emitter.Emit(readyEvent(e.required))
	}
	return nil
}

// invalidateConfirmation clears the acting participant's flag after a ledger
// mutation, possibly moving the session from ready back to open. Callers hold
// the engine mutex.
func (e *Engine) invalidateConfirmation(participant string) {
	if !e.confirmed[participant] {
		return
	}
	delete(e.confirmed, participant)
	e.confirmedCount--
	e.emitter.Emit(confirmationResetEvent(participant, e.confirmedCount, e.required))
}

// HasConfirmed reports whether the participant's confirmation flag is set.
func (e *Engine) HasConfirmed(participant string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmed[normalizeParticipant(participant)]
}

// ConfirmedCount returns the number of currently confirmed participants.
func (e *Engine) ConfirmedCount() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmedCount
}

// Required returns the confirmation quorum for the session.
func (e *Engine) Required() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.required
}

// Ready reports whether the confirmation quorum has been reached.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items) > 0 && e.confirmedCount == e.required
}

// State reports the session lifecycle state.
func (e *Engine) State() SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case len(e.items) == 0:
		return SessionIdle
	case e.confirmedCount == e.required:
		return SessionReady
	default:
		return SessionOpen
	}
}
