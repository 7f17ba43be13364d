package engine

import (
	"fmt"
)

// DefaultDegradationBudget is how many consecutive rejected upgrade calls
// one tracked entity may absorb before the engine stops retrying it.
const DefaultDegradationBudget = 5

// DegradationBudget counts the rejected upgrade calls of one tracked entity.
//
// A rejected upgrade call does not stall the entity: it is optimistically
// marked Ready so the rest of the connection keeps working. The budget
// bounds how often the engine goes back and retries the upgrade before it
// reports the entity as persistently out of sync.
//
// A budget of zero or less disables retries entirely; degraded entities
// then stay Ready until something re-tracks them.
type DegradationBudget struct {
	limit   int
	current int
}

// NewDegradationBudget creates a budget with the given limit.
func NewDegradationBudget(limit int) *DegradationBudget {
	return &DegradationBudget{limit: limit}
}

// Check records one rejected upgrade call.
//
// Returns UpgradeExhaustedError once the count reaches the limit.
func (b *DegradationBudget) Check(entityID string, cause error) error {
	b.current++
	if b.limit > 0 && b.current >= b.limit {
		return &UpgradeExhaustedError{
			EntityID: entityID,
			Attempts: b.current,
			Limit:    b.limit,
			Err:      cause,
		}
	}
	return nil
}

// Retryable reports whether another automatic retry is allowed.
func (b *DegradationBudget) Retryable() bool {
	return b.limit > 0 && b.current < b.limit
}

// Reset clears the counter after a successful upgrade.
func (b *DegradationBudget) Reset() {
	b.current = 0
}

// Current returns the number of rejected calls counted so far.
func (b *DegradationBudget) Current() int {
	return b.current
}

// Limit returns the configured limit.
func (b *DegradationBudget) Limit() int {
	return b.limit
}

// UpgradeExhaustedError is reported when an entity used up its degradation
// budget. The entity stays Ready with its stored, not upgraded, options.
type UpgradeExhaustedError struct {
	ConnectionID string
	EntityID     string
	Attempts     int
	Limit        int
	Err          error // last adapter error
}

// Error implements the error interface.
func (e *UpgradeExhaustedError) Error() string {
	return fmt.Sprintf("entity %s upgrade abandoned after %d rejected calls (limit %d): %v",
		e.EntityID, e.Attempts, e.Limit, e.Err)
}

// Unwrap returns the last adapter error.
func (e *UpgradeExhaustedError) Unwrap() error {
	return e.Err
}
