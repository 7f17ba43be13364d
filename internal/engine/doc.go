// Package engine implements entity synchronization with a host process.
//
// The hub owns entities (actions and feedbacks configured on controls). A
// host is the module process that executes them and keeps its own
// subscription list. The engine keeps that list in step with the hub: it
// resolves variable references in options, batches updates and deletions,
// and routes entities stored under an older schema version through the
// host's upgrade scripts before they are sent.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every public operation enqueues an event. Engine.Run() dequeues events
// one at a time and is the only code that touches tracking records. Host
// adapter calls are handed to a Dispatcher and report back as events, so
// a slow host never blocks the loop and no record is mutated concurrently.
//
// Tracking Records:
// Each tracked entity has a record with a state machine:
//
//	Unloaded --resolve--> Ready --invalidate--> Unloaded
//	Unloaded --upgrade--> Upgrading --upgraded/degrade--> Ready
//	Upgrading --invalidate_async--> UpgradingInvalidated --reprocess--> Unloaded
//	any live state --forget--> PendingDelete (terminal)
//
// Every trackEntity mints a fresh token. An upgrade result whose token no
// longer matches the record is dropped; this is how a re-track or forget
// supersedes an in-flight upgrade without cancelling it.
//
// Scheduling:
// Changes request a pass through a debouncer (10ms settle, 50ms max wait).
// A pass walks all records in tracking order and flushes up to four
// payloads: action updates, feedback updates, action upgrades and feedback
// upgrades. A payload reaching the batch size (50) is flushed mid-pass.
//
// Degradation:
// A rejected upgrade call never stalls a connection. Members of the batch
// are assumed current and marked Ready; a per-entity budget bounds how
// often the engine retries the upgrade (with exponential backoff) before
// it reports the entity as persistently out of sync.
package engine
