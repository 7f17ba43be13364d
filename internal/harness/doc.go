// Package harness runs YAML scenarios against the synchronization engine.
//
// A scenario names a connection manifest, seeds variables and store
// entities, then drives the engine step by step through a real hub and
// entity store. Host calls go to a recording host whose upgrades are
// performed by builtin upgrade scripts.
//
// # Scenario Format
//
//	name: rename_on_upgrade
//	manifest: manifests/atem.cue
//	host:
//	  action_scripts:
//	    - rename: { definition: send, from: msg, to: text }
//	variables:
//	  internal:greeting: hello
//	entities:
//	  - { id: a1, kind: action, control: c1, definition: send,
//	      options: { msg: "$(internal:greeting)" }, upgrade_index: 0 }
//	steps:
//	  - start: {}
//	  - settle: {}
//	assertions:
//	  - { type: call_count, op: upgrade_actions, count: 1 }
//	  - { type: record_state, id: a1, state: ready }
//	  - { type: sent_option, id: a1, key: text, value: hello }
//
// # Steps
//
//   - start: start every engine with the manifest's upgrade index
//   - track / forget: put or remove a store entity
//   - set_variable: change a global or control-local variable
//   - resend_feedbacks, set_bitmap: feedback refresh triggers
//   - advance: move the manual clock (default past the debounce max wait)
//   - resolve: run pending host calls; reject makes the next ones fail
//   - destroy: tear the engine down
//   - settle: run everything until the engine is idle
//
// # Assertion Types
//
//   - call_count: number of calls of one host operation
//   - call_sizes: batch sizes of one host operation, in order
//   - record_state: final record state, or "absent"
//   - store_upgrade_index: the upgrade index committed to the store
//   - sent_option: one option of the last payload sent for an id
//
// # Deterministic Testing
//
// Every run uses an in-memory SQLite store, manual timers, a manual
// dispatcher and sequential record tokens, so traces are reproducible and
// can be compared against golden snapshots.
package harness
