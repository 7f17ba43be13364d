// Package variables resolves variable references embedded in entity options.
//
// A reference has the form $(label:name). Global variables are looked up by
// the id "label:name"; the labels "this" and "local" resolve against the
// variables of the control that owns the entity. Store is the in-memory
// variable table and notifies listeners with the ids that changed, which is
// what drives re-resolution in the sync engine.
package variables
