// Package manifest loads connection manifests written in CUE.
//
// A manifest declares the actions and feedbacks a connection's module
// offers, the option fields of each, and the module's current upgrade
// index:
//
//	connection: atem: {
//		label:         "Blackmagic ATEM"
//		upgrade_index: 3
//		action: cut: {
//			label: "Cut"
//			fields: [{id: "me", type: "number"}]
//		}
//		feedback: tally: {
//			type: "boolean"
//			fields: [{id: "text", type: "textinput", use_variables: true}]
//		}
//	}
//
// The Registry serves the compiled definitions to the sync engine, one
// Catalog per connection.
package manifest
