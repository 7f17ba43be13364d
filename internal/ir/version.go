package ir

// Version constants for the entity model and engine.
const (
	// ModelVersion is the entity model schema version.
	ModelVersion = "1"

	// EngineVersion is the entsync engine version.
	EngineVersion = "0.1.0"
)
