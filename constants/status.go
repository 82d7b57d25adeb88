package constants

// IngestState is the state of a single receipt ingestion flow.
type IngestState string

const (
	StateIdle           IngestState = "idle"
	StateExtracting     IngestState = "extracting"      // fetching source and classifying
	StateAwaitingReview IngestState = "awaiting_review" // candidates editable
	StateSaving         IngestState = "saving"
	StateSaved          IngestState = "saved"
)

// Busy reports whether a long-running step owns the flow.
func (s IngestState) Busy() bool {
	return s == StateExtracting || s == StateSaving
}
