package domain

import "time"

// DiagnosticStatus is the outcome of one host check.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusWarn DiagnosticStatus = "warn"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// Diagnostic item IDs reported by the bridge.
const (
	DiagnosticEngine     = "engine"
	DiagnosticPrivateDir = "private_dir"
	DiagnosticOutputDir  = "output_dir"
	DiagnosticKeepAwake  = "keep_awake"
)

// DiagnosticItem describes one check of the engine, a working folder or the keep-awake helper.
type DiagnosticItem struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Status  DiagnosticStatus `json:"status"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
}

// DiagnosticReport is what the bridge knows about its host dependencies.
// Only DiagnosticStatusFail items set HasFailures; a missing keep-awake helper warns.
type DiagnosticReport struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	HasFailures bool             `json:"hasFailures"`
	Items       []DiagnosticItem `json:"items"`
}

// Item returns the item with id, if present.
func (r DiagnosticReport) Item(id string) (DiagnosticItem, bool) {
	for _, item := range r.Items {
		if item.ID == id {
			return item, true
		}
	}
	return DiagnosticItem{}, false
}
