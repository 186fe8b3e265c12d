package enums

import "fmt"

// ImportStatus is the lifecycle of a bulk product import run.
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusPartial    ImportStatus = "partial"
	ImportStatusFailed     ImportStatus = "failed"
)

var validImportStatuses = []ImportStatus{
	ImportStatusPending,
	ImportStatusProcessing,
	ImportStatusCompleted,
	ImportStatusPartial,
	ImportStatusFailed,
}

// IsValid reports whether the value is a known ImportStatus.
func (s ImportStatus) IsValid() bool {
	for _, candidate := range validImportStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsFinal reports whether the run has stopped processing rows.
func (s ImportStatus) IsFinal() bool {
	switch s {
	case ImportStatusCompleted, ImportStatusPartial, ImportStatusFailed:
		return true
	}
	return false
}

// ParseImportStatus converts raw input into an ImportStatus.
func ParseImportStatus(value string) (ImportStatus, error) {
	for _, candidate := range validImportStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid import status %q", value)
}

// ImportSource distinguishes CSV uploads from AI image analysis.
type ImportSource string

const (
	ImportSourceCSV ImportSource = "csv"
	ImportSourceAI  ImportSource = "ai"
)

// IsValid reports whether the value is a known ImportSource.
func (s ImportSource) IsValid() bool {
	return s == ImportSourceCSV || s == ImportSourceAI
}
