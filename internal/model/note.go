// Package model contains the struct and enum definitions shared across the
// upload pipeline, the HTTP layer, and the rescan worker.
package model

import (
	"time"
)

// Principal is the authenticated uploader/requester as supplied by the auth
// proxy in front of this service. NoteGate never authenticates anyone itself.
type Principal struct {
	UserID       string `json:"userId"`
	USN          string `json:"usn"`
	Department   string `json:"department"`
	AcademicYear int    `json:"academicYear"`
}

// UploadCandidate wraps one in-flight upload. The temp file it points at is
// owned by the pipeline invocation and is gone by the time the invocation
// returns, whatever the outcome.
type UploadCandidate struct {
	TempPath     string
	DeclaredName string
	DeclaredMIME string
	SizeBytes    int64
	// Avatar selects the image allow-list and the smaller size ceiling.
	Avatar  bool
	Subject string
	Owner   Principal
}

// Note represents a row in the notes table. Created only after every
// pipeline stage has passed; the stored object it references has already
// been sniffed, structure-checked, scanned, and metadata-stripped.
type Note struct {
	ID           string      `json:"id"`
	UploaderID   string      `json:"uploaderId"`
	USN          string      `json:"usn"`
	Department   string      `json:"department"`
	AcademicYear int         `json:"academicYear"`
	Subject      string      `json:"subject"`
	OriginalName string      `json:"originalName"`
	StorageName  string      `json:"storageName"`
	ObjectKey    string      `json:"-"`
	SizeBytes    int64       `json:"sizeBytes"`
	DetectedType string      `json:"detectedType"`
	ScanBackend  ScanBackend `json:"scanBackend"`
	// AllYears lifts the cohort-year gate for this note (staff uploads).
	AllYears   bool      `json:"allYears"`
	Flagged    bool      `json:"flagged"`
	FlagReason string    `json:"flagReason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
