package model

// RejectionKind enumerates every reason the pipeline can turn an upload (or a
// download) away. The strings are safe to return verbatim to the client.
type RejectionKind string

const (
	RejectTypeMismatch      RejectionKind = "type_mismatch"
	RejectUnsupportedType   RejectionKind = "unsupported_detected_type"
	RejectCorruptStructure  RejectionKind = "corrupt_structure"
	RejectMalwareDetected   RejectionKind = "malware_detected"
	RejectScanUnavailable   RejectionKind = "scan_unavailable"
	RejectDuplicateFile     RejectionKind = "duplicate_file"
	RejectSizeExceeded      RejectionKind = "size_exceeded"
	RejectAccessDenied      RejectionKind = "access_denied"
	RejectInternalToolError RejectionKind = "internal_tool_error"
)

// FileFamily is the closed set of file types the pipeline knows how to
// validate. Stage dispatch (structural checks, stripping) keys off this, not
// off raw MIME strings.
type FileFamily string

const (
	FamilyPDF          FileFamily = "pdf"
	FamilyDocLegacy    FileFamily = "doc"
	FamilyDocOOXML     FileFamily = "docx"
	FamilySlidesLegacy FileFamily = "ppt"
	FamilySlidesOOXML  FileFamily = "pptx"
	FamilyText         FileFamily = "txt"
	FamilyMarkdown     FileFamily = "md"
	FamilyPNG          FileFamily = "png"
	FamilyJPEG         FileFamily = "jpeg"
)

// Verdict is the outcome of a single pipeline stage. The first failing
// verdict short-circuits the remaining stages.
type Verdict struct {
	Passed       bool
	Kind         RejectionKind
	Detail       string
	DetectedType string
	Family       FileFamily
}

// Pass returns an approving verdict.
func Pass() Verdict {
	return Verdict{Passed: true}
}

// Fail returns a rejecting verdict with the given kind and client-safe detail.
func Fail(kind RejectionKind, detail string) Verdict {
	return Verdict{Kind: kind, Detail: detail}
}

// ScanBackend names which scanning backend produced a ScanResult.
type ScanBackend string

const (
	BackendDaemonSocket  ScanBackend = "daemon-socket"
	BackendDaemonCLI     ScanBackend = "daemon-cli"
	BackendStandaloneCLI ScanBackend = "standalone-cli"
	BackendHeuristic     ScanBackend = "heuristic"
	BackendUnavailable   ScanBackend = "unavailable"
)

// ScanResult is the outcome of the malware-scan stage. "Scan unavailable" is
// a distinct state from both clean and infected: no reachable backend means
// the check did not run, and policy decides whether that blocks.
type ScanResult struct {
	Infected bool        `json:"infected"`
	Backend  ScanBackend `json:"backend"`
	Message  string      `json:"message"`
}

// IsClean reports a confirmed-clean result from a real backend.
func (r ScanResult) IsClean() bool {
	return !r.Infected && r.Backend != BackendUnavailable
}

// Unavailable reports that no backend could examine the file.
func (r ScanResult) Unavailable() bool {
	return r.Backend == BackendUnavailable
}
