// Package pipeline runs an untrusted upload through the full validation
// sequence and, on success, promotes it into permanent storage. Stages run
// strictly in order, each with veto power; the temp file is gone on every
// exit path.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/studyshare/notegate/internal/config"
	"github.com/studyshare/notegate/internal/model"
	"github.com/studyshare/notegate/internal/strip"
	"github.com/studyshare/notegate/internal/validate"
)

// NoteStore is the slice of the metadata store the pipeline needs: the
// duplicate query and row creation.
type NoteStore interface {
	HasDuplicate(ctx context.Context, uploaderID, department, originalName string) (bool, error)
	Create(ctx context.Context, note *model.Note) error
}

// ObjectStore is the permanent storage the sanitized file is promoted into.
type ObjectStore interface {
	PutNote(ctx context.Context, objectKey, path, contentType string) error
	PutAvatar(ctx context.Context, objectKey, path, contentType string) error
}

// Scanner is the malware-scan stage; satisfied by *scan.Orchestrator.
type Scanner interface {
	Scan(ctx context.Context, path string) model.ScanResult
}

// Enqueuer schedules the post-ingest audit rescan. May be nil.
type Enqueuer interface {
	EnqueueRescan(ctx context.Context, noteID, objectKey string) error
}

// Rejection is the typed refusal the pipeline returns for expected-bad
// input. Its strings are safe to show the uploader.
type Rejection struct {
	Kind   model.RejectionKind
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
}

func reject(kind model.RejectionKind, detail string) *Rejection {
	return &Rejection{Kind: kind, Detail: detail}
}

// IngestResult reports a successful promotion.
type IngestResult struct {
	NoteID        string
	ObjectKey     string
	SanitizedName string
	DetectedType  string
	ScanBackend   model.ScanBackend
	// ScanWarning is set when the upload went through without a confirmed
	// scan (fail-soft policy).
	ScanWarning string
}

// Ingestor owns one configured instance of the pipeline. Invocations share
// no mutable state, so a single Ingestor serves concurrent requests.
type Ingestor struct {
	cfg     *config.Config
	notes   NoteStore
	objects ObjectStore
	scanner Scanner
	queue   Enqueuer
}

// NewIngestor wires the pipeline's collaborators together.
func NewIngestor(cfg *config.Config, notes NoteStore, objects ObjectStore, scanner Scanner, queue Enqueuer) *Ingestor {
	return &Ingestor{cfg: cfg, notes: notes, objects: objects, scanner: scanner, queue: queue}
}

// ValidateAndIngest runs every stage against the candidate. It returns a
// *Rejection for any vetoed upload and a wrapped error for unexpected I/O
// failures; in both cases the temp file is deleted before returning.
func (in *Ingestor) ValidateAndIngest(ctx context.Context, cand model.UploadCandidate) (*IngestResult, error) {
	guard := newTempGuard(cand.TempPath)
	defer guard.cleanup()

	// Size ceiling first: cheapest possible rejection.
	limit := in.cfg.MaxNoteSize
	if cand.Avatar {
		limit = in.cfg.MaxAvatarSize
	}
	if cand.SizeBytes > limit {
		return nil, reject(model.RejectSizeExceeded,
			fmt.Sprintf("file is %d bytes, limit is %d", cand.SizeBytes, limit))
	}

	// Stage 1: declared extension and MIME against the allow-list.
	v := validate.CheckDeclared(cand.DeclaredName, cand.DeclaredMIME, cand.Avatar)
	if !v.Passed {
		return nil, reject(v.Kind, v.Detail)
	}
	family := v.Family

	// Stage 2: what the bytes actually are.
	v, err := validate.SniffContent(cand.TempPath, family)
	if err != nil {
		return nil, fmt.Errorf("content sniff: %w", err)
	}
	if !v.Passed {
		return nil, reject(v.Kind, v.Detail)
	}
	detectedType := v.DetectedType
	family = v.Family

	// Stage 3: deep parse for container formats.
	v, err = validate.CheckStructure(cand.TempPath, family)
	if err != nil {
		return nil, fmt.Errorf("structure check: %w", err)
	}
	if !v.Passed {
		return nil, reject(v.Kind, v.Detail)
	}

	// Stage 4: malware scan. Only a positive infection verdict blocks;
	// "unavailable" is a policy decision.
	res := in.scanner.Scan(ctx, cand.TempPath)
	if res.Infected {
		log.Printf("security: malware rejected uploader=%s file=%q backend=%s sig=%q",
			cand.Owner.UserID, cand.DeclaredName, res.Backend, res.Message)
		return nil, reject(model.RejectMalwareDetected,
			fmt.Sprintf("malware detected: %s", res.Message))
	}
	var scanWarning string
	if res.Unavailable() {
		log.Printf("security: scan unavailable uploader=%s file=%q detail=%q",
			cand.Owner.UserID, cand.DeclaredName, res.Message)
		if in.cfg.StrictScan {
			return nil, reject(model.RejectScanUnavailable,
				"no malware scanner is currently available; upload refused by policy")
		}
		scanWarning = "file accepted without malware scan: " + res.Message
	}

	// Stage 5: metadata strip. Tool failures degrade, never block.
	sres, serr := strip.Strip(ctx, cand.TempPath, family)
	if serr != nil {
		log.Printf("%s: strip degraded for %q: %v", model.RejectInternalToolError, cand.DeclaredName, serr)
	}
	guard.track(sres.Path)

	// Stage 6: duplicate gate, scoped to uploader + department. Avatars
	// replace whatever came before, so the gate does not apply to them.
	if !cand.Avatar {
		dup, err := in.notes.HasDuplicate(ctx, cand.Owner.UserID, cand.Owner.Department, cand.DeclaredName)
		if err != nil {
			return nil, fmt.Errorf("duplicate check: %w", err)
		}
		if dup {
			return nil, reject(model.RejectDuplicateFile,
				fmt.Sprintf("you already uploaded a note named %q in %s", cand.DeclaredName, cand.Owner.Department))
		}
	}

	return in.promote(ctx, cand, sres.Path, detectedType, res.Backend, scanWarning)
}

// promote moves the sanitized file into permanent storage and creates the
// note row. The local copy is removed by the guard after upload.
func (in *Ingestor) promote(ctx context.Context, cand model.UploadCandidate, path, detectedType string, backend model.ScanBackend, scanWarning string) (*IngestResult, error) {
	sanitized := SanitizeFilename(cand.DeclaredName)
	id := uuid.NewString()
	storageName := id + strings.ToLower(filepath.Ext(sanitized))

	if cand.Avatar {
		objectKey := fmt.Sprintf("avatars/%s/%s", cand.Owner.UserID, storageName)
		if err := in.objects.PutAvatar(ctx, objectKey, path, detectedType); err != nil {
			return nil, fmt.Errorf("store avatar: %w", err)
		}
		return &IngestResult{
			NoteID:        id,
			ObjectKey:     objectKey,
			SanitizedName: sanitized,
			DetectedType:  detectedType,
			ScanBackend:   backend,
			ScanWarning:   scanWarning,
		}, nil
	}

	objectKey := fmt.Sprintf("notes/%s/%s", cand.Owner.Department, storageName)
	if err := in.objects.PutNote(ctx, objectKey, path, detectedType); err != nil {
		return nil, fmt.Errorf("store note: %w", err)
	}
	note := &model.Note{
		ID:           id,
		UploaderID:   cand.Owner.UserID,
		USN:          cand.Owner.USN,
		Department:   cand.Owner.Department,
		AcademicYear: cand.Owner.AcademicYear,
		Subject:      cand.Subject,
		OriginalName: cand.DeclaredName,
		StorageName:  storageName,
		ObjectKey:    objectKey,
		SizeBytes:    cand.SizeBytes,
		DetectedType: detectedType,
		ScanBackend:  backend,
	}
	if err := in.notes.Create(ctx, note); err != nil {
		return nil, fmt.Errorf("create note row: %w", err)
	}
	if in.queue != nil {
		// The audit rescan is best effort; a queue outage must not undo a
		// fully validated upload.
		if err := in.queue.EnqueueRescan(ctx, id, objectKey); err != nil {
			log.Printf("enqueue rescan for note %s: %v", id, err)
		}
	}
	return &IngestResult{
		NoteID:        id,
		ObjectKey:     objectKey,
		SanitizedName: sanitized,
		DetectedType:  detectedType,
		ScanBackend:   backend,
		ScanWarning:   scanWarning,
	}, nil
}

// tempGuard owns the lifetime of the in-flight file. track follows the
// stripper when it replaces the original with a sanitized copy; cleanup
// removes whichever path is current, on every exit.
type tempGuard struct {
	path string
}

func newTempGuard(path string) *tempGuard {
	return &tempGuard{path: path}
}

func (g *tempGuard) track(path string) {
	if path != "" {
		g.path = path
	}
}

func (g *tempGuard) cleanup() {
	if g.path == "" {
		return
	}
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		log.Printf("remove temp file %s: %v", g.path, err)
	}
}

// SanitizeFilename reduces a client-supplied name to a safe base name:
// no path components, no control characters, bounded length.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_', r == ' ', r == '(', r == ')':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.Trim(out, ".")
	if out == "" {
		out = "upload"
	}
	if len(out) > 128 {
		ext := filepath.Ext(out)
		out = out[:128-len(ext)] + ext
	}
	return out
}
