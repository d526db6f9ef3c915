// Package worker runs the post-ingest audit rescan: stored notes are pulled
// back down and re-run through the scan cascade, so an infection whose
// signature shipped after upload day still gets caught. A hit quarantines
// the note row instead of deleting user data.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/hibiken/asynq"

	"github.com/studyshare/notegate/internal/model"
	"github.com/studyshare/notegate/internal/queue"
)

// NoteFlagger is the slice of the repository the worker needs.
type NoteFlagger interface {
	Flag(ctx context.Context, id, reason string) error
}

// ObjectFetcher pulls stored note bytes back for rescanning.
type ObjectFetcher interface {
	DownloadNote(ctx context.Context, objectKey string) ([]byte, error)
}

// Scanner is the same cascade the upload pipeline uses.
type Scanner interface {
	Scan(ctx context.Context, path string) model.ScanResult
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	notes   NoteFlagger
	objects ObjectFetcher
	scanner Scanner
}

// NewProcessor constructs a worker processor.
func NewProcessor(notes NoteFlagger, objects ObjectFetcher, scanner Scanner) *Processor {
	return &Processor{notes: notes, objects: objects, scanner: scanner}
}

// Handler registers the rescan job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.RescanNoteTask, p.handleRescan)
	return mux
}

func (p *Processor) handleRescan(ctx context.Context, task *asynq.Task) error {
	var payload queue.RescanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	failure := func(err error) error {
		log.Printf("rescan failed for note %s: %v", payload.NoteID, err)
		return err
	}
	data, err := p.objects.DownloadNote(ctx, payload.ObjectKey)
	if err != nil {
		return failure(err)
	}
	tmp, err := writeTemp(data)
	if err != nil {
		return failure(err)
	}
	defer os.Remove(tmp)

	res := p.scanner.Scan(ctx, tmp)
	switch {
	case res.Infected:
		log.Printf("security: rescan hit note=%s backend=%s sig=%q",
			payload.NoteID, res.Backend, res.Message)
		if err := p.notes.Flag(ctx, payload.NoteID,
			fmt.Sprintf("rescan: %s (%s)", res.Message, res.Backend)); err != nil {
			return failure(err)
		}
	case res.Unavailable():
		// Retry later rather than recording a non-result.
		return failure(fmt.Errorf("scan unavailable: %s", res.Message))
	default:
		log.Printf("rescan clean note=%s backend=%s", payload.NoteID, res.Backend)
	}
	return nil
}

func writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp("", "notegate-rescan-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}
