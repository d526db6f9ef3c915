package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// RescanNoteTask is scheduled after every successful note ingest. The
	// worker re-runs the scan cascade against the stored bytes, catching
	// infections whose signatures land after upload time.
	RescanNoteTask = "note:rescan"
)

// RescanPayload tells the worker which stored object to re-examine.
type RescanPayload struct {
	NoteID    string `json:"note_id"`
	ObjectKey string `json:"object_key"`
}

// Client wraps the asynq client behind the pipeline's Enqueuer interface.
type Client struct {
	inner *asynq.Client
}

// NewClient builds a queue client.
func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueueRescan enqueues an audit rescan for a freshly stored note.
func (c *Client) EnqueueRescan(ctx context.Context, noteID, objectKey string) error {
	data, err := json.Marshal(RescanPayload{NoteID: noteID, ObjectKey: objectKey})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(RescanNoteTask, data)
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue rescan task: %w", err)
	}
	return nil
}
