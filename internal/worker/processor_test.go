package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyshare/notegate/internal/model"
	"github.com/studyshare/notegate/internal/queue"
)

type fakeFlagger struct {
	flaggedID     string
	flaggedReason string
	err           error
}

func (f *fakeFlagger) Flag(ctx context.Context, id, reason string) error {
	f.flaggedID = id
	f.flaggedReason = reason
	return f.err
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) DownloadNote(ctx context.Context, objectKey string) ([]byte, error) {
	return f.data, f.err
}

type fakeRescanner struct {
	result model.ScanResult
}

func (f *fakeRescanner) Scan(ctx context.Context, path string) model.ScanResult {
	return f.result
}

func rescanTask(t *testing.T) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.RescanPayload{NoteID: "n-7", ObjectKey: "notes/CSE/x.pdf"})
	require.NoError(t, err)
	return asynq.NewTask(queue.RescanNoteTask, data)
}

func TestRescanCleanNote(t *testing.T) {
	flagger := &fakeFlagger{}
	p := NewProcessor(flagger, &fakeFetcher{data: []byte("lecture notes")}, &fakeRescanner{
		result: model.ScanResult{Backend: model.BackendDaemonSocket},
	})

	err := p.handleRescan(context.Background(), rescanTask(t))
	assert.NoError(t, err)
	assert.Empty(t, flagger.flaggedID, "clean rescan must not flag")
}

func TestRescanInfectedNoteFlags(t *testing.T) {
	flagger := &fakeFlagger{}
	p := NewProcessor(flagger, &fakeFetcher{data: []byte("payload")}, &fakeRescanner{
		result: model.ScanResult{
			Infected: true,
			Backend:  model.BackendStandaloneCLI,
			Message:  "Eicar-Test-Signature",
		},
	})

	err := p.handleRescan(context.Background(), rescanTask(t))
	assert.NoError(t, err)
	assert.Equal(t, "n-7", flagger.flaggedID)
	assert.Contains(t, flagger.flaggedReason, "Eicar-Test-Signature")
	assert.Contains(t, flagger.flaggedReason, string(model.BackendStandaloneCLI))
}

func TestRescanUnavailableRetries(t *testing.T) {
	p := NewProcessor(&fakeFlagger{}, &fakeFetcher{data: []byte("payload")}, &fakeRescanner{
		result: model.ScanResult{Backend: model.BackendUnavailable, Message: "no scanner reachable"},
	})

	err := p.handleRescan(context.Background(), rescanTask(t))
	assert.Error(t, err, "unavailable scan must surface an error so asynq retries")
}

func TestRescanDownloadFailureRetries(t *testing.T) {
	p := NewProcessor(&fakeFlagger{}, &fakeFetcher{err: errors.New("object gone")}, &fakeRescanner{})

	err := p.handleRescan(context.Background(), rescanTask(t))
	assert.Error(t, err)
}

func TestRescanBadPayload(t *testing.T) {
	p := NewProcessor(&fakeFlagger{}, &fakeFetcher{}, &fakeRescanner{})

	err := p.handleRescan(context.Background(), asynq.NewTask(queue.RescanNoteTask, []byte("{broken")))
	assert.Error(t, err)
}
