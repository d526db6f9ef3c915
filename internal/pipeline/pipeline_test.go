package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyshare/notegate/internal/config"
	"github.com/studyshare/notegate/internal/model"
)

type fakeNoteStore struct {
	duplicate bool
	dupErr    error
	created   []*model.Note
}

func (f *fakeNoteStore) HasDuplicate(ctx context.Context, uploaderID, department, originalName string) (bool, error) {
	return f.duplicate, f.dupErr
}

func (f *fakeNoteStore) Create(ctx context.Context, note *model.Note) error {
	f.created = append(f.created, note)
	return nil
}

type fakeObjectStore struct {
	notes   map[string]string
	avatars map[string]string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{notes: map[string]string{}, avatars: map[string]string{}}
}

func (f *fakeObjectStore) PutNote(ctx context.Context, objectKey, path, contentType string) error {
	f.notes[objectKey] = contentType
	return nil
}

func (f *fakeObjectStore) PutAvatar(ctx context.Context, objectKey, path, contentType string) error {
	f.avatars[objectKey] = contentType
	return nil
}

type fakeScanner struct {
	result model.ScanResult
}

func (f *fakeScanner) Scan(ctx context.Context, path string) model.ScanResult {
	return f.result
}

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) EnqueueRescan(ctx context.Context, noteID, objectKey string) error {
	f.enqueued = append(f.enqueued, noteID)
	return nil
}

func cleanScan() model.ScanResult {
	return model.ScanResult{Backend: model.BackendDaemonSocket, Message: "clean"}
}

func testConfig() *config.Config {
	return &config.Config{
		MaxNoteSize:   10 << 20,
		MaxAvatarSize: 2 << 20,
	}
}

type fixture struct {
	ingestor *Ingestor
	notes    *fakeNoteStore
	objects  *fakeObjectStore
	queue    *fakeQueue
}

func newFixture(cfg *config.Config, scanner Scanner) *fixture {
	notes := &fakeNoteStore{}
	objects := newFakeObjectStore()
	queue := &fakeQueue{}
	return &fixture{
		ingestor: NewIngestor(cfg, notes, objects, scanner, queue),
		notes:    notes,
		objects:  objects,
		queue:    queue,
	}
}

func tempUpload(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func textCandidate(t *testing.T) model.UploadCandidate {
	path := tempUpload(t, []byte("Unit 1: introduction to operating systems.\n"))
	return model.UploadCandidate{
		TempPath:     path,
		DeclaredName: "os unit1.txt",
		DeclaredMIME: "text/plain",
		SizeBytes:    44,
		Subject:      "Operating Systems",
		Owner: model.Principal{
			UserID:       "u-100",
			USN:          "1XX21CS001",
			Department:   "CSE",
			AcademicYear: 3,
		},
	}
}

func assertRejected(t *testing.T, err error, kind model.RejectionKind) *Rejection {
	t.Helper()
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, kind, rej.Kind)
	return rej
}

func assertGone(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "temp file must not survive: %s", path)
}

func TestValidateAndIngestHappyPath(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	cand := textCandidate(t)

	result, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	require.NoError(t, err)

	assert.NotEmpty(t, result.NoteID)
	assert.Equal(t, "os unit1.txt", result.SanitizedName)
	assert.Equal(t, "text/plain", result.DetectedType)
	assert.Equal(t, model.BackendDaemonSocket, result.ScanBackend)
	assert.Empty(t, result.ScanWarning)

	require.Len(t, fx.notes.created, 1)
	note := fx.notes.created[0]
	assert.Equal(t, "u-100", note.UploaderID)
	assert.Equal(t, "CSE", note.Department)
	assert.Equal(t, 3, note.AcademicYear)
	assert.True(t, strings.HasPrefix(note.ObjectKey, "notes/CSE/"))

	assert.Contains(t, fx.objects.notes, note.ObjectKey)
	assert.Equal(t, []string{note.ID}, fx.queue.enqueued)
	assertGone(t, cand.TempPath)
}

func TestValidateAndIngestRejectsBadExtension(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	cand := textCandidate(t)
	cand.DeclaredName = "payload.exe"

	_, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	assertRejected(t, err, model.RejectTypeMismatch)
	assert.Empty(t, fx.notes.created)
	assert.Empty(t, fx.objects.notes)
	assertGone(t, cand.TempPath)
}

func TestValidateAndIngestRejectsContentMismatch(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 32)...)
	cand := textCandidate(t)
	cand.TempPath = tempUpload(t, png)
	cand.DeclaredName = "slides.pdf"
	cand.DeclaredMIME = "application/pdf"

	_, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	assertRejected(t, err, model.RejectTypeMismatch)
	assertGone(t, cand.TempPath)
}

func TestValidateAndIngestRejectsOversize(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	cand := textCandidate(t)
	cand.SizeBytes = 11 << 20

	_, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	assertRejected(t, err, model.RejectSizeExceeded)
	assertGone(t, cand.TempPath)
}

func TestValidateAndIngestAvatarSizeCeiling(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	cand := textCandidate(t)
	cand.Avatar = true
	cand.DeclaredName = "me.png"
	cand.DeclaredMIME = "image/png"
	cand.SizeBytes = 3 << 20 // over the 2 MiB avatar cap, under the note cap

	_, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	assertRejected(t, err, model.RejectSizeExceeded)
}

func TestValidateAndIngestRejectsCorruptContainer(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	cand := textCandidate(t)
	cand.TempPath = tempUpload(t, []byte("PK\x03\x04truncated"))
	cand.DeclaredName = "notes.docx"
	cand.DeclaredMIME = "application/msword"

	_, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	assertRejected(t, err, model.RejectCorruptStructure)
	assertGone(t, cand.TempPath)
}

func TestValidateAndIngestRejectsInfected(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: model.ScanResult{
		Infected: true,
		Backend:  model.BackendDaemonSocket,
		Message:  "Eicar-Test-Signature",
	}})
	cand := textCandidate(t)

	_, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	rej := assertRejected(t, err, model.RejectMalwareDetected)
	assert.Contains(t, rej.Detail, "Eicar-Test-Signature")
	assert.Empty(t, fx.objects.notes)
	assertGone(t, cand.TempPath)
}

func TestValidateAndIngestFailSoftWhenScanUnavailable(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: model.ScanResult{
		Backend: model.BackendUnavailable,
		Message: "no scan backend reachable",
	}})
	cand := textCandidate(t)

	result, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	require.NoError(t, err)
	assert.NotEmpty(t, result.ScanWarning)
	assert.Equal(t, model.BackendUnavailable, result.ScanBackend)
	require.Len(t, fx.notes.created, 1)
}

func TestValidateAndIngestStrictScanBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.StrictScan = true
	fx := newFixture(cfg, &fakeScanner{result: model.ScanResult{
		Backend: model.BackendUnavailable,
		Message: "no scan backend reachable",
	}})
	cand := textCandidate(t)

	_, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	assertRejected(t, err, model.RejectScanUnavailable)
	assert.Empty(t, fx.notes.created)
	assertGone(t, cand.TempPath)
}

func TestValidateAndIngestRejectsDuplicate(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	fx.notes.duplicate = true
	cand := textCandidate(t)

	_, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	assertRejected(t, err, model.RejectDuplicateFile)
	assert.Empty(t, fx.objects.notes)
	assertGone(t, cand.TempPath)
}

func TestValidateAndIngestDuplicateQueryFailureIsInternal(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	fx.notes.dupErr = errors.New("connection refused")
	cand := textCandidate(t)

	_, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	require.Error(t, err)
	var rej *Rejection
	assert.False(t, errors.As(err, &rej), "infrastructure failures are not typed rejections")
	assertGone(t, cand.TempPath)
}

func TestValidateAndIngestAvatarPath(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	cand := textCandidate(t)
	cand.Avatar = true
	cand.DeclaredName = "me.png"
	cand.DeclaredMIME = "image/png"
	cand.TempPath = tempUpload(t, pngBytes(t))
	cand.SizeBytes = 100

	result, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.ObjectKey, "avatars/u-100/"))
	assert.Empty(t, fx.notes.created, "avatars create no note row")
	assert.Empty(t, fx.queue.enqueued, "avatars are not rescanned")
	assert.Len(t, fx.objects.avatars, 1)
}

func TestValidateAndIngestSameFileTwiceSameVerdict(t *testing.T) {
	fx := newFixture(testConfig(), &fakeScanner{result: cleanScan()})
	content := []byte("Deterministic verdicts for identical input.\n")

	for i := 0; i < 2; i++ {
		cand := textCandidate(t)
		cand.TempPath = tempUpload(t, content)
		result, err := fx.ingestor.ValidateAndIngest(context.Background(), cand)
		require.NoError(t, err)
		assert.Equal(t, "text/plain", result.DetectedType)
	}
	assert.Len(t, fx.notes.created, 2)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"os unit1.txt", "os unit1.txt"},
		{"../../etc/passwd", "passwd"},
		{`..\..\boot.ini`, "boot.ini"},
		{"notes<script>.pdf", "notes_script_.pdf"},
		{"résumé.pdf", "r_sum_.pdf"},
		{"...", "upload"},
		{"", "upload"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

// pngBytes encodes a tiny PNG so the avatar path sniffs as a real image.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
