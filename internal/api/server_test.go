package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyshare/notegate/internal/config"
	"github.com/studyshare/notegate/internal/model"
	"github.com/studyshare/notegate/internal/pipeline"
)

type stubNoteStore struct{}

func (stubNoteStore) HasDuplicate(ctx context.Context, uploaderID, department, originalName string) (bool, error) {
	return false, nil
}

func (stubNoteStore) Create(ctx context.Context, note *model.Note) error { return nil }

type stubObjectStore struct{}

func (stubObjectStore) PutNote(ctx context.Context, objectKey, path, contentType string) error {
	return nil
}

func (stubObjectStore) PutAvatar(ctx context.Context, objectKey, path, contentType string) error {
	return nil
}

type stubScanner struct{}

func (stubScanner) Scan(ctx context.Context, path string) model.ScanResult {
	return model.ScanResult{Backend: model.BackendHeuristic, Message: "no indicators found"}
}

func testServer(maxNoteSize int64) *Server {
	cfg := &config.Config{
		MaxNoteSize:   maxNoteSize,
		MaxAvatarSize: maxNoteSize,
	}
	ingestor := pipeline.NewIngestor(cfg, stubNoteStore{}, stubObjectStore{}, stubScanner{}, nil)
	return New(cfg, nil, nil, ingestor, nil)
}

// multipartUpload builds a request with one text file part, declaring
// text/plain explicitly (the form-file helper would declare octet-stream).
func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition",
		`form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/notes", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set("X-User-Id", "u-100")
	r.Header.Set("X-Usn", "1XX21CS042")
	r.Header.Set("X-Department", "CSE")
	r.Header.Set("X-Academic-Year", "3")
	return r
}

func TestUploadAccepted(t *testing.T) {
	s := testServer(1 << 20)
	w := httptest.NewRecorder()
	s.handleNotes(w, multipartUpload(t, "os notes.txt", []byte("scheduling, deadlock, paging")))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, "os notes.txt", resp["fileName"])
}

func TestUploadOversizeGetsTypedRejection(t *testing.T) {
	s := testServer(512)
	w := httptest.NewRecorder()
	s.handleNotes(w, multipartUpload(t, "huge.txt", []byte(strings.Repeat("a", 2048))))

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(model.RejectSizeExceeded), resp["kind"])
	assert.Contains(t, resp["detail"], "512")
}

func TestUploadWithoutPrincipalIsUnauthorized(t *testing.T) {
	s := testServer(1 << 20)
	r := multipartUpload(t, "os notes.txt", []byte("content"))
	r.Header.Del("X-User-Id")
	w := httptest.NewRecorder()
	s.handleNotes(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
