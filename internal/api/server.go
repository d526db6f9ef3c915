// Package api exposes the HTTP surface: note upload, note metadata and
// download, and the avatar upload path. Handlers stay thin; every
// admit-or-reject decision lives in the pipeline package.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/studyshare/notegate/internal/config"
	"github.com/studyshare/notegate/internal/model"
	"github.com/studyshare/notegate/internal/pipeline"
	"github.com/studyshare/notegate/internal/repository"
	"github.com/studyshare/notegate/internal/s3storage"
	"github.com/studyshare/notegate/internal/signing"
)

// Server hosts the NoteGate HTTP endpoints.
type Server struct {
	cfg      *config.Config
	repo     *repository.NoteRepository
	store    *s3storage.Storage
	ingestor *pipeline.Ingestor
	signer   *signing.Signer
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, repo *repository.NoteRepository, store *s3storage.Storage, ingestor *pipeline.Ingestor, signer *signing.Signer) *Server {
	return &Server{
		cfg:      cfg,
		repo:     repo,
		store:    store,
		ingestor: ingestor,
		signer:   signer,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/notes", s.handleNotes)
		mux.HandleFunc("/notes/", s.handleNoteRoute)
		mux.HandleFunc("/avatars", s.handleAvatarUpload)
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: loggingMiddleware(mux),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, false)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleNoteRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/notes/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleNote(w, r, id)
		return
	}
	if parts[1] == "download" {
		s.handleDownload(w, r, id)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	notes, err := s.repo.ListDepartment(r.Context(), principal.Department, 100)
	if err != nil {
		log.Printf("list notes: %v", err)
		http.Error(w, "failed to list notes", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, notes)
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	note, err := s.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "note not found", http.StatusNotFound)
		return
	}
	if decision := pipeline.CheckDownloadAccess(principal, note); !decision.Allowed {
		respondJSON(w, http.StatusForbidden, map[string]string{
			"kind":   string(decision.Kind),
			"detail": decision.Reason,
		})
		return
	}
	expires := time.Now().Add(s.cfg.SignedURLTTL).Unix()
	link := fmt.Sprintf("/notes/%s/download?expires=%d&sig=%s",
		note.ID, expires, s.signer.Sign(note.ID, expires))
	respondJSON(w, http.StatusOK, map[string]any{
		"note":        note,
		"downloadUrl": link,
	})
}

// handleDownload releases stored bytes only after the access gate and the
// signed-link check both pass.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	note, err := s.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "note not found", http.StatusNotFound)
		return
	}
	expires := r.URL.Query().Get("expires")
	sig := r.URL.Query().Get("sig")
	if !s.signer.Validate(note.ID, expires, sig) || linkExpired(expires) {
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}
	if decision := pipeline.CheckDownloadAccess(principal, note); !decision.Allowed {
		respondJSON(w, http.StatusForbidden, map[string]string{
			"kind":   string(decision.Kind),
			"detail": decision.Reason,
		})
		return
	}
	obj, err := s.store.OpenNote(r.Context(), note.ObjectKey)
	if err != nil {
		log.Printf("open note object %s: %v", note.ObjectKey, err)
		http.Error(w, "failed to read note", http.StatusInternalServerError)
		return
	}
	defer obj.Close()
	w.Header().Set("Content-Type", note.DetectedType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", pipeline.SanitizeFilename(note.OriginalName)))
	if _, err := io.Copy(w, obj); err != nil {
		log.Printf("stream note %s: %v", note.ID, err)
	}
}

func (s *Server) handleAvatarUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handleUpload(w, r, true)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, avatar bool) {
	ctx := r.Context()
	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	limit := s.cfg.MaxNoteSize
	if avatar {
		limit = s.cfg.MaxAvatarSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+64*1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	form, err := s.readForm(mr, limit)
	if err != nil {
		if errors.Is(err, errFileTooLarge) {
			respondJSON(w, rejectionStatus(model.RejectSizeExceeded), map[string]string{
				"kind":   string(model.RejectSizeExceeded),
				"detail": fmt.Sprintf("file exceeds the %d byte limit", limit),
			})
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cand := model.UploadCandidate{
		TempPath:     form.tempPath,
		DeclaredName: form.filename,
		DeclaredMIME: form.declaredMIME,
		SizeBytes:    form.size,
		Avatar:       avatar,
		Subject:      form.subject,
		Owner:        principal,
	}
	result, err := s.ingestor.ValidateAndIngest(ctx, cand)
	if err != nil {
		var rej *pipeline.Rejection
		if errors.As(err, &rej) {
			respondJSON(w, rejectionStatus(rej.Kind), map[string]string{
				"kind":   string(rej.Kind),
				"detail": rej.Detail,
			})
			return
		}
		// Unexpected I/O failure: log detail, answer generically.
		log.Printf("ingest failed for %q: %v", form.filename, err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	resp := map[string]string{
		"id":          result.NoteID,
		"fileName":    result.SanitizedName,
		"contentType": result.DetectedType,
		"scanBackend": string(result.ScanBackend),
	}
	if result.ScanWarning != "" {
		resp["scanWarning"] = result.ScanWarning
	}
	respondJSON(w, http.StatusCreated, resp)
}

// errFileTooLarge marks an upload whose file part exceeded its size ceiling
// while being spooled; the handler turns it into the size_exceeded rejection.
var errFileTooLarge = errors.New("file too large")

// uploadForm is what readForm extracts from the multipart body.
type uploadForm struct {
	tempPath     string
	filename     string
	declaredMIME string
	subject      string
	size         int64
}

// readForm streams the multipart body, spooling the "file" part to a temp
// file with the size cap enforced during the copy, and collecting the small
// "subject" field wherever it appears.
func (s *Server) readForm(mr *multipart.Reader, limit int64) (*uploadForm, error) {
	form := &uploadForm{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if form.tempPath != "" {
				os.Remove(form.tempPath)
			}
			return nil, fmt.Errorf("read form: %w", err)
		}
		switch part.FormName() {
		case "subject":
			val, err := io.ReadAll(io.LimitReader(part, 256))
			part.Close()
			if err != nil {
				if form.tempPath != "" {
					os.Remove(form.tempPath)
				}
				return nil, fmt.Errorf("read subject: %w", err)
			}
			form.subject = strings.TrimSpace(string(val))
		case "file":
			if form.tempPath != "" {
				part.Close()
				continue // only the first file part counts
			}
			if err := s.persistTemp(part, form, limit); err != nil {
				part.Close()
				return nil, err
			}
			part.Close()
		default:
			part.Close()
		}
	}
	if form.tempPath == "" {
		return nil, errors.New("missing file field")
	}
	return form, nil
}

func (s *Server) persistTemp(part *multipart.Part, form *uploadForm, limit int64) error {
	tmpFile, err := os.CreateTemp("", "notegate-upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	discard := func(reason error) error {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return reason
	}
	written, err := io.Copy(tmpFile, io.LimitReader(part, limit+1))
	if err != nil {
		return discard(fmt.Errorf("write temp file: %w", err))
	}
	if written == 0 {
		return discard(errors.New("empty file"))
	}
	if written > limit {
		return discard(errFileTooLarge)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	form.tempPath = tmpFile.Name()
	form.filename = filename
	form.declaredMIME = part.Header.Get("Content-Type")
	form.size = written
	return nil
}

// requirePrincipal reads the authenticated principal that the auth proxy
// injects as headers. Requests without one never reach the pipeline.
func (s *Server) requirePrincipal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return model.Principal{}, false
	}
	year, _ := strconv.Atoi(r.Header.Get("X-Academic-Year"))
	return model.Principal{
		UserID:       userID,
		USN:          r.Header.Get("X-Usn"),
		Department:   r.Header.Get("X-Department"),
		AcademicYear: year,
	}, true
}

func rejectionStatus(kind model.RejectionKind) int {
	switch kind {
	case model.RejectDuplicateFile:
		return http.StatusConflict
	case model.RejectSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case model.RejectMalwareDetected:
		return http.StatusUnprocessableEntity
	case model.RejectScanUnavailable:
		return http.StatusServiceUnavailable
	case model.RejectAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func linkExpired(expires string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return true
	}
	return time.Now().Unix() > exp
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
