package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyshare/notegate/internal/model"
)

// ErrNotFound is returned when a note id has no row.
var ErrNotFound = errors.New("note not found")

// NoteRepository wraps all SQL used by the API server and the rescan worker.
type NoteRepository struct {
	pool *pgxpool.Pool
}

// NewNoteRepository constructs a repository.
func NewNoteRepository(pool *pgxpool.Pool) *NoteRepository {
	return &NoteRepository{pool: pool}
}

// Create inserts a fully validated note. Called only after every pipeline
// stage has passed.
func (r *NoteRepository) Create(ctx context.Context, note *model.Note) error {
	now := time.Now().UTC()
	note.CreatedAt = now
	note.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notes (id, uploader_id, usn, department, academic_year, subject,
			original_name, storage_name, object_key, size_bytes, detected_type,
			scan_backend, all_years, flagged, flag_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, note.ID, note.UploaderID, note.USN, note.Department, note.AcademicYear, note.Subject,
		note.OriginalName, note.StorageName, note.ObjectKey, note.SizeBytes, note.DetectedType,
		note.ScanBackend, note.AllYears, note.Flagged, note.FlagReason, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// Get returns a note by id.
func (r *NoteRepository) Get(ctx context.Context, id string) (*model.Note, error) {
	var note model.Note
	row := r.pool.QueryRow(ctx, `
		SELECT id, uploader_id, usn, department, academic_year, subject,
			original_name, storage_name, object_key, size_bytes, detected_type,
			scan_backend, all_years, flagged, COALESCE(flag_reason,''), created_at, updated_at
		FROM notes WHERE id=$1
	`, id)
	if err := row.Scan(&note.ID, &note.UploaderID, &note.USN, &note.Department, &note.AcademicYear,
		&note.Subject, &note.OriginalName, &note.StorageName, &note.ObjectKey, &note.SizeBytes,
		&note.DetectedType, &note.ScanBackend, &note.AllYears, &note.Flagged, &note.FlagReason,
		&note.CreatedAt, &note.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select note: %w", err)
	}
	return &note, nil
}

// HasDuplicate reports whether the uploader already has a note with this
// exact original filename in the department. A name-equality check only;
// content-hash dedup is a documented non-feature.
func (r *NoteRepository) HasDuplicate(ctx context.Context, uploaderID, department, originalName string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notes
			WHERE uploader_id=$1 AND department=$2 AND original_name=$3
		)
	`, uploaderID, department, originalName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("duplicate query: %w", err)
	}
	return exists, nil
}

// Flag quarantines a note; flagged notes are refused at download time.
func (r *NoteRepository) Flag(ctx context.Context, id, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notes SET flagged=TRUE, flag_reason=$1, updated_at=$2 WHERE id=$3
	`, reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("flag note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDepartment returns the notes visible to a department, newest first.
func (r *NoteRepository) ListDepartment(ctx context.Context, department string, limit int) ([]*model.Note, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, uploader_id, usn, department, academic_year, subject,
			original_name, storage_name, object_key, size_bytes, detected_type,
			scan_backend, all_years, flagged, COALESCE(flag_reason,''), created_at, updated_at
		FROM notes
		WHERE department=$1 AND NOT flagged
		ORDER BY created_at DESC
		LIMIT $2
	`, department, limit)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	var notes []*model.Note
	for rows.Next() {
		var note model.Note
		if err := rows.Scan(&note.ID, &note.UploaderID, &note.USN, &note.Department, &note.AcademicYear,
			&note.Subject, &note.OriginalName, &note.StorageName, &note.ObjectKey, &note.SizeBytes,
			&note.DetectedType, &note.ScanBackend, &note.AllYears, &note.Flagged, &note.FlagReason,
			&note.CreatedAt, &note.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note row: %w", err)
		}
		notes = append(notes, &note)
	}
	return notes, rows.Err()
}
