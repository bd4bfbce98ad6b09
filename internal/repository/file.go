package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/templui/formpipe/internal/model"
)

var (
	ErrFileNotFound = errors.New("file not found")
)

type FileRepository interface {
	// Create inserts the metadata row. It reports false without error when a row
	// with the same storage path already exists.
	Create(ctx context.Context, file *model.UploadedFile) (bool, error)
	ByStoragePath(ctx context.Context, storagePath string) (*model.UploadedFile, error)
	Files(ctx context.Context, sessionID string) ([]*model.UploadedFile, error)
	TotalSize(ctx context.Context, sessionID string) (int64, error)
	Delete(ctx context.Context, id string) error
}

type fileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(ctx context.Context, file *model.UploadedFile) (bool, error) {
	query := `INSERT INTO uploaded_files (id, session_id, question_id, storage_path, original_filename, mime_type, file_size, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (storage_path) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		file.ID,
		file.SessionID,
		file.QuestionID,
		file.StoragePath,
		file.OriginalFilename,
		file.MimeType,
		file.FileSize,
		file.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *fileRepository) ByStoragePath(ctx context.Context, storagePath string) (*model.UploadedFile, error) {
	file := &model.UploadedFile{}
	query := `SELECT * FROM uploaded_files WHERE storage_path = $1`

	err := r.db.GetContext(ctx, file, query, storagePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}

	return file, nil
}

func (r *fileRepository) Files(ctx context.Context, sessionID string) ([]*model.UploadedFile, error) {
	var files []*model.UploadedFile
	query := `SELECT * FROM uploaded_files WHERE session_id = $1 ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &files, query, sessionID)
	if err != nil {
		return nil, err
	}

	return files, nil
}

// TotalSize returns the bytes already attached to a session.
func (r *fileRepository) TotalSize(ctx context.Context, sessionID string) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(file_size), 0) FROM uploaded_files WHERE session_id = $1`

	err := r.db.GetContext(ctx, &total, query, sessionID)
	if err != nil {
		return 0, err
	}

	return total, nil
}

func (r *fileRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM uploaded_files WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrFileNotFound
	}

	return nil
}
