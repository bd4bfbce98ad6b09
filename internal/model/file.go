package model

import (
	"time"
)

// UploadedFile is the metadata row for a blob attached to a session.
type UploadedFile struct {
	ID               string    `db:"id" json:"id"`
	SessionID        string    `db:"session_id" json:"session_id"`
	QuestionID       *string   `db:"question_id" json:"question_id,omitempty"` // nil for client uploads outside a question
	StoragePath      string    `db:"storage_path" json:"-"`                    // deterministic per session and content
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	MimeType         string    `db:"mime_type" json:"mime_type"`
	FileSize         int64     `db:"file_size" json:"file_size"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`

	// Computed fields (not in database)
	FileURL string `db:"-" json:"file_url"`
}
