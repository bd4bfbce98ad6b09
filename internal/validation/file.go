package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
)

// FileConstraints maps each accepted MIME type to the extensions allowed for it
type FileConstraints struct {
	AllowedTypes map[string][]string
}

var (
	// ImageConstraints defines validation rules for image uploads
	ImageConstraints = FileConstraints{
		AllowedTypes: map[string][]string{
			"image/jpeg": {".jpg", ".jpeg"},
			"image/png":  {".png"},
			"image/webp": {".webp"},
			"image/gif":  {".gif"},
		},
	}

	// DocumentConstraints defines validation rules for document uploads
	DocumentConstraints = FileConstraints{
		AllowedTypes: map[string][]string{
			"application/pdf": {".pdf"},
		},
	}
)

var ErrNoConstraints = errors.New("no file constraints provided")

// ValidateFile sniffs the content type from the file's magic numbers and checks
// it, together with the filename extension, against the constraint sets.
// A file must match at least one set. The reader is rewound before returning.
// Example: ValidateFile(f, name, ImageConstraints, DocumentConstraints) allows images OR PDFs
func ValidateFile(file io.ReadSeeker, filename string, constraints ...FileConstraints) (string, error) {
	if len(constraints) == 0 {
		return "", ErrNoConstraints
	}

	detectedType, err := DetectMimeType(file)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	for _, c := range constraints {
		exts, ok := c.AllowedTypes[detectedType]
		if !ok {
			continue
		}
		if !slices.Contains(exts, ext) {
			return "", fmt.Errorf("file extension %q does not match its content (%s)", ext, detectedType)
		}
		return detectedType, nil
	}

	return "", fmt.Errorf("file type not allowed (detected: %s)", detectedType)
}

// DetectMimeType reads the first 512 bytes to determine the content type and
// rewinds the reader. This cannot be faked by changing the Content-Type header.
func DetectMimeType(file io.ReadSeeker) (string, error) {
	buffer := make([]byte, 512)
	n, err := io.ReadFull(file, buffer)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	_, err = file.Seek(0, io.SeekStart)
	if err != nil {
		return "", fmt.Errorf("failed to reset file pointer: %w", err)
	}

	// DetectContentType may append parameters like "; charset=utf-8"
	detected, _, _ := strings.Cut(http.DetectContentType(buffer[:n]), ";")
	return detected, nil
}
