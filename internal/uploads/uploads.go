// Package uploads screens multipart image uploads before any bytes reach
// object storage and names accepted files.
package uploads

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	// FieldName is the multipart field carrying the file.
	FieldName = "file"
	// MaxFileSize is the largest accepted payload.
	MaxFileSize int64 = 5 << 20

	maxIgnoredFieldSize = 64 << 10
)

// allowedTypes maps accepted content types to the extension used when the
// original file name has none.
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// BadRequestError is returned for uploads rejected before storage.
type BadRequestError struct {
	Message string
}

func (e BadRequestError) Error() string {
	return e.Message
}

var (
	ErrNoFile       = BadRequestError{Message: "No file uploaded"}
	ErrEmptyFile    = BadRequestError{Message: "Uploaded file is empty"}
	ErrFileTooLarge = BadRequestError{Message: "File too large. Maximum size is 5MB"}
	ErrInvalidType  = BadRequestError{Message: "Invalid file type. Only JPEG, PNG, GIF and WebP images are allowed"}
)

// File is an accepted upload held in memory.
type File struct {
	OriginalName string
	ContentType  string
	Data         []byte
}

type Option func(*Guard)

// WithMaxFileSize overrides MaxFileSize.
func WithMaxFileSize(size int64) Option {
	return func(g *Guard) {
		if size > 0 {
			g.maxSize = size
		}
	}
}

// WithClock replaces the clock used for file name prefixes.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithRandom replaces the entropy source used for file name suffixes.
func WithRandom(r io.Reader) Option {
	return func(g *Guard) {
		if r != nil {
			g.random = r
		}
	}
}

type Guard struct {
	maxSize int64
	now     func() time.Time
	random  io.Reader
}

func NewGuard(opts ...Option) *Guard {
	guard := &Guard{maxSize: MaxFileSize, now: time.Now, random: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(guard)
		}
	}
	return guard
}

// MaxSize reports the configured file size ceiling.
func (g *Guard) MaxSize() int64 {
	return g.maxSize
}

// Read extracts the first "file" part of a multipart request. The content
// type is checked before the payload is read, and the payload is read at
// most one byte past the ceiling.
func (g *Guard) Read(r *http.Request) (File, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return File{}, ErrNoFile
		}
		return File{}, BadRequestError{Message: "Invalid multipart payload"}
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return File{}, ErrNoFile
		}
		if err != nil {
			return File{}, classifyReadError(err)
		}
		if part.FormName() != FieldName || (part.FileName() == "" && part.Header.Get("Content-Type") == "") {
			_, copyErr := io.Copy(io.Discard, io.LimitReader(part, maxIgnoredFieldSize))
			_ = part.Close()
			if copyErr != nil {
				return File{}, classifyReadError(copyErr)
			}
			continue
		}
		file, err := g.readPart(part.FileName(), part.Header.Get("Content-Type"), part)
		_ = part.Close()
		return file, err
	}
}

func (g *Guard) readPart(name, header string, body io.Reader) (File, error) {
	contentType, err := normalizeContentType(header)
	if err != nil {
		return File{}, ErrInvalidType
	}
	if _, ok := allowedTypes[contentType]; !ok {
		return File{}, ErrInvalidType
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(body, g.maxSize+1))
	if err != nil {
		return File{}, classifyReadError(err)
	}
	if n > g.maxSize {
		return File{}, ErrFileTooLarge
	}
	if n == 0 {
		return File{}, ErrEmptyFile
	}
	return File{OriginalName: path.Base(strings.ReplaceAll(name, "\\", "/")), ContentType: contentType, Data: buf.Bytes()}, nil
}

func classifyReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ErrFileTooLarge
	}
	return BadRequestError{Message: fmt.Sprintf("Invalid multipart payload: %v", err)}
}

func normalizeContentType(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing content type")
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "", err
	}
	return strings.ToLower(mediaType), nil
}

// FileName builds "<epoch-millis>-<base36 suffix><ext>". The extension comes
// from the original name when it is a known image extension, otherwise from
// the content type.
func (g *Guard) FileName(f File) (string, error) {
	var raw [8]byte
	if _, err := io.ReadFull(g.random, raw[:]); err != nil {
		return "", fmt.Errorf("generate file name: %w", err)
	}
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(raw[:]), 36)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%d-%s%s", g.now().UnixMilli(), suffix, extensionFor(f)), nil
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

func extensionFor(f File) string {
	ext := strings.ToLower(path.Ext(f.OriginalName))
	if _, ok := imageExtensions[ext]; ok {
		return ext
	}
	return allowedTypes[f.ContentType]
}
