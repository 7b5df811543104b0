// Package upload implements a two-phase validator for user-submitted files:
// a pre-write policy check on declared metadata, then a post-write
// verification of the persisted content. No rejected upload is ever left
// resident on disk, and the caller-supplied filename is never used as a
// storage path component.
package upload

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencampus/campus/internal/validate"
)

// Upload rejection reasons. All map to 4xx responses with cleanup of any
// partial file.
var (
	ErrInvalidFileType   = errors.New("file type not allowed")
	ErrInvalidExtension  = errors.New("file extension not allowed")
	ErrPathTraversal     = errors.New("filename contains path traversal")
	ErrSignatureMismatch = errors.New("file content does not match declared type")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
)

// Descriptor describes a validated, persisted upload.
type Descriptor struct {
	Path     string `json:"path"`
	MIMEType string `json:"mimetype"`
	Size     int64  `json:"size"`
}

// Guard validates uploads against a Policy in two phases and owns the
// uploads directory tree. Randomized storage names eliminate cross-request
// contention, so no locking is required.
type Guard struct {
	baseDir string
	logger  *slog.Logger
}

// NewGuard creates a guard rooted at baseDir, creating it if absent.
func NewGuard(baseDir string, logger *slog.Logger) (*Guard, error) {
	if baseDir == "" {
		return nil, errors.New("uploads directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &Guard{baseDir: baseDir, logger: logger}, nil
}

// BaseDir returns the uploads root.
func (g *Guard) BaseDir() string {
	return g.baseDir
}

// PreCheck is Phase A: policy validation on declared metadata, before any
// disk write. Returns the normalized MIME type.
func (g *Guard) PreCheck(policy Policy, declaredType, filename string, size int64) (string, error) {
	if containsTraversal(filename) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, filename)
	}

	normalized, err := validate.File(declaredType, size, policy.Constraints)
	if err != nil {
		switch {
		case errors.Is(err, validate.ErrFileTooLarge):
			return "", fmt.Errorf("%w: %d bytes over %d limit", ErrFileTooLarge, size, policy.Constraints.MaxSizeBytes)
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidFileType, declaredType)
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || !extensionAllowed(normalized, ext) {
		return "", fmt.Errorf("%w: %q for type %q", ErrInvalidExtension, ext, normalized)
	}

	return normalized, nil
}

// Process runs both phases: Phase A on the declared metadata, a write under a
// freshly generated name, then Phase B verification of the persisted bytes.
// On any failure the staged file is deleted before the error is returned.
func (g *Guard) Process(policy Policy, src io.Reader, declaredType, filename string, declaredSize int64) (*Descriptor, error) {
	normalized, err := g.PreCheck(policy, declaredType, filename, declaredSize)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(g.baseDir, policy.Category.subdirectory())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create category directory: %w", err)
	}

	name, err := generateStorageName(strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		return nil, err
	}
	stagedPath := filepath.Join(dir, name)

	if err := g.write(stagedPath, src, policy.Constraints.MaxSizeBytes); err != nil {
		g.purge(stagedPath)
		return nil, err
	}

	size, err := g.Verify(policy, stagedPath, normalized)
	if err != nil {
		return nil, err
	}

	return &Descriptor{Path: stagedPath, MIMEType: normalized, Size: size}, nil
}

// Verify is Phase B: re-check the persisted file's leading bytes against the
// magic-number table and its on-disk size against the policy ceiling.
// Transport-enforced limits are advisory; this check is authoritative.
// Every failure path deletes the staged file before returning.
func (g *Guard) Verify(policy Policy, stagedPath, mimeType string) (int64, error) {
	size, err := g.verify(policy, stagedPath, mimeType)
	if err != nil {
		g.purge(stagedPath)
		return 0, err
	}
	return size, nil
}

func (g *Guard) verify(policy Policy, stagedPath, mimeType string) (int64, error) {
	f, err := os.Open(stagedPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open staged file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat staged file: %w", err)
	}
	if max := policy.Constraints.MaxSizeBytes; max > 0 && info.Size() > max {
		return 0, fmt.Errorf("%w: %d bytes on disk over %d limit", ErrFileTooLarge, info.Size(), max)
	}

	leading := make([]byte, signatureLen)
	n, err := io.ReadFull(f, leading)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read file signature: %w", err)
	}
	if !matchesSignature(mimeType, leading[:n]) {
		return 0, fmt.Errorf("%w: declared %q", ErrSignatureMismatch, mimeType)
	}

	return info.Size(), nil
}

// write copies src to path, bounded at one byte past the ceiling so oversize
// content is detected without unbounded disk use.
func (g *Guard) write(path string, src io.Reader, maxBytes int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create staged file: %w", err)
	}

	limit := io.Reader(src)
	if maxBytes > 0 {
		limit = io.LimitReader(src, maxBytes+1)
	}

	_, copyErr := io.Copy(f, limit)
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to write staged file: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close staged file: %w", closeErr)
	}
	return nil
}

// purge deletes a staged file. Failure-path deletion must complete before the
// rejection is returned, so a retrying client never observes the artifact.
func (g *Guard) purge(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		g.logger.Error("failed to remove rejected upload", "path", path, "error", err)
	}
}

// containsTraversal reports whether a caller-supplied filename carries
// traversal sequences or path separator characters.
func containsTraversal(filename string) bool {
	return strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, `/\`) ||
		strings.HasPrefix(filename, ".")
}

// generateStorageName builds the storage filename:
// {millisecond timestamp}-{16 random bytes hex}{original extension}.
func generateStorageName(ext string) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate storage name: %w", err)
	}
	return fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), hex.EncodeToString(raw), ext), nil
}
