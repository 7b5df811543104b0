// Package api provides HTTP handlers for upload operations.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/opencampus/campus/internal/image"
	"github.com/opencampus/campus/internal/tracing"
	"github.com/opencampus/campus/internal/upload"
)

// maxMultipartMemory caps how much of a multipart body is held in memory
// while parsing; the rest spills to temporary files.
const maxMultipartMemory = 10 << 20

// maxFormParts bounds the number of form fields accepted per upload request
// to prevent resource exhaustion via oversized multipart payloads.
const maxFormParts = 8

// multipartOverhead is slack added to the body limit for multipart framing.
const multipartOverhead = 1 << 20

// uploadFieldName is the multipart field carrying the file; one file per request.
const uploadFieldName = "file"

// UploadHandlers holds dependencies for upload HTTP handlers.
type UploadHandlers struct {
	guard     *upload.Guard
	sanitizer *image.Processor

	avatarPolicy   upload.Policy
	imagePolicy    upload.Policy
	documentPolicy upload.Policy
	videoPolicy    upload.Policy
}

// NewUploadHandlers creates a new UploadHandlers instance with the default
// per-category policies. sanitizer may be nil to disable avatar re-encoding.
func NewUploadHandlers(guard *upload.Guard, sanitizer *image.Processor) *UploadHandlers {
	return &UploadHandlers{
		guard:          guard,
		sanitizer:      sanitizer,
		avatarPolicy:   upload.AvatarPolicy(),
		imagePolicy:    upload.ImagePolicy(),
		documentPolicy: upload.DocumentPolicy(),
		videoPolicy:    upload.VideoPolicy(),
	}
}

// WithCeilings overrides the avatar and video size ceilings from deployment
// configuration. Zero values keep the defaults.
func (h *UploadHandlers) WithCeilings(avatarBytes, videoBytes int64) *UploadHandlers {
	if avatarBytes > 0 {
		h.avatarPolicy.Constraints.MaxSizeBytes = avatarBytes
	}
	if videoBytes > 0 {
		h.videoPolicy.Constraints.MaxSizeBytes = videoBytes
	}
	return h
}

// UploadAvatar handles POST /api/v1/uploads/avatar - image types only, 2 MB
// ceiling, sanitized after validation.
func (h *UploadHandlers) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.avatarPolicy, true)
}

// UploadImage handles POST /api/v1/uploads/image.
func (h *UploadHandlers) UploadImage(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.imagePolicy, false)
}

// UploadDocument handles POST /api/v1/uploads/document.
func (h *UploadHandlers) UploadDocument(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.documentPolicy, false)
}

// UploadVideo handles POST /api/v1/uploads/video.
func (h *UploadHandlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.videoPolicy, false)
}

// handle routes one multipart upload through both guard phases and writes
// either the validated descriptor or a typed rejection.
func (h *UploadHandlers) handle(w http.ResponseWriter, r *http.Request, policy upload.Policy, sanitize bool) {
	// Transport-level bound; the guard re-verifies the on-disk size.
	r.Body = http.MaxBytesReader(w, r.Body, policy.Constraints.MaxSizeBytes+multipartOverhead)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteError(w, r.Context(), http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge,
				"Upload exceeds the size limit for this endpoint")
			return
		}
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid multipart form data")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.DebugContext(r.Context(), "failed to remove multipart temp files", "error", err)
		}
	}()

	if countParts(r) > maxFormParts {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Too many form fields")
		return
	}

	files := r.MultipartForm.File[uploadFieldName]
	if len(files) != 1 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation,
			"Exactly one file must be provided in the \"file\" field")
		return
	}

	header := files[0]
	f, err := header.Open()
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Unable to read uploaded file")
		return
	}
	defer f.Close()

	_, endGuard := tracing.StartSpan(r.Context(), "upload_guard_process")
	desc, err := h.guard.Process(policy, f, header.Header.Get("Content-Type"), header.Filename, header.Size)
	endGuard(err)
	if err != nil {
		h.writeRejection(w, r, err)
		return
	}

	if sanitize && h.sanitizer != nil {
		_, endSanitize := tracing.StartSpan(r.Context(), "sanitize_avatar")
		size, err := h.sanitizer.SanitizeFile(desc.Path)
		endSanitize(err)
		if err != nil {
			// An image bimg cannot parse is not trusted; remove it.
			if rmErr := os.Remove(desc.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.ErrorContext(r.Context(), "failed to remove unsanitizable upload",
					"path", desc.Path, "error", rmErr)
			}
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidFileType,
				"Image could not be decoded for sanitization")
			return
		}
		desc.Size = size
	}

	WriteJSON(w, r.Context(), http.StatusCreated, desc)
}

// writeRejection maps guard errors onto typed 4xx responses with actionable
// reason strings.
func (h *UploadHandlers) writeRejection(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, upload.ErrInvalidFileType):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidFileType, err.Error())
	case errors.Is(err, upload.ErrInvalidExtension):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidExtension, err.Error())
	case errors.Is(err, upload.ErrPathTraversal):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodePathTraversal, err.Error())
	case errors.Is(err, upload.ErrSignatureMismatch):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeSignatureMismatch, err.Error())
	case errors.Is(err, upload.ErrFileTooLarge):
		WriteError(w, ctx, http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge, err.Error())
	default:
		slog.ErrorContext(ctx, "upload processing failed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to process upload")
	}
}

// countParts totals file and value fields in the parsed form.
func countParts(r *http.Request) int {
	n := 0
	for _, fhs := range r.MultipartForm.File {
		n += len(fhs)
	}
	for _, vals := range r.MultipartForm.Value {
		n += len(vals)
	}
	return n
}
