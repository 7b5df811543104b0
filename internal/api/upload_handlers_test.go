package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencampus/campus/internal/upload"
)

func newTestUploadHandlers(t *testing.T) (*UploadHandlers, string) {
	t.Helper()
	dir := t.TempDir()
	guard, err := upload.NewGuard(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create guard: %v", err)
	}
	// No sanitizer: avatar tests exercising re-encoding need libvips
	return NewUploadHandlers(guard, nil), dir
}

// multipartBody builds a single-file multipart form with an explicit part
// content type.
func multipartBody(t *testing.T, field, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk uploads dir: %v", err)
	}
	return n
}

// pdfContent returns a minimal payload carrying the PDF magic number.
func pdfContent() []byte {
	return append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 64)...)
}

// jpegContent returns a minimal payload carrying the JPEG magic number.
func jpegContent() []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x01}, 64)...)
}

func TestUploadDocument_ValidPDF(t *testing.T) {
	handlers, dir := newTestUploadHandlers(t)

	content := pdfContent()
	body, contentType := multipartBody(t, "file", "syllabus.pdf", "application/pdf", content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/document", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handlers.UploadDocument(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var desc upload.Descriptor
	if err := json.NewDecoder(w.Body).Decode(&desc); err != nil {
		t.Fatalf("failed to decode descriptor: %v", err)
	}
	if desc.MIMEType != "application/pdf" {
		t.Errorf("expected mimetype application/pdf, got %s", desc.MIMEType)
	}
	if desc.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), desc.Size)
	}

	// The stored file must exist under the documents subdirectory with a
	// generated name, never the client filename
	if filepath.Base(desc.Path) == "syllabus.pdf" {
		t.Error("stored file must not use the client-supplied filename")
	}
	if filepath.Base(filepath.Dir(desc.Path)) != "documents" {
		t.Errorf("expected documents subdirectory, got %s", desc.Path)
	}
	if _, err := os.Stat(desc.Path); err != nil {
		t.Errorf("stored file missing: %v", err)
	}
	if countFiles(t, dir) != 1 {
		t.Errorf("expected exactly 1 stored file, got %d", countFiles(t, dir))
	}
}

func TestUploadImage_SignatureMismatch(t *testing.T) {
	handlers, dir := newTestUploadHandlers(t)

	// Declared as JPEG, content is a PDF
	body, contentType := multipartBody(t, "file", "photo.jpg", "image/jpeg", pdfContent())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/image", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handlers.UploadImage(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeSignatureMismatch {
		t.Errorf("expected error code %s, got %s", ErrCodeSignatureMismatch, errResp.Error.Code)
	}

	// Rejected content must not remain on disk
	if n := countFiles(t, dir); n != 0 {
		t.Errorf("expected no files after rejection, found %d", n)
	}
}

func TestUploadAvatar_RejectsDocumentType(t *testing.T) {
	handlers, dir := newTestUploadHandlers(t)

	body, contentType := multipartBody(t, "file", "notes.pdf", "application/pdf", pdfContent())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/avatar", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handlers.UploadAvatar(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeInvalidFileType {
		t.Errorf("expected error code %s, got %s", ErrCodeInvalidFileType, errResp.Error.Code)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Errorf("expected no files after rejection, found %d", n)
	}
}

func TestUploadAvatar_PathTraversalFilename(t *testing.T) {
	handlers, dir := newTestUploadHandlers(t)

	body, contentType := multipartBody(t, "file", "../../etc/cron.jpg", "image/jpeg", jpegContent())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/avatar", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handlers.UploadAvatar(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodePathTraversal {
		t.Errorf("expected error code %s, got %s", ErrCodePathTraversal, errResp.Error.Code)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Errorf("expected no files after rejection, found %d", n)
	}
}

func TestUploadAvatar_TooLarge(t *testing.T) {
	handlers, dir := newTestUploadHandlers(t)

	// 3 MB JPEG payload against the 2 MB avatar ceiling
	content := append(jpegContent(), bytes.Repeat([]byte{0x02}, 3<<20)...)
	body, contentType := multipartBody(t, "file", "huge.jpg", "image/jpeg", content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/avatar", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handlers.UploadAvatar(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", w.Code)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Errorf("expected no files after rejection, found %d", n)
	}
}

func TestUploadDocument_AcceptedByDocumentCeiling(t *testing.T) {
	// The same 7 MB payload that the avatar endpoint would reject passes
	// under the 10 MB document ceiling
	handlers, dir := newTestUploadHandlers(t)

	content := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("y"), 7<<20)...)
	body, contentType := multipartBody(t, "file", "reader.pdf", "application/pdf", content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/document", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handlers.UploadDocument(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if n := countFiles(t, dir); n != 1 {
		t.Errorf("expected 1 stored file, got %d", n)
	}
}

func TestUpload_MissingFileField(t *testing.T) {
	handlers, _ := newTestUploadHandlers(t)

	body, contentType := multipartBody(t, "attachment", "notes.pdf", "application/pdf", pdfContent())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/document", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handlers.UploadDocument(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeValidation {
		t.Errorf("expected error code %s, got %s", ErrCodeValidation, errResp.Error.Code)
	}
}

func TestUpload_MultipleFileParts(t *testing.T) {
	handlers, dir := newTestUploadHandlers(t)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, name := range []string{"a.pdf", "b.pdf"} {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		h.Set("Content-Type", "application/pdf")
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		if _, err := part.Write(pdfContent()); err != nil {
			t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/document", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	handlers.UploadDocument(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Errorf("expected no stored files, found %d", n)
	}
}

func TestUpload_NonMultipartBody(t *testing.T) {
	handlers, _ := newTestUploadHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/document", bytes.NewReader([]byte("not a form")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handlers.UploadDocument(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}
