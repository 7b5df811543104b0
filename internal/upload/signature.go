package upload

import (
	"bytes"
)

// signatureLen is how many leading bytes are read for content verification.
const signatureLen = 4

// magicNumbers maps MIME types to their known leading byte signatures.
// Types absent from this table (plain text, legacy .doc, video containers)
// intentionally skip the signature check and rely on extension and size
// checks only.
var magicNumbers = map[string][]byte{
	"image/jpeg":      {0xFF, 0xD8, 0xFF},
	"image/png":       {0x89, 0x50, 0x4E, 0x47},
	"image/gif":       {0x47, 0x49, 0x46, 0x38},
	"application/pdf": {0x25, 0x50, 0x44, 0x46},
	// OOXML documents are zip archives.
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {0x50, 0x4B, 0x03, 0x04},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       {0x50, 0x4B, 0x03, 0x04},
}

// matchesSignature reports whether the leading bytes of a file match the known
// signature for the declared MIME type. Types with no table entry always match.
func matchesSignature(mimeType string, leading []byte) bool {
	sig, known := magicNumbers[mimeType]
	if !known {
		return true
	}
	if len(leading) < len(sig) {
		return false
	}
	return bytes.Equal(leading[:len(sig)], sig)
}

// hasKnownSignature reports whether the MIME type appears in the magic table.
func hasKnownSignature(mimeType string) bool {
	_, ok := magicNumbers[mimeType]
	return ok
}
