// Package image sanitizes accepted avatar uploads: EXIF/metadata stripping,
// re-encoding, and bounding to display dimensions.
package image

import (
	"fmt"
	"io"
	"os"

	"github.com/h2non/bimg"
)

// ProcessorConfig holds configuration for image sanitization.
type ProcessorConfig struct {
	// Quality for JPEG/WebP encoding (1-100)
	Quality int
	// OutputFormat specifies the output format (jpeg, webp, png)
	OutputFormat string
	// StripMetadata removes all EXIF/metadata
	StripMetadata bool
	// MaxWidth limits image width (0 = no limit)
	MaxWidth int
	// MaxHeight limits image height (0 = no limit)
	MaxHeight int
}

// AvatarConfig returns the sanitization settings applied to avatar uploads:
// strip all metadata, re-encode as JPEG, bound to 512x512.
func AvatarConfig() ProcessorConfig {
	return ProcessorConfig{
		Quality:       85,
		OutputFormat:  "jpeg",
		StripMetadata: true,
		MaxWidth:      512,
		MaxHeight:     512,
	}
}

// Processor re-encodes images according to its config.
type Processor struct {
	config ProcessorConfig
}

// NewProcessor creates an image processor with the given config.
func NewProcessor(config ProcessorConfig) *Processor {
	return &Processor{config: config}
}

// Process reads an image and returns sanitized bytes: metadata stripped,
// orientation corrected, re-encoded, and resized within configured bounds.
func (p *Processor) Process(r io.Reader) ([]byte, error) {
	inputBytes, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input image: %w", err)
	}
	return p.ProcessBytes(inputBytes)
}

// ProcessBytes sanitizes image bytes in memory.
func (p *Processor) ProcessBytes(inputBytes []byte) ([]byte, error) {
	img := bimg.NewImage(inputBytes)
	metadata, err := img.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to read image metadata: %w", err)
	}

	options := bimg.Options{
		Quality:       p.config.Quality,
		StripMetadata: p.config.StripMetadata,
	}

	switch p.config.OutputFormat {
	case "jpeg", "jpg":
		options.Type = bimg.JPEG
	case "webp":
		options.Type = bimg.WEBP
	case "png":
		options.Type = bimg.PNG
	default:
		options.Type = imageType(metadata.Type)
	}

	if p.config.MaxWidth > 0 && metadata.Size.Width > p.config.MaxWidth {
		options.Width = p.config.MaxWidth
	}
	if p.config.MaxHeight > 0 && metadata.Size.Height > p.config.MaxHeight {
		options.Height = p.config.MaxHeight
	}

	outputBytes, err := img.Process(options)
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}
	return outputBytes, nil
}

// SanitizeFile rewrites the file at path with its sanitized encoding and
// returns the new on-disk size.
func (p *Processor) SanitizeFile(path string) (int64, error) {
	inputBytes, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read image file: %w", err)
	}

	outputBytes, err := p.ProcessBytes(inputBytes)
	if err != nil {
		return 0, err
	}

	if err := os.WriteFile(path, outputBytes, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write sanitized image: %w", err)
	}
	return int64(len(outputBytes)), nil
}

// imageType maps bimg's string type to a bimg.ImageType constant.
func imageType(typeStr string) bimg.ImageType {
	switch typeStr {
	case "jpeg":
		return bimg.JPEG
	case "png":
		return bimg.PNG
	case "webp":
		return bimg.WEBP
	case "gif":
		return bimg.GIF
	default:
		// Default to JPEG for unknown types
		return bimg.JPEG
	}
}

// VerifyNoEXIF checks if the image has EXIF metadata.
// Returns true if no EXIF data is present, false otherwise.
func VerifyNoEXIF(imageBytes []byte) (bool, error) {
	img := bimg.NewImage(imageBytes)
	metadata, err := img.Metadata()
	if err != nil {
		return false, fmt.Errorf("failed to read image metadata: %w", err)
	}

	// bimg metadata will not include EXIF data if it was stripped
	exif := metadata.EXIF
	hasEXIF := exif.Make != "" || exif.Model != "" ||
		exif.GPSLatitude != "" || exif.GPSLongitude != "" ||
		exif.DateTimeOriginal != "" || exif.Software != ""

	return !hasEXIF, nil
}
