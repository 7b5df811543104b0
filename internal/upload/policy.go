package upload

import (
	"strings"

	"github.com/opencampus/campus/internal/validate"
)

// Category selects the destination directory under the uploads root.
type Category string

// Upload categories, each mapped to its own subdirectory.
const (
	CategoryAvatar   Category = "avatar"
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryVideo    Category = "video"
)

// Size ceilings per policy. Transport-level limits are advisory; these are
// re-verified against the on-disk size.
const (
	AvatarMaxBytes   = 2 * 1024 * 1024
	ImageMaxBytes    = 10 * 1024 * 1024
	DocumentMaxBytes = 10 * 1024 * 1024
	VideoMaxBytes    = 100 * 1024 * 1024
)

// allowedExtensions maps each accepted MIME type to its permitted filename
// extensions (lowercased, with leading dot).
var allowedExtensions = map[string][]string{
	validate.MIMEImageJPEG: {".jpg", ".jpeg"},
	validate.MIMEImagePNG:  {".png"},
	validate.MIMEImageGIF:  {".gif"},
	validate.MIMEImageWebP: {".webp"},
	validate.MIMEAppPDF:    {".pdf"},
	validate.MIMEAppDoc:    {".doc"},
	validate.MIMEAppDocx:   {".docx"},
	validate.MIMEAppXlsx:   {".xlsx"},
	validate.MIMETextPlain: {".txt"},
	validate.MIMEVideoMP4:  {".mp4"},
	validate.MIMEVideoWebM: {".webm"},
}

// Policy parameterizes the shared two-phase validation with an allowed-type
// set, a size ceiling, and a destination category.
type Policy struct {
	Category    Category
	Constraints validate.FileConstraints
}

// AvatarPolicy restricts to image types with a 2 MB ceiling.
func AvatarPolicy() Policy {
	return Policy{
		Category: CategoryAvatar,
		Constraints: validate.FileConstraints{
			AllowedTypes: validate.AllowedImageTypes,
			MaxSizeBytes: AvatarMaxBytes,
		},
	}
}

// ImagePolicy allows image types with a 10 MB ceiling.
func ImagePolicy() Policy {
	return Policy{
		Category: CategoryImage,
		Constraints: validate.FileConstraints{
			AllowedTypes: validate.AllowedImageTypes,
			MaxSizeBytes: ImageMaxBytes,
		},
	}
}

// DocumentPolicy allows document types with a 10 MB ceiling.
func DocumentPolicy() Policy {
	return Policy{
		Category: CategoryDocument,
		Constraints: validate.FileConstraints{
			AllowedTypes: validate.AllowedDocumentTypes,
			MaxSizeBytes: DocumentMaxBytes,
		},
	}
}

// VideoPolicy allows video types with a 100 MB ceiling.
func VideoPolicy() Policy {
	return Policy{
		Category: CategoryVideo,
		Constraints: validate.FileConstraints{
			AllowedTypes: validate.AllowedVideoTypes,
			MaxSizeBytes: VideoMaxBytes,
		},
	}
}

// subdirectory returns the uploads-root subdirectory for a category.
func (c Category) subdirectory() string {
	switch c {
	case CategoryAvatar:
		return "avatars"
	case CategoryImage:
		return "images"
	case CategoryDocument:
		return "documents"
	case CategoryVideo:
		return "videos"
	default:
		return "misc"
	}
}

// extensionAllowed reports whether ext (lowercased, with dot) is permitted for
// the MIME type.
func extensionAllowed(mimeType, ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range allowedExtensions[mimeType] {
		if ext == allowed {
			return true
		}
	}
	return false
}
