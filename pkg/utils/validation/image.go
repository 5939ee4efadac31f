package validation

import (
	"errors"
	"mime/multipart"
	"path/filepath"
	"strings"
)

var (
	ErrFileSize     = errors.New("file size exceeds limit of 5MB")
	ErrFileType     = errors.New("invalid file type. Allowed types: JPG, PNG, WEBP")
	ErrFileRequired = errors.New("no file provided")
)

const MaxAvatarSize = 5 * 1024 * 1024

var allowedAvatarTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// ValidateAvatar checks size, extension and the declared content type of an upload.
// The bytes themselves are checked when the image is decoded.
func ValidateAvatar(file *multipart.FileHeader) error {
	if file == nil {
		return ErrFileRequired
	}
	if file.Size <= 0 {
		return ErrFileRequired
	}
	if file.Size > MaxAvatarSize {
		return ErrFileSize
	}

	want, ok := allowedAvatarTypes[strings.ToLower(filepath.Ext(file.Filename))]
	if !ok {
		return ErrFileType
	}
	if ct := file.Header.Get("Content-Type"); ct != "" && ct != want && ct != "application/octet-stream" {
		return ErrFileType
	}
	return nil
}
