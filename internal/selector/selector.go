// Package selector turns dropped or picked files into a selected image.
package selector

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"

	"github.com/example/neuroscan/internal/predictor"
)

// File is a candidate file as declared by the browser or the file system.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Image is an accepted selection with a locally previewable handle.
type Image struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
	PreviewURL  string
}

// Upload converts the image into the payload sent for inference.
func (img *Image) Upload() predictor.Upload {
	return predictor.Upload{
		Filename:    img.Filename,
		ContentType: img.ContentType,
		Data:        img.Data,
	}
}

// IsImage reports whether a declared content type is an image type.
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// Accept returns the first file as an Image, or false when there is no
// file or the first one is not an image. Later files are ignored.
func Accept(files []File) (*Image, bool) {
	if len(files) == 0 {
		return nil, false
	}
	first := files[0]
	if !IsImage(first.ContentType) {
		return nil, false
	}
	return &Image{
		ID:          uuid.NewString(),
		Filename:    first.Filename,
		ContentType: first.ContentType,
		Data:        first.Data,
		PreviewURL:  previewURL(first.ContentType, first.Data),
	}, true
}

func previewURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
