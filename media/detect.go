package media

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"golang.org/x/text/unicode/norm"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// detect fills metadata fields which could be learned from data itself.
func detect(meta *Metadata, data []byte) {
	meta.Size = int64(len(data))

	if len(meta.MimeType) == 0 {
		if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
			meta.MimeType = kind.MIME.Value
		}
	}
	if len(meta.Type) == 0 {
		switch {
		case filetype.IsImage(data):
			meta.Type = "image"
		case filetype.IsAudio(data):
			meta.Type = "audio"
		case filetype.IsVideo(data):
			meta.Type = "video"
		}
	}
	if filetype.IsImage(data) {
		if img, err := imaging.Decode(bytes.NewReader(data)); err == nil {
			b := img.Bounds()
			meta.Width, meta.Height = b.Dx(), b.Dy()
		}
	}
}

// uniqueName returns name which does not clash with any of taken names,
// adding " (n)" before extension when necessary. Names are compared after
// Unicode normalization and case folding.
func uniqueName(name string, taken []string) string {
	used := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		used[nameKey(t)] = struct{}{}
	}
	if _, ok := used[nameKey(name)]; !ok {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, ok := used[nameKey(candidate)]; !ok {
			return candidate
		}
	}
}

func nameKey(name string) string {
	return strings.ToLower(norm.NFC.String(name))
}
