package volume

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// Frame stacks arrive as standard encoded images.
	_ "image/jpeg"
	_ "image/png"
)

// FrameSource is one 2D cross-section of a study. The assembler decodes
// sources in list order; the slice index becomes the z coordinate.
type FrameSource interface {
	// Key identifies the frame within its study. Keys feed the volume's
	// SourceKey digest, so they must be stable across reloads.
	Key() string

	// Decode produces the frame image. It is called at most once per
	// assembly and must honor context cancellation.
	Decode(ctx context.Context) (image.Image, error)
}

// ByteFrame is a FrameSource over an in-memory encoded image, as handed over
// by an image-retrieval collaborator.
type ByteFrame struct {
	Name string
	Data []byte
}

// Key returns the frame name.
func (f ByteFrame) Key() string { return f.Name }

// Decode decodes the in-memory image.
func (f ByteFrame) Decode(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", f.Name, err)
	}
	return img, nil
}

// FileFrame is a FrameSource reading an encoded image from disk.
type FileFrame string

// Key returns the file path.
func (f FileFrame) Key() string { return string(f) }

// Decode reads and decodes the file.
func (f FileFrame) Decode(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", string(f), err)
	}
	return img, nil
}

// DirFrames lists the image files of a slice directory as frame sources in
// lexical order. Files without a recognized image extension are skipped.
func DirFrames(dir string) ([]FrameSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("volume: read slice dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isImageFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	sources := make([]FrameSource, len(names))
	for i, name := range names {
		sources[i] = FileFrame(filepath.Join(dir, name))
	}
	return sources, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}
