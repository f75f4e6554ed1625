package interview

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ErrNoFrame means the source has nothing to offer right now.
var ErrNoFrame = errors.New("no frame available")

type Frame struct {
	Data     []byte
	MIMEType string
}

// FrameSource produces camera frames for behavioral analysis.
type FrameSource interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// DirFrameSource cycles through the images of a directory in name order.
type DirFrameSource struct {
	dir string

	mu    sync.Mutex
	files []string
	next  int
}

func NewDirFrameSource(dir string) *DirFrameSource {
	return &DirFrameSource{dir: dir}
}

func (d *DirFrameSource) Open(_ context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("read frame directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := imageTypes[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			files = append(files, filepath.Join(d.dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", d.dir)
	}
	slices.Sort(files)

	d.mu.Lock()
	d.files = files
	d.next = 0
	d.mu.Unlock()
	return nil
}

func (d *DirFrameSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if len(d.files) == 0 {
		d.mu.Unlock()
		return nil, ErrNoFrame
	}
	path := d.files[d.next%len(d.files)]
	d.next++
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return &Frame{Data: data, MIMEType: imageTypes[strings.ToLower(filepath.Ext(path))]}, nil
}

func (d *DirFrameSource) Close() error {
	d.mu.Lock()
	d.files = nil
	d.mu.Unlock()
	return nil
}

// NopFrameSource is used when behavioral analysis is disabled.
type NopFrameSource struct{}

func (NopFrameSource) Open(context.Context) error { return nil }

func (NopFrameSource) Next(context.Context) (*Frame, error) { return nil, ErrNoFrame }

func (NopFrameSource) Close() error { return nil }
