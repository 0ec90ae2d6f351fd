// Package frame supplies camera frames to the edge pipeline and crops
// detected vehicles out of them.
package frame

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"toll-monitor/internal/domain/detection"
)

type Frame struct {
	CameraID   string
	Data       []byte
	CapturedAt time.Time
}

// Source delivers one frame per call. Implementations must honour ctx.
type Source interface {
	Capture(ctx context.Context) (Frame, error)
}

// cameraRing hands out camera ids round-robin, one per capture.
type cameraRing struct {
	mu   sync.Mutex
	ids  []string
	next int
}

func (r *cameraRing) take() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) == 0 {
		return ""
	}
	id := r.ids[r.next%len(r.ids)]
	r.next++
	return id
}

// StaticSource returns the same bytes on every capture.
type StaticSource struct {
	data    []byte
	cameras cameraRing
	now     func() time.Time
}

func NewStaticSource(data []byte, cameraIDs []string) *StaticSource {
	return &StaticSource{data: data, cameras: cameraRing{ids: cameraIDs}, now: time.Now}
}

func (s *StaticSource) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{CameraID: s.cameras.take(), Data: s.data, CapturedAt: s.now()}, nil
}

// DirectorySource replays image files from a directory as a simulated camera.
// Between two captures the camera is assumed to have produced step frames, so
// the replay advances by step files each call.
type DirectorySource struct {
	files   []string
	step    int
	cameras cameraRing

	mu  sync.Mutex
	pos int
	now func() time.Time
}

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

func NewDirectorySource(dir string, cameraIDs []string, step int) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no image files in %s", detection.ErrInvalidInput, dir)
	}
	sort.Strings(files)
	if step < 1 {
		step = 1
	}
	return &DirectorySource{
		files:   files,
		step:    step,
		cameras: cameraRing{ids: cameraIDs},
		now:     time.Now,
	}, nil
}

func (s *DirectorySource) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	path := s.files[s.pos%len(s.files)]
	s.pos = (s.pos + s.step) % len(s.files)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame %s: %w", path, err)
	}
	return Frame{CameraID: s.cameras.take(), Data: data, CapturedAt: s.now()}, nil
}
