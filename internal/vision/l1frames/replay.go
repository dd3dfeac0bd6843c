package l1frames

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/carcontrol/internal/fsutil"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// OpenFileReplay opens a recorded run on the local disk. A directory is
// replayed as an image sequence in lexical file order; any other path is
// treated as a video file and needs the gocv build.
func OpenFileReplay(path string, loop bool) (Source, error) {
	return OpenFileReplayFS(fsutil.OSFileSystem{}, path, loop)
}

// OpenFileReplayFS is OpenFileReplay reading through fsys. Video files are
// always opened from the local disk. A finished replay returns io.EOF unless
// loop is set, in which case it starts over.
func OpenFileReplayFS(fsys fsutil.FileSystem, path string, loop bool) (Source, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	if !info.IsDir() {
		return openVideo(path, loop)
	}

	entries, err := fsys.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read replay directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("replay directory %s contains no images", path)
	}
	sort.Strings(files)
	return &imageReplay{fs: fsys, files: files, loop: loop}, nil
}

// imageReplay decodes one file per Next call.
type imageReplay struct {
	fs    fsutil.FileSystem
	mu    sync.Mutex
	files []string
	next  int
	seq   uint64
	loop  bool
}

func (r *imageReplay) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, unavailable(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.files) {
		if !r.loop {
			return Frame{}, io.EOF
		}
		r.next = 0
	}
	path := r.files[r.next]
	r.next++

	img, err := decodeFile(r.fs, path)
	if err != nil {
		return Frame{}, unavailable(err)
	}
	r.seq++
	return Frame{Seq: r.seq, Timestamp: time.Now(), Image: ToRGBA(img)}, nil
}

func (r *imageReplay) Close() error { return nil }

func decodeFile(fsys fsutil.FileSystem, path string) (image.Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Sequence replays an in-memory list of images. It is mainly used by tests
// and by tools that synthesise scenes.
type Sequence struct {
	mu     sync.Mutex
	images []image.Image
	next   int
	seq    uint64
	calls  uint64
	// Fail, when set, is consulted on every call to Next with the 1-based
	// call number; a non-nil error is returned in place of the frame and
	// the image is not consumed.
	Fail func(call uint64) error
}

// NewSequence builds a Sequence over imgs.
func NewSequence(imgs ...image.Image) *Sequence {
	return &Sequence{images: imgs}
}

// Append adds frames to the end of the sequence.
func (s *Sequence) Append(imgs ...image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, imgs...)
}

// Next returns the next image or io.EOF.
func (s *Sequence) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.Fail != nil {
		if err := s.Fail(s.calls); err != nil {
			return Frame{}, err
		}
	}
	if s.next >= len(s.images) {
		return Frame{}, io.EOF
	}
	img := s.images[s.next]
	s.next++
	s.seq++
	return Frame{Seq: s.seq, Timestamp: time.Now(), Image: ToRGBA(img)}, nil
}

// Close is a no-op.
func (s *Sequence) Close() error { return nil }
