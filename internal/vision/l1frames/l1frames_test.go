package l1frames

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/carcontrol/internal/fsutil"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestParseSourceKind(t *testing.T) {
	tests := []struct {
		in   string
		want SourceKind
	}{
		{"camera", SourceCamera},
		{"file", SourceFileReplay},
		{"remote", SourceRemoteSensor},
		{"sim", SourceSim},
		{" Camera ", SourceCamera},
	}
	for _, tt := range tests {
		got, err := ParseSourceKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.NotEmpty(t, got.String())
	}

	_, err := ParseSourceKind("kinect")
	assert.Error(t, err)
}

func TestOpenFileReplay_Directory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame_002.png"), solid(8, 6, color.RGBA{0, 255, 0, 255}))
	writePNG(t, filepath.Join(dir, "frame_001.png"), solid(8, 6, color.RGBA{255, 0, 0, 255}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	src, err := OpenFileReplay(dir, false)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, image.Rect(0, 0, 8, 6), first.Bounds())
	assert.Equal(t, uint8(255), first.Image.Pix[0], "frames replay in lexical order")

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), second.Image.Pix[1])

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenFileReplay_Loop(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), solid(4, 4, color.RGBA{1, 2, 3, 255}))

	src, err := OpenFileReplay(dir, true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), f.Seq)
	}
}

func TestOpenFileReplay_Errors(t *testing.T) {
	_, err := OpenFileReplay(filepath.Join(t.TempDir(), "missing"), false)
	assert.Error(t, err)

	_, err = OpenFileReplay(t.TempDir(), false)
	assert.ErrorContains(t, err, "no images")
}

func TestOpenFileReplayFS_Memory(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	for i, c := range []color.RGBA{{R: 10, A: 255}, {R: 20, A: 255}} {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, solid(3, 3, c)))
		require.NoError(t, fsys.WriteFile(filepath.Join("/runs/r1", []string{"f1.png", "f2.png"}[i]), buf.Bytes(), 0o644))
	}
	require.NoError(t, fsys.MkdirAll("/runs/r1/masks", 0o755))

	src, err := OpenFileReplayFS(fsys, "/runs/r1", false)
	require.NoError(t, err)

	var reds []uint8
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		reds = append(reds, f.Image.Pix[0])
	}
	assert.Equal(t, []uint8{10, 20}, reds)

	_, err = OpenFileReplayFS(fsys, "/runs/missing", false)
	assert.Error(t, err)
}

func TestReplay_CorruptFrameIsTransient(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("not a png"), 0o644))
	writePNG(t, filepath.Join(dir, "b.png"), solid(4, 4, color.RGBA{9, 9, 9, 255}))

	src, err := OpenFileReplay(dir, false)
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrFrameUnavailable))

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(9), f.Image.Pix[0])
}

func TestSequence_CancelledContext(t *testing.T) {
	seq := NewSequence(solid(2, 2, color.RGBA{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := seq.Next(ctx)
	assert.ErrorIs(t, err, ErrFrameUnavailable)
}

func TestSequence_FailHook(t *testing.T) {
	seq := NewSequence(solid(2, 2, color.RGBA{R: 1}), solid(2, 2, color.RGBA{R: 2}))
	seq.Fail = func(call uint64) error {
		if call == 1 {
			return ErrFrameUnavailable
		}
		return nil
	}

	_, err := seq.Next(context.Background())
	require.ErrorIs(t, err, ErrFrameUnavailable)

	f, err := seq.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(1), f.Image.Pix[0], "a failed call does not consume a frame")
}

func TestFlipVertical(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 3))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})

	flipped := FlipVertical(img)
	r, _, _, _ := flipped.At(0, 2).RGBA()
	assert.Equal(t, uint32(200)<<8|200, r)
	r, _, _, _ = flipped.At(0, 0).RGBA()
	assert.Zero(t, r)
}

func TestToRGBA_ConvertsAndRebases(t *testing.T) {
	gray := image.NewGray(image.Rect(5, 5, 9, 8))
	gray.SetGray(5, 5, color.Gray{Y: 77})

	rgba := ToRGBA(gray)
	assert.Equal(t, image.Rect(0, 0, 4, 3), rgba.Bounds())
	assert.Equal(t, uint8(77), rgba.Pix[0])
}

func TestEndOfRead(t *testing.T) {
	rewinds := 0
	rewind := func() { rewinds++ }

	again, err := endOfRead(false, true, rewind)
	assert.False(t, again)
	assert.ErrorIs(t, err, ErrFrameUnavailable, "a device miss is transient")

	again, err = endOfRead(true, false, rewind)
	assert.False(t, again)
	assert.ErrorIs(t, err, io.EOF, "a finished video ends the replay")
	assert.False(t, errors.Is(err, ErrFrameUnavailable))

	again, err = endOfRead(true, true, rewind)
	assert.True(t, again)
	assert.NoError(t, err)
	assert.Equal(t, 1, rewinds)
}
