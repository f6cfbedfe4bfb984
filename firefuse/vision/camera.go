// Package vision holds the collaborators that produce and transform images:
// camera sources and the image processor that runs vision pipelines. The
// filesystem only moves their output around as opaque bytes and images.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os/exec"
	"sync/atomic"

	"github.com/spf13/afero"
)

// Camera captures one JPEG encoded frame per call
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// FileCamera reads a JPEG file on every capture. Something else (a camera
// daemon, a test) is expected to keep replacing the file.
type FileCamera struct {
	fs   afero.Fs
	path string
}

var _ = (Camera)((*FileCamera)(nil))

// NewFileCamera creates a camera that reads path from fs
func NewFileCamera(fs afero.Fs, path string) *FileCamera {
	return &FileCamera{fs: fs, path: path}
}

func (c *FileCamera) Capture(ctx context.Context) ([]byte, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return nil, fmt.Errorf("reading frame %s: %w", c.path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("frame %s is empty", c.path)
	}
	return data, nil
}

// CommandCamera runs a command (e.g. raspistill -o -) and takes its stdout as
// the frame.
type CommandCamera struct {
	name string
	args []string
}

var _ = (Camera)((*CommandCamera)(nil))

// NewCommandCamera creates a camera running name with args
func NewCommandCamera(name string, args ...string) *CommandCamera {
	return &CommandCamera{name: name, args: args}
}

func (c *CommandCamera) Capture(ctx context.Context) ([]byte, error) {
	out, err := exec.CommandContext(ctx, c.name, c.args...).Output()
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", c.name, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s produced no frame", c.name)
	}
	return out, nil
}

// PatternCamera synthesizes frames with a gradient that shifts on every
// capture. It stands in for a camera on machines without one.
type PatternCamera struct {
	Width  int
	Height int

	frame atomic.Uint64
}

var _ = (Camera)((*PatternCamera)(nil))

// NewPatternCamera creates a synthetic camera with the given frame size
func NewPatternCamera(width, height int) *PatternCamera {
	return &PatternCamera{Width: width, Height: height}
}

func (c *PatternCamera) Capture(ctx context.Context) ([]byte, error) {
	shift := int(c.frame.Add(1))
	img := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + shift) % 256),
				G: uint8((y + shift) % 256),
				B: uint8((x + y) % 256),
				A: 0xff,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
