package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
)

// Result is the outcome of running a pipeline on an image
type Result struct {
	// Image is the JPEG encoded output image
	Image []byte
	// Model is the JSON pipeline model returned to readers of process.fire
	Model []byte
	// Properties is the JSON property set the pipeline ended with
	Properties []byte
}

// Processor converts camera frames and runs vision pipelines
type Processor interface {
	// Decode turns a JPEG frame into its gray and color images
	Decode(jpg []byte) (*image.Gray, image.Image, error)
	// DecodeImage decodes a PNG or JPEG image
	DecodeImage(data []byte) (image.Image, error)
	EncodeJPEG(img image.Image) ([]byte, error)
	EncodePNG(img image.Image) ([]byte, error)
	// Process runs the JSON pipeline definition on img with the given JSON
	// properties
	Process(ctx context.Context, pipeline []byte, img image.Image, properties []byte) (*Result, error)
	// Holes reports the holes found in a camera frame as JSON
	Holes(jpg []byte) ([]byte, error)
}

// StdProcessor is the built-in processor. It converts images but does not
// implement vision stages: pipelines pass the image through and report what
// they were given.
type StdProcessor struct {
	Quality int
}

var _ = (Processor)((*StdProcessor)(nil))

// NewStdProcessor creates a processor encoding JPEGs at quality 90
func NewStdProcessor() *StdProcessor {
	return &StdProcessor{Quality: 90}
}

func (p *StdProcessor) Decode(jpg []byte) (*image.Gray, image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpg))
	if err != nil {
		return nil, nil, fmt.Errorf("decoding frame: %w", err)
	}
	return ToGray(img), img, nil
}

func (p *StdProcessor) DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func (p *StdProcessor) EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *StdProcessor) EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type pipelineModel struct {
	Stages     int             `json:"stages"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

func (p *StdProcessor) Process(
	ctx context.Context,
	pipeline []byte,
	img image.Image,
	properties []byte,
) (*Result, error) {
	var stages []json.RawMessage
	if len(bytes.TrimSpace(pipeline)) > 0 {
		if err := json.Unmarshal(pipeline, &stages); err != nil {
			return nil, fmt.Errorf("pipeline is not a JSON array of stages: %w", err)
		}
	}
	if len(bytes.TrimSpace(properties)) == 0 {
		properties = []byte("{}")
	} else if !json.Valid(properties) {
		return nil, fmt.Errorf("properties are not valid JSON")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	model, err := json.Marshal(pipelineModel{
		Stages:     len(stages),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Properties: properties,
	})
	if err != nil {
		return nil, err
	}
	out, err := p.EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	return &Result{Image: out, Model: model, Properties: properties}, nil
}

type holesReport struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Holes  []any `json:"holes"`
}

func (p *StdProcessor) Holes(jpg []byte) ([]byte, error) {
	if len(jpg) == 0 {
		return json.Marshal(holesReport{Holes: []any{}})
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(jpg))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return json.Marshal(holesReport{Width: cfg.Width, Height: cfg.Height, Holes: []any{}})
}

// ToGray converts any image to 8-bit grayscale
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	return gray
}
