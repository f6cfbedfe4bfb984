package cve

import (
	"context"
	"sync/atomic"
	"time"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/vision"
	"go.uber.org/zap"
)

// MaxConsecutiveFailures is how many captures in a row may fail before the
// camera is reported as unavailable
const MaxConsecutiveFailures = 10

// Pipeline periodically captures frames from a camera into a CameraNode.
// Publishing never blocks readers: each frame replaces the previous one.
type Pipeline struct {
	camera   vision.Camera
	node     *CameraNode
	factory  *DataFactory
	interval time.Duration
	logger   *zap.SugaredLogger

	captures    atomic.Uint64
	failures    atomic.Uint64
	consecutive atomic.Int64

	loop *common.RefreshLoop
}

var _ = (common.Refresher)((*Pipeline)(nil))

// PipelineStats counts the outcomes of captures so far
type PipelineStats struct {
	Captures            uint64
	Failures            uint64
	ConsecutiveFailures int64
}

// NewPipeline creates a pipeline capturing from camera into node every
// interval. factory, when set, gets a chance at idle processing after each
// capture.
func NewPipeline(
	camera vision.Camera,
	node *CameraNode,
	factory *DataFactory,
	interval time.Duration,
	logger *zap.SugaredLogger,
) *Pipeline {
	p := &Pipeline{
		camera:   camera,
		node:     node,
		factory:  factory,
		interval: interval,
		logger:   logger,
	}
	p.loop = common.NewRefreshLoop(p, interval, true)
	return p
}

// Refresh captures one frame on a tick of the capture loop
func (p *Pipeline) Refresh(ctx context.Context) error {
	return p.CaptureOnce(ctx)
}

// CaptureOnce grabs one frame and publishes it
func (p *Pipeline) CaptureOnce(ctx context.Context) error {
	timeout := 4 * p.interval
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frame, err := p.camera.Capture(ctx)
	if err != nil {
		p.failures.Add(1)
		n := p.consecutive.Add(1)
		if n%MaxConsecutiveFailures == 0 {
			p.logger.Errorw("Camera unavailable",
				"camera", p.node.Name,
				"consecutiveFailures", n,
				"error", err)
		} else {
			p.logger.Warnw("Capture failed", "camera", p.node.Name, "error", err)
		}
		return err
	}

	if p.consecutive.Swap(0) >= MaxConsecutiveFailures {
		p.logger.Infow("Camera recovered", "camera", p.node.Name)
	}
	generation := p.node.CameraJPG.Publish(frame)
	p.captures.Add(1)
	p.logger.Debugw("Captured frame",
		"camera", p.node.Name,
		"generation", generation,
		"bytes", len(frame))

	if p.factory != nil {
		p.factory.Idle()
	}
	return nil
}

// Start launches the capture loop. It runs until Stop is called or ctx is
// cancelled. Starting a running pipeline does nothing.
func (p *Pipeline) Start(ctx context.Context) {
	if p.loop.Start(ctx) {
		p.logger.Infow("Started capture pipeline",
			"camera", p.node.Name,
			"interval", p.interval)
	}
}

// Stop halts the capture loop and waits for it to exit
func (p *Pipeline) Stop() {
	if p.loop.Stop() {
		p.logger.Infow("Stopped capture pipeline", "camera", p.node.Name)
	}
}

// Stats returns the capture counters
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Captures:            p.captures.Load(),
		Failures:            p.failures.Load(),
		ConsecutiveFailures: p.consecutive.Load(),
	}
}
