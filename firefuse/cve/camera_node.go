package cve

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/404wolf/firefuse/firefuse/lifo"
	"github.com/404wolf/firefuse/firefuse/vision"
)

// CameraNode holds the artifacts derived from one camera. The capture
// pipeline is the only producer of CameraJPG; everything else is derived
// from it during idle processing or by CVE pipelines.
type CameraNode struct {
	Name string

	CameraJPG  *lifo.Cache[[]byte]
	Gray       *lifo.Cache[*image.Gray]
	BGR        *lifo.Cache[image.Image]
	MonitorJPG *lifo.Cache[[]byte]
	OutputJPG  *lifo.Cache[[]byte]

	monitorDuration time.Duration
	outputAt        atomic.Int64 // unix nanos of the last pipeline output

	mu                sync.Mutex // guards the derivation bookkeeping below
	decodedGeneration uint64
	monitorSource     string
	monitorGeneration uint64
}

// NewCameraNode creates an empty node. monitorDuration is how long
// monitor.jpg keeps showing a fresh pipeline output.
func NewCameraNode(name string, monitorDuration time.Duration) *CameraNode {
	return &CameraNode{
		Name:            name,
		CameraJPG:       lifo.New[[]byte](),
		Gray:            lifo.New[*image.Gray](),
		BGR:             lifo.New[image.Image](),
		MonitorJPG:      lifo.New[[]byte](),
		OutputJPG:       lifo.New[[]byte](),
		monitorDuration: monitorDuration,
	}
}

// updateDerived decodes the latest camera frame into the gray and color
// caches, unless that frame was already decoded.
func (n *CameraNode) updateDerived(processor vision.Processor) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	frame := n.CameraJPG.Snapshot()
	if frame.Generation == 0 || frame.Generation == n.decodedGeneration {
		return nil
	}
	gray, bgr, err := processor.Decode(frame.Value)
	if err != nil {
		return err
	}
	n.Gray.Publish(gray)
	n.BGR.Publish(bgr)
	n.decodedGeneration = frame.Generation
	return nil
}

// publishOutput records a pipeline output image
func (n *CameraNode) publishOutput(jpg []byte, now time.Time) {
	n.OutputJPG.Publish(jpg)
	n.outputAt.Store(now.UnixNano())
}

// showingOutput reports whether monitor.jpg should show output.jpg at now
func (n *CameraNode) showingOutput(now time.Time) bool {
	at := n.outputAt.Load()
	if at == 0 || n.OutputJPG.Empty() {
		return false
	}
	return now.Sub(time.Unix(0, at)) < n.monitorDuration
}

// updateMonitor points monitor.jpg at the latest output while it is fresh,
// and at the live camera frame otherwise.
func (n *CameraNode) updateMonitor(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	source, snap := "camera", n.CameraJPG.Snapshot()
	if n.showingOutput(now) {
		source, snap = "output", n.OutputJPG.Snapshot()
	}
	if snap.Generation == 0 {
		return
	}
	if source == n.monitorSource && snap.Generation == n.monitorGeneration {
		return
	}
	n.MonitorJPG.Publish(snap.Value)
	n.monitorSource = source
	n.monitorGeneration = snap.Generation
}
