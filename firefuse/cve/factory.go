package cve

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sort"
	"strings"
	"time"

	"github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/firerest"
	"github.com/404wolf/firefuse/firefuse/router"
	"github.com/404wolf/firefuse/firefuse/vision"
	mapset "github.com/deckarep/golang-set/v2"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// DataFactory owns every camera node and CVE bundle of a mount. It is the
// only place vision artifacts are produced besides the capture pipeline.
type DataFactory struct {
	client    *common.Client
	config    *firerest.Config
	processor vision.Processor
	exporter  *Exporter
	idle      *common.IdleGate
	now       func() time.Time

	cameras map[string]*CameraNode
	order   []string
	cves    cmap.ConcurrentMap[string, *CVE]
}

// Option customises a DataFactory
type Option func(*DataFactory)

// WithClock replaces the wall clock used for idle and monitor decisions
func WithClock(now func() time.Time) Option {
	return func(f *DataFactory) { f.now = now }
}

// WithExporter mirrors saved images through e
func WithExporter(e *Exporter) Option {
	return func(f *DataFactory) { f.exporter = e }
}

// NewDataFactory creates a camera node for every camera in config. The CVE
// registry starts empty; bundles are created on first reference.
func NewDataFactory(
	client *common.Client,
	config *firerest.Config,
	processor vision.Processor,
	opts ...Option,
) *DataFactory {
	f := &DataFactory{
		client:    client,
		config:    config,
		processor: processor,
		now:       time.Now,
		cameras:   make(map[string]*CameraNode),
		cves:      cmap.New[*CVE](),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.idle = common.NewIdleGate(time.Duration(client.Config.IdlePeriod)*time.Millisecond, f.now)

	monitor := time.Duration(client.Config.MonitorDuration) * time.Millisecond
	for _, name := range config.Cameras() {
		f.cameras[name] = NewCameraNode(name, monitor)
		f.order = append(f.order, name)
	}
	return f
}

// Cameras returns the configured camera names in configuration order
func (f *DataFactory) Cameras() []string {
	return append([]string(nil), f.order...)
}

// Camera returns the node of a configured camera
func (f *DataFactory) Camera(name string) (*CameraNode, bool) {
	node, ok := f.cameras[name]
	return node, ok
}

// Idle performs deferred work: decoding the latest frame of every camera and
// refreshing monitor.jpg. It runs at most once per idle period and reports
// whether it ran.
func (f *DataFactory) Idle() bool {
	if !f.idle.Allow() {
		return false
	}
	now := f.now()
	for _, name := range f.order {
		node := f.cameras[name]
		if err := node.updateDerived(f.processor); err != nil {
			f.client.Logger.Warnw("Idle decode failed", "camera", name, "error", err)
		}
		node.updateMonitor(now)
	}
	common.Tracef(f.client.Logger, "Idle processing ran at %v", now)
	return true
}

// CVE returns the bundle behind addr, creating it on first reference. The
// camera must be configured.
func (f *DataFactory) CVE(addr router.VisionAddr) (*CVE, error) {
	if _, err := f.node(addr); err != nil {
		return nil, err
	}
	if addr.CVE == "" {
		return nil, common.ErrNotFound
	}
	key := addr.Key()
	return f.cves.Upsert(key, nil, func(exists bool, existing, _ *CVE) *CVE {
		if exists {
			return existing
		}
		f.client.Logger.Debugw("Creating CVE bundle", "key", key)
		return newCVE(addr, f.config.CVE(addr.CVE))
	}), nil
}

// CVECount returns how many bundles exist
func (f *DataFactory) CVECount() int {
	return f.cves.Count()
}

func (f *DataFactory) node(addr router.VisionAddr) (*CameraNode, error) {
	if addr.Camera == "" {
		return nil, common.ErrNotFound
	}
	node, ok := f.cameras[addr.Camera]
	if !ok {
		return nil, common.ErrNotFound
	}
	return node, nil
}

// StatDir checks that a vision directory exists, creating its bundle when
// it names one.
func (f *DataFactory) StatDir(addr router.VisionAddr) error {
	if addr.Camera == "" {
		return nil
	}
	if _, err := f.node(addr); err != nil {
		return err
	}
	if addr.CVE != "" {
		_, err := f.CVE(addr)
		return err
	}
	return nil
}

// List returns the entries of a vision directory
func (f *DataFactory) List(addr router.VisionAddr) ([]string, error) {
	if err := f.StatDir(addr); err != nil {
		return nil, err
	}
	switch {
	case addr.Camera == "":
		return f.Cameras(), nil
	case addr.Colorspace == "":
		names := append(append([]string(nil), router.CameraFiles...), router.Colorspaces...)
		sort.Strings(names)
		return names, nil
	case !addr.CVEDir:
		return []string{router.CVEDir}, nil
	case addr.CVE == "":
		return f.cveNames(addr), nil
	default:
		names := append([]string(nil), router.CVEFiles...)
		sort.Strings(names)
		return names, nil
	}
}

// cveNames lists configured bundles plus any created under addr's cve dir
func (f *DataFactory) cveNames(addr router.VisionAddr) []string {
	names := mapset.NewThreadUnsafeSet(f.config.CVENames()...)
	prefix := router.VisionAddr{
		Camera: addr.Camera, Colorspace: addr.Colorspace, CVEDir: true, CVE: "x",
	}.Key()
	prefix = strings.TrimSuffix(prefix, "x")
	for _, key := range f.cves.Keys() {
		if name, ok := strings.CutPrefix(key, prefix); ok {
			names.Add(name)
		}
	}
	out := names.ToSlice()
	sort.Strings(out)
	return out
}

// Content returns the current bytes of a vision file without side effects
func (f *DataFactory) Content(addr router.VisionAddr) ([]byte, error) {
	node, err := f.node(addr)
	if err != nil {
		return nil, err
	}
	if addr.CVE == "" {
		switch {
		case addr.Colorspace != "":
			return nil, common.ErrNotFound
		case addr.File == router.CameraJPG:
			return node.CameraJPG.Snapshot().Value, nil
		case addr.File == router.MonitorJPG:
			return node.MonitorJPG.Snapshot().Value, nil
		case addr.File == router.OutputJPG:
			return node.OutputJPG.Snapshot().Value, nil
		}
		return nil, common.ErrNotFound
	}
	c, err := f.CVE(addr)
	if err != nil {
		return nil, err
	}
	if !router.IsCVEFile(addr.File) {
		return nil, common.ErrNotFound
	}
	return c.content(addr.File), nil
}

// Stat returns the size of a vision file
func (f *DataFactory) Stat(addr router.VisionAddr) (int64, error) {
	data, err := f.Content(addr)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Open returns the bytes an open handle on addr captures. Opening save.fire
// or process.fire runs the action and returns its result; opening a camera
// image runs idle processing first.
func (f *DataFactory) Open(ctx context.Context, addr router.VisionAddr) ([]byte, error) {
	node, err := f.node(addr)
	if err != nil {
		return nil, err
	}
	switch addr.File {
	case router.CameraJPG, router.MonitorJPG:
		if addr.CVE == "" {
			f.Idle()
		}
	case router.SaveFire:
		c, err := f.CVE(addr)
		if err != nil {
			return nil, err
		}
		return f.save(node, c)
	case router.ProcessFire:
		c, err := f.CVE(addr)
		if err != nil {
			return nil, err
		}
		return f.process(ctx, node, c)
	}
	return f.Content(addr)
}

// Commit stores bytes written to a writable vision file
func (f *DataFactory) Commit(addr router.VisionAddr, data []byte) error {
	if !addr.Writable() {
		return common.ErrPermissionDenied
	}
	c, err := f.CVE(addr)
	if err != nil {
		return err
	}
	switch addr.File {
	case router.PropertiesJSON:
		if len(data) > 0 && !json.Valid(data) {
			return common.ErrInvalidArgument
		}
		c.SrcProperties.Publish(append([]byte(nil), data...))
	case router.SavedPNG:
		if _, err := f.processor.DecodeImage(data); err != nil {
			return common.ErrInvalidArgument
		}
		c.SavedPNG.Publish(append([]byte(nil), data...))
		f.export(c, data)
	}
	return nil
}

// Rename commits the current value of from into to. Both must belong to the
// same bundle and to must be writable; any other pair is ErrNotFound.
func (f *DataFactory) Rename(from, to router.VisionAddr) error {
	if from.Key() == "" || from.Key() != to.Key() {
		return common.ErrNotFound
	}
	if !router.IsCVEFile(from.File) {
		return common.ErrNotFound
	}
	if !to.Writable() {
		return common.ErrNotFound
	}
	data, err := f.Content(from)
	if err != nil {
		return err
	}
	return f.Commit(to, data)
}

type saveReceipt struct {
	Camera     string `json:"camera"`
	Generation uint64 `json:"generation"`
	Captured   string `json:"captured"`
	Saved      string `json:"saved"`
	Bytes      int    `json:"bytes"`
}

// save stores the latest camera frame in the bundle's colorspace as
// saved.png and publishes a receipt in save.fire.
func (f *DataFactory) save(node *CameraNode, c *CVE) ([]byte, error) {
	frame := node.CameraJPG.Snapshot()
	if frame.Generation == 0 {
		return nil, fmt.Errorf("%w: no camera frame", common.ErrIO)
	}
	gray, bgr, err := f.processor.Decode(frame.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	var img image.Image = bgr
	if c.Addr.Colorspace == router.Gray {
		img = gray
	}
	data, err := f.processor.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	c.SavedPNG.Publish(data)
	f.export(c, data)

	receipt, err := json.Marshal(saveReceipt{
		Camera:     node.Name,
		Generation: frame.Generation,
		Captured:   frame.Updated.Format(time.RFC3339Nano),
		Saved:      c.Key + "/" + router.SavedPNG,
		Bytes:      len(data),
	})
	if err != nil {
		return nil, err
	}
	receipt = append(receipt, '\n')
	c.SaveFire.Publish(receipt)
	return receipt, nil
}

// process runs the bundle's pipeline on saved.png, or on the latest camera
// frame when nothing was saved.
func (f *DataFactory) process(ctx context.Context, node *CameraNode, c *CVE) ([]byte, error) {
	var img image.Image
	if saved := c.SavedPNG.Snapshot(); saved.Generation > 0 && len(saved.Value) > 0 {
		decoded, err := f.processor.DecodeImage(saved.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
		}
		img = decoded
	} else {
		frame := node.CameraJPG.Snapshot()
		if frame.Generation == 0 {
			return nil, fmt.Errorf("%w: no camera frame", common.ErrIO)
		}
		_, bgr, err := f.processor.Decode(frame.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
		}
		img = bgr
	}
	if c.Addr.Colorspace == router.Gray {
		img = vision.ToGray(img)
	}

	result, err := f.processor.Process(
		ctx,
		c.Firesight.Snapshot().Value,
		img,
		c.SrcProperties.Snapshot().Value,
	)
	if err != nil {
		f.client.Logger.Warnw("Pipeline failed", "cve", c.Key, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	node.publishOutput(result.Image, f.now())
	c.SnkProperties.Publish(result.Properties)
	c.ProcessFire.Publish(result.Model)
	f.client.Logger.Debugw("Pipeline ran", "cve", c.Key, "model", len(result.Model))
	return result.Model, nil
}

func (f *DataFactory) export(c *CVE, data []byte) {
	if f.exporter == nil {
		return
	}
	if err := f.exporter.SavePNG(c.Addr, data); err != nil {
		f.client.Logger.Warnw("Export failed", "cve", c.Key, "error", err)
	}
}
