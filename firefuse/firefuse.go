// Package firefuse mounts the FireFUSE virtual filesystem. It wires the
// camera pipelines, the vision registry, the firmware links and the
// dispatcher together and exposes them through go-fuse.
package firefuse

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/cnc"
	"github.com/404wolf/firefuse/firefuse/cve"
	"github.com/404wolf/firefuse/firefuse/dispatch"
	"github.com/404wolf/firefuse/firefuse/firerest"
	"github.com/404wolf/firefuse/firefuse/firestep"
	"github.com/404wolf/firefuse/firefuse/vision"
)

// Default size of the generated test pattern when no camera is configured
const (
	PatternWidth  = 640
	PatternHeight = 480
)

// FireFS is a mountable firefuse instance
type FireFS struct {
	root       *Node
	client     *common.Client
	dispatcher *dispatch.Dispatcher
	factory    *cve.DataFactory
	controller *cnc.Controller
	firmware   firestep.Link
	pipelines  []*cve.Pipeline
	cancel     context.CancelFunc
}

// New builds a FireFS serving configText as /config.json
func New(client *common.Client, configText string) (*FireFS, error) {
	config, err := firerest.Parse(configText)
	if err != nil {
		return nil, err
	}
	settings := client.Config
	processor := vision.NewStdProcessor()

	var opts []cve.Option
	if settings.ExportDir != "" {
		opts = append(opts, cve.WithExporter(cve.NewExporter(client.Fs, settings.ExportDir)))
	}
	factory := cve.NewDataFactory(client, config, processor, opts...)

	controller := cnc.NewController(config, func(serial string) (firestep.Link, error) {
		link, err := firestep.OpenSerial(serial, client.Logger.With("serial", serial))
		if err != nil {
			return nil, err
		}
		return link, nil
	}, client.Logger)

	f := &FireFS{
		client:     client,
		factory:    factory,
		controller: controller,
		firmware:   openFirmware(settings.FirestepDevice, client.Logger),
	}
	f.dispatcher = dispatch.New(client, configText, dispatch.Collaborators{
		Factory:    factory,
		Controller: controller,
		Firmware:   f.firmware,
		Processor:  processor,
	})
	f.root = newNode("/", f.dispatcher)

	cameras := factory.Cameras()
	if len(cameras) > 0 {
		node, _ := factory.Camera(cameras[0])
		source := cameraSource(client, config, cameras[0])
		interval := time.Duration(settings.CaptureInterval) * time.Millisecond
		f.pipelines = append(f.pipelines, cve.NewPipeline(source, node, factory, interval, client.Logger))
	}
	return f, nil
}

func openFirmware(device string, logger *zap.SugaredLogger) firestep.Link {
	if device == "" {
		return firestep.NewNullLink()
	}
	link, err := firestep.OpenSerial(device, logger.With("device", device))
	if err != nil {
		logger.Warnw("Could not open firmware, using null link", "device", device, "error", err)
		return firestep.NewNullLink()
	}
	return link
}

// cameraSource picks the capture source of the primary camera: a file, a
// command, or a generated test pattern when neither is configured.
func cameraSource(client *common.Client, config *firerest.Config, name string) vision.Camera {
	settings := client.Config
	switch {
	case settings.CameraFile != "":
		client.Logger.Infow("Capturing from file", "camera", name, "file", settings.CameraFile)
		return vision.NewFileCamera(client.Fs, settings.CameraFile)
	case len(strings.Fields(settings.CameraCommand)) > 0:
		fields := strings.Fields(settings.CameraCommand)
		client.Logger.Infow("Capturing from command", "camera", name, "command", fields[0])
		return vision.NewCommandCamera(fields[0], fields[1:]...)
	}
	width, height := PatternWidth, PatternHeight
	if cam, ok := config.CV.CameraMap[name]; ok && cam.Width > 0 && cam.Height > 0 {
		width, height = cam.Width, cam.Height
	}
	client.Logger.Infow("No camera configured, capturing test pattern", "camera", name)
	return vision.NewPatternCamera(width, height)
}

// Dispatcher returns the dispatcher behind the mount
func (f *FireFS) Dispatcher() *dispatch.Dispatcher {
	return f.dispatcher
}

// Start launches the capture pipelines and the seconds clock
func (f *FireFS) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	for _, p := range f.pipelines {
		p.Start(ctx)
	}
	f.dispatcher.Scalars().StartClock(ctx, time.Second)
}

// Close stops the background tasks and closes the firmware links
func (f *FireFS) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	for _, p := range f.pipelines {
		p.Stop()
	}
	f.dispatcher.Scalars().StopClock()
	return errors.Join(f.controller.Close(), f.firmware.Close())
}

// Serve mounts the filesystem at the configured mount point and starts the
// background tasks. The caller owns the returned server.
func (f *FireFS) Serve(ctx context.Context) (*fuse.Server, error) {
	settings := f.client.Config
	f.client.Logger.Infow("Mounting firefuse", "mountPoint", settings.MountPoint)

	// Content changes without the kernel's involvement, so nothing is cached
	var timeout time.Duration
	server, err := fs.Mount(settings.MountPoint, f.root, &fs.Options{
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			Debug:      settings.GoFuseDebug,
			AllowOther: settings.AllowOther,
			FsName:     "firefuse",
			Name:       "firefuse",
		},
	})
	if err != nil {
		return nil, err
	}
	f.Start(ctx)
	return server, nil
}

// Mount serves the filesystem until it is unmounted, then shuts down the
// background tasks. doneSettingUp is called once the mount is live.
func (f *FireFS) Mount(ctx context.Context, doneSettingUp func()) error {
	server, err := f.Serve(ctx)
	if err != nil {
		f.client.Logger.Errorw("Mount failed", "error", err)
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			f.client.Logger.Warnw("Error closing firmware links", "error", err)
		}
	}()

	if f.client.Config.AutoUnmountOnExit {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
		unmounted := make(chan struct{})
		defer func() {
			signal.Stop(signalChan)
			close(unmounted)
		}()

		go func() {
			select {
			case <-signalChan:
			case <-unmounted:
				return
			}
			f.client.Logger.Info("Received interrupt signal. Unmounting...")
			if err := server.Unmount(); err != nil {
				f.client.Logger.Errorw("Error unmounting", "error", err)
			}
		}()
		f.client.Logger.Infof("Unmount by calling 'fusermount -u %s'", f.client.Config.MountPoint)
	}

	doneSettingUp()
	server.Wait()
	f.client.Logger.Infow("Unmounted firefuse", "mountPoint", f.client.Config.MountPoint)
	return nil
}
