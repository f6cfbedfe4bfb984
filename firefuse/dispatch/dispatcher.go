// Package dispatch is the filesystem protocol handler of firefuse. Every
// operation takes a path, classifies it with the router and hands it to the
// subsystem that owns it. The dispatcher knows nothing about the kernel
// protocol; the go-fuse adapter translates its errors into errno values.
package dispatch

import (
	"context"
	"fmt"
	"syscall"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/cnc"
	"github.com/404wolf/firefuse/firefuse/cve"
	"github.com/404wolf/firefuse/firefuse/firestep"
	"github.com/404wolf/firefuse/firefuse/handles"
	"github.com/404wolf/firefuse/firefuse/router"
	"github.com/404wolf/firefuse/firefuse/vision"
)

// Permission bits reported for each kind of entry
const (
	DirMode      = syscall.S_IFDIR | 0o755
	ReadOnlyMode = syscall.S_IFREG | 0o444
	WritableMode = syscall.S_IFREG | 0o666
)

// Attr is what getattr reports for a path
type Attr struct {
	Mode uint32
	Size int64
}

// IsDir reports whether the attributes describe a directory
func (a Attr) IsDir() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

// Collaborators are the subsystems the dispatcher routes to
type Collaborators struct {
	Factory    *cve.DataFactory
	Controller *cnc.Controller
	Firmware   firestep.Link
	Processor  vision.Processor
}

// Dispatcher implements the filesystem operations on paths
type Dispatcher struct {
	client     *common.Client
	configText string
	factory    *cve.DataFactory
	controller *cnc.Controller
	firmware   firestep.Link
	processor  vision.Processor
	handles    *handles.Table
	scalars    *Scalars
}

// New creates a dispatcher serving configText as /config.json
func New(client *common.Client, configText string, c Collaborators) *Dispatcher {
	firmware := c.Firmware
	if firmware == nil {
		firmware = firestep.NewNullLink()
	}
	return &Dispatcher{
		client:     client,
		configText: configText,
		factory:    c.Factory,
		controller: c.Controller,
		firmware:   firmware,
		processor:  c.Processor,
		handles:    handles.NewTable(client.Config.MaxHandles),
		scalars:    &Scalars{},
	}
}

// Scalars returns the process-wide counters and scratch state
func (d *Dispatcher) Scalars() *Scalars {
	return d.scalars
}

// OpenHandles returns how many handle buffers are live
func (d *Dispatcher) OpenHandles() int {
	return d.handles.Count()
}

func (d *Dispatcher) fail(op string, p string, err error) error {
	common.Tracef(d.client.Logger, "%s(%s) failed: %v", op, p, err)
	return common.NewError(op, p, err)
}

// Getattr reports whether path exists, what it is and its current size
func (d *Dispatcher) Getattr(p string) (Attr, error) {
	route := router.Classify(p)
	common.Tracef(d.client.Logger, "getattr(%s) %s", p, route.Kind)

	if route.IsDir() {
		if err := d.checkDir(route); err != nil {
			return Attr{}, d.fail(common.OpGetattr, p, err)
		}
		return Attr{Mode: DirMode}, nil
	}
	if route.Kind == router.Unknown {
		return Attr{}, d.fail(common.OpGetattr, p, common.ErrNotFound)
	}

	data, err := d.content(route)
	if err != nil {
		return Attr{}, d.fail(common.OpGetattr, p, err)
	}
	mode := uint32(ReadOnlyMode)
	if route.Writable() {
		mode = WritableMode
	}
	return Attr{Mode: mode, Size: int64(len(data))}, nil
}

// checkDir verifies that a directory route names an existing directory
func (d *Dispatcher) checkDir(route router.Route) error {
	switch route.Tree {
	case router.TreeCV:
		return d.factory.StatDir(route.Vision)
	case router.TreeCNC:
		if route.CNC.Drive != "" && !d.controller.HasDrive(route.CNC.Drive) {
			return common.ErrNotFound
		}
	}
	return nil
}

// Readdir lists the entries of a directory, including "." and ".."
func (d *Dispatcher) Readdir(p string) ([]string, error) {
	route := router.Classify(p)
	common.Tracef(d.client.Logger, "readdir(%s) %s", p, route.Kind)

	var names []string
	switch {
	case route.Kind == router.Root:
		names = router.RootEntries()
	case route.Kind == router.Directory && route.Tree == router.TreeCV:
		listed, err := d.factory.List(route.Vision)
		if err != nil {
			return nil, d.fail(common.OpReaddir, p, err)
		}
		names = listed
	case route.Kind == router.Directory && route.Tree == router.TreeCNC:
		if route.CNC.Drive == "" {
			names = d.controller.Drives()
		} else if d.controller.HasDrive(route.CNC.Drive) {
			names = []string{router.GcodeFire}
		} else {
			return nil, d.fail(common.OpReaddir, p, common.ErrNotFound)
		}
	default:
		return nil, d.fail(common.OpReaddir, p, common.ErrNotFound)
	}
	return append([]string{".", ".."}, names...), nil
}

// Open checks flags against the file's access mode and returns a handle id.
// Files that need point-in-time content get a handle buffer holding a
// snapshot; the id is zero for the rest.
func (d *Dispatcher) Open(ctx context.Context, p string, flags uint32) (uint64, error) {
	route := router.Classify(p)
	common.Tracef(d.client.Logger, "open(%s, %#o) %s", p, flags, route.Kind)

	switch {
	case route.Kind == router.Unknown:
		return 0, d.fail(common.OpOpen, p, common.ErrNotFound)
	case route.IsDir():
		return 0, d.fail(common.OpOpen, p, common.ErrPermissionDenied)
	case flags&syscall.O_DIRECTORY != 0:
		return 0, d.fail(common.OpOpen, p, common.ErrPermissionDenied)
	}
	writing := flags&syscall.O_ACCMODE != syscall.O_RDONLY
	if writing && !route.Writable() {
		return 0, d.fail(common.OpOpen, p, common.ErrPermissionDenied)
	}

	var snapshot []byte
	switch route.Kind {
	case router.Status:
		// bytes_read moves with every read, so the report is frozen at open
		data, err := d.status()
		if err != nil {
			return 0, d.fail(common.OpOpen, p, err)
		}
		snapshot = data
	case router.Holes:
		data, err := d.holes()
		if err != nil {
			return 0, d.fail(common.OpOpen, p, err)
		}
		snapshot = data
	case router.Vision:
		data, err := d.factory.Open(ctx, route.Vision)
		if err != nil {
			return 0, d.fail(common.OpOpen, p, err)
		}
		snapshot = append([]byte(nil), data...)
	case router.MachineControl:
		if _, err := d.content(route); err != nil {
			return 0, d.fail(common.OpOpen, p, err)
		}
		return 0, nil
	default:
		return 0, nil
	}

	id, err := d.handles.Alloc(p, flags, snapshot)
	if err != nil {
		d.client.Logger.Warnw("Could not allocate handle", "path", p, "error", err)
		return 0, d.fail(common.OpOpen, p, err)
	}
	if writing && flags&syscall.O_TRUNC != 0 {
		if buf, ok := d.handles.Get(id); ok {
			_ = buf.Truncate(0)
		}
	}
	return id, nil
}

// Read copies content at off into dest. It serves the handle buffer when fh
// has one and freshly computed content otherwise. Reads at or past the end
// return zero bytes.
func (d *Dispatcher) Read(p string, fh uint64, dest []byte, off int64) (int, error) {
	var n int
	if buf, ok := d.handles.Get(fh); ok {
		n = buf.ReadAt(dest, off)
	} else {
		route := router.Classify(p)
		if route.Kind == router.Unknown || route.IsDir() {
			return 0, d.fail(common.OpRead, p, common.ErrNotFound)
		}
		data, err := d.content(route)
		if err != nil {
			return 0, d.fail(common.OpRead, p, err)
		}
		n = readBuffer(dest, data, off)
	}
	d.scalars.AddBytesRead(n)
	common.Tracef(d.client.Logger, "read(%s, %dB@%d) -> %dB", p, len(dest), off, n)
	return n, nil
}

// readBuffer copies the part of data starting at off into dest
func readBuffer(dest []byte, data []byte, off int64) int {
	if off < 0 || off >= int64(len(data)) {
		return 0
	}
	return copy(dest, data[off:])
}

// Write stores data for the writable pseudo-files. Writes to other known
// files are accepted and dropped.
func (d *Dispatcher) Write(p string, fh uint64, data []byte, off int64) (int, error) {
	if data == nil {
		return 0, d.fail(common.OpWrite, p, common.ErrInvalidArgument)
	}
	route := router.Classify(p)
	common.Tracef(d.client.Logger, "write(%s, %dB@%d) %s", p, len(data), off, route.Kind)

	switch route.Kind {
	case router.Unknown:
		return 0, d.fail(common.OpWrite, p, common.ErrNotFound)
	case router.Echo:
		if !d.scalars.SetEcho(data) {
			return 0, d.fail(common.OpWrite, p,
				fmt.Errorf("%d bytes exceeds %d: %w", len(data), MaxEchoLen, common.ErrInvalidArgument))
		}
	case router.Log:
		d.setLogLevel(data)
	case router.Firmware:
		if err := d.firmware.Write(data); err != nil {
			return 0, d.fail(common.OpWrite, p, err)
		}
	case router.MachineControl:
		if route.CNC.Resource != router.GcodeFire {
			return 0, d.fail(common.OpWrite, p, common.ErrNotFound)
		}
		if err := d.controller.Write(route.CNC.Drive, data); err != nil {
			return 0, d.fail(common.OpWrite, p, err)
		}
	case router.Vision:
		if !route.Vision.Writable() {
			break
		}
		if buf, ok := d.handles.Get(fh); ok {
			if _, err := buf.WriteAt(data, off); err != nil {
				return 0, d.fail(common.OpWrite, p, err)
			}
		} else if err := d.factory.Commit(route.Vision, data); err != nil {
			return 0, d.fail(common.OpWrite, p, err)
		}
	}
	return len(data), nil
}

func (d *Dispatcher) setLogLevel(data []byte) {
	if len(data) == 0 {
		return
	}
	if d.client.Level.SetCode(data[0]) {
		d.client.Logger.Infow("Log level changed", "level", d.client.Level.Name())
	}
}

// Flush commits what was written to the handle buffer of fh so far
func (d *Dispatcher) Flush(p string, fh uint64) error {
	buf, ok := d.handles.Get(fh)
	if !ok {
		return nil
	}
	return d.commit(common.OpFlush, p, buf)
}

// Release frees the handle buffer of fh, committing what was written to it.
// Releasing a handle without a buffer, or one already released, does nothing.
func (d *Dispatcher) Release(p string, fh uint64) error {
	buf, ok := d.handles.Release(fh)
	if !ok {
		return nil
	}
	common.Tracef(d.client.Logger, "release(%s) fh=%d", p, fh)
	return d.commit(common.OpRelease, p, buf)
}

// commit stores uncommitted writes of a writable vision file
func (d *Dispatcher) commit(op string, p string, buf *handles.Buffer) error {
	data, dirty := buf.TakeDirty()
	if !dirty {
		return nil
	}
	route := router.Classify(buf.Path)
	if route.Kind != router.Vision || !route.Vision.Writable() {
		return nil
	}
	if err := d.factory.Commit(route.Vision, data); err != nil {
		d.client.Logger.Warnw("Discarding write", "path", buf.Path, "error", err)
		return d.fail(op, p, err)
	}
	d.client.Logger.Debugw("Committed write", "path", buf.Path, "bytes", len(data))
	return nil
}

// Truncate resizes the handle buffer of an open writable vision file. For
// every other known path it succeeds without effect.
func (d *Dispatcher) Truncate(p string, fh uint64, size int64) error {
	route := router.Classify(p)
	if route.Kind == router.Unknown {
		return d.fail(common.OpTruncate, p, common.ErrNotFound)
	}
	if route.Kind == router.Vision && route.Vision.Writable() {
		if buf, ok := d.handles.Get(fh); ok {
			if err := buf.Truncate(size); err != nil {
				return d.fail(common.OpTruncate, p, err)
			}
		}
	}
	return nil
}

// Rename commits the content of one file of a CVE directory into a writable
// file of the same directory.
func (d *Dispatcher) Rename(oldPath, newPath string) error {
	from, to := router.Classify(oldPath), router.Classify(newPath)
	if from.Kind != router.Vision || to.Kind != router.Vision {
		return d.fail(common.OpRename, oldPath, common.ErrNotFound)
	}
	if err := d.factory.Rename(from.Vision, to.Vision); err != nil {
		return d.fail(common.OpRename, oldPath, err)
	}
	d.client.Logger.Debugw("Renamed", "from", oldPath, "to", newPath)
	return nil
}

// Unlink accepts removal of known files without removing anything
func (d *Dispatcher) Unlink(p string) error {
	route := router.Classify(p)
	if route.Kind == router.Unknown || route.IsDir() {
		return d.fail(common.OpUnlink, p, common.ErrNotFound)
	}
	return nil
}
