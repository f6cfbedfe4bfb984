package dispatch_test

import (
	"context"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/cnc"
	"github.com/404wolf/firefuse/firefuse/cve"
	"github.com/404wolf/firefuse/firefuse/dispatch"
	"github.com/404wolf/firefuse/firefuse/firerest"
	"github.com/404wolf/firefuse/firefuse/firestep"
	"github.com/404wolf/firefuse/firefuse/vision"
)

const testConfig = `{
	"cv": {"cve_map": {"locate": {"firesight": [], "properties": {"x": 1}}}},
	"cnc": {"tinyg": {}}
}`

type fixture struct {
	d        *dispatch.Dispatcher
	client   *common.Client
	factory  *cve.DataFactory
	firmware *firestep.NullLink
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T, configText string, maxHandles int) *fixture {
	t.Helper()
	settings := common.DefaultConfig()
	settings.MaxHandles = maxHandles
	client := common.NewTestClient(settings, nil)
	core, logs := observer.New(client.Level)
	client.Logger = zap.New(core).Sugar()

	config, err := firerest.Parse(configText)
	require.NoError(t, err)
	processor := vision.NewStdProcessor()
	factory := cve.NewDataFactory(client, config, processor)
	firmware := firestep.NewNullLink()
	d := dispatch.New(client, configText, dispatch.Collaborators{
		Factory:    factory,
		Controller: cnc.NewController(config, nil, client.Logger),
		Firmware:   firmware,
		Processor:  processor,
	})
	return &fixture{d: d, client: client, factory: factory, firmware: firmware, logs: logs}
}

func (fx *fixture) capture(t *testing.T) {
	t.Helper()
	frame, err := vision.NewPatternCamera(32, 24).Capture(context.Background())
	require.NoError(t, err)
	node, ok := fx.factory.Camera("1")
	require.True(t, ok)
	node.CameraJPG.Publish(frame)
}

func (fx *fixture) readAll(t *testing.T, p string, fh uint64) string {
	t.Helper()
	dest := make([]byte, 64*1024)
	n, err := fx.d.Read(p, fh, dest, 0)
	require.NoError(t, err)
	return string(dest[:n])
}

func (fx *fixture) writeFile(t *testing.T, p string, data string) {
	t.Helper()
	fh, err := fx.d.Open(context.Background(), p, syscall.O_WRONLY|syscall.O_TRUNC)
	require.NoError(t, err)
	_, err = fx.d.Write(p, fh, []byte(data), 0)
	require.NoError(t, err)
	require.NoError(t, fx.d.Release(p, fh))
}

func TestEndToEnd(t *testing.T) {
	fx := newFixture(t, "", 0)

	assert.Equal(t, "", fx.readAll(t, "/config.json", 0))

	fx = newFixture(t, testConfig, 0)
	assert.Equal(t, testConfig, fx.readAll(t, "/config.json", 0))

	n, err := fx.d.Write("/echo", 0, []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", fx.readAll(t, "/echo", 0))

	_, err = fx.d.Getattr("/nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, syscall.ENOENT, common.ToErrno(err))
}

func TestGetattrSizeMatchesRead(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	fx.capture(t)
	_, err := fx.d.Write("/echo", 0, []byte("some text"), 0)
	require.NoError(t, err)

	paths := []string{
		"/status", "/config.json", "/echo", "/firelog", "/firestep", "/holes",
		"/seconds", "/bytes_read",
		"/cv/1/camera.jpg", "/cv/1/bgr/cve/locate/firesight.json",
		"/cv/1/bgr/cve/locate/properties.json", "/cnc/tinyg/gcode.fire",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			attr, err := fx.d.Getattr(p)
			require.NoError(t, err)
			assert.False(t, attr.IsDir())
			dest := make([]byte, attr.Size+16)
			n, err := fx.d.Read(p, 0, dest, 0)
			require.NoError(t, err)
			assert.Equal(t, attr.Size, int64(n))
		})
	}
}

func TestAttrModes(t *testing.T) {
	fx := newFixture(t, testConfig, 0)

	cases := map[string]uint32{
		"/":                                  dispatch.DirMode,
		"/cv/1/gray/cve":                     dispatch.DirMode,
		"/cnc/tinyg":                         dispatch.DirMode,
		"/status":                            dispatch.ReadOnlyMode,
		"/echo":                              dispatch.WritableMode,
		"/firelog":                           dispatch.WritableMode,
		"/cv/1/gray/cve/locate/saved.png":    dispatch.WritableMode,
		"/cv/1/gray/cve/locate/process.fire": dispatch.ReadOnlyMode,
		"/cnc/tinyg/gcode.fire":              dispatch.WritableMode,
	}
	for p, mode := range cases {
		attr, err := fx.d.Getattr(p)
		require.NoError(t, err, p)
		assert.Equal(t, mode, attr.Mode, p)
	}

	for _, p := range []string{"/cv/2", "/cnc/nope", "/cv/1/hsv", "/cnc/tinyg/other"} {
		_, err := fx.d.Getattr(p)
		assert.ErrorIs(t, err, common.ErrNotFound, p)
	}
}

func TestLogGetattrSize(t *testing.T) {
	fx := newFixture(t, "", 0)
	attr, err := fx.d.Getattr("/firelog")
	require.NoError(t, err)
	text := "Actual log is " + fx.client.Config.LogFile + "\n"
	assert.Equal(t, int64(len(text)), attr.Size)
	assert.Equal(t, text, fx.readAll(t, "/firelog", 0))
}

func TestReadOffsets(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	size := int64(len(testConfig))
	dest := make([]byte, 10)

	n, err := fx.d.Read("/config.json", 0, dest, size)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = fx.d.Read("/config.json", 0, dest, size+100)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = fx.d.Read("/config.json", 0, dest, size-4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, testConfig[size-4:], string(dest[:n]))

	_, err = fx.d.Read("/nope", 0, dest, 0)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOpenModes(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	ctx := context.Background()

	_, err := fx.d.Open(ctx, "/status", syscall.O_WRONLY)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	assert.Equal(t, syscall.EACCES, common.ToErrno(err))
	_, err = fx.d.Open(ctx, "/status", syscall.O_RDWR)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	_, err = fx.d.Open(ctx, "/status", syscall.O_RDONLY)
	assert.NoError(t, err)

	_, err = fx.d.Open(ctx, "/echo", syscall.O_RDWR)
	assert.NoError(t, err)
	_, err = fx.d.Open(ctx, "/echo", syscall.O_RDONLY|syscall.O_DIRECTORY)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)

	_, err = fx.d.Open(ctx, "/cv/1/gray/cve/locate/firesight.json", syscall.O_WRONLY)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)

	_, err = fx.d.Open(ctx, "/nope", syscall.O_RDONLY)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = fx.d.Open(ctx, "/cnc/nope/gcode.fire", syscall.O_RDONLY)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestHolesSnapshotHandle(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	ctx := context.Background()

	_, err := fx.d.Open(ctx, "/holes", syscall.O_RDONLY)
	assert.ErrorIs(t, err, common.ErrIO, "no frame yet")
	assert.Zero(t, fx.d.OpenHandles())

	fx.capture(t)
	fh, err := fx.d.Open(ctx, "/holes", syscall.O_RDONLY)
	require.NoError(t, err)
	require.NotZero(t, fh)
	assert.Equal(t, 1, fx.d.OpenHandles())
	assert.Contains(t, fx.readAll(t, "/holes", fh), `"holes"`)

	require.NoError(t, fx.d.Release("/holes", fh))
	require.NoError(t, fx.d.Release("/holes", fh), "second release is a no-op")
	assert.Zero(t, fx.d.OpenHandles())
	require.NoError(t, fx.d.Release("/status", 0))
}

func TestHandleLimit(t *testing.T) {
	fx := newFixture(t, testConfig, 1)
	fx.capture(t)
	ctx := context.Background()

	fh, err := fx.d.Open(ctx, "/holes", syscall.O_RDONLY)
	require.NoError(t, err)
	_, err = fx.d.Open(ctx, "/holes", syscall.O_RDONLY)
	assert.ErrorIs(t, err, common.ErrAllocationFailure)
	assert.Equal(t, syscall.ENOMEM, common.ToErrno(err))
	assert.Equal(t, 1, fx.d.OpenHandles())

	require.NoError(t, fx.d.Release("/holes", fh))
	fh, err = fx.d.Open(ctx, "/holes", syscall.O_RDONLY)
	require.NoError(t, err)
	require.NoError(t, fx.d.Release("/holes", fh))
}

func TestEchoOverflowKeepsContent(t *testing.T) {
	fx := newFixture(t, "", 0)
	_, err := fx.d.Write("/echo", 0, []byte("kept"), 0)
	require.NoError(t, err)

	_, err = fx.d.Write("/echo", 0, []byte(strings.Repeat("x", dispatch.MaxEchoLen+1)), 0)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	assert.Equal(t, syscall.EINVAL, common.ToErrno(err))
	assert.Equal(t, "kept", fx.readAll(t, "/echo", 0))

	_, err = fx.d.Write("/echo", 0, []byte(strings.Repeat("x", dispatch.MaxEchoLen)), 0)
	assert.NoError(t, err)
}

func TestWriteRejectsAbsentPayload(t *testing.T) {
	fx := newFixture(t, "", 0)
	_, err := fx.d.Write("/echo", 0, nil, 0)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	_, err = fx.d.Write("/nope", 0, []byte("x"), 0)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestWritesToReadOnlyFilesAreDropped(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	n, err := fx.d.Write("/config.json", 0, []byte("{}"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, testConfig, fx.readAll(t, "/config.json", 0))
}

func TestLogLevelSideChannel(t *testing.T) {
	fx := newFixture(t, "", 0)
	before := fx.readAll(t, "/firelog", 0)

	_, err := fx.d.Write("/firelog", 0, []byte("e"), 0)
	require.NoError(t, err)
	fx.client.Logger.Info("hidden")
	assert.Zero(t, fx.logs.FilterMessage("hidden").Len())

	_, err = fx.d.Write("/firelog", 0, []byte("2"), 0)
	require.NoError(t, err)
	fx.client.Logger.Info("shown")
	assert.Equal(t, 1, fx.logs.FilterMessage("shown").Len())
	fx.client.Logger.Debug("still hidden")
	assert.Zero(t, fx.logs.FilterMessage("still hidden").Len())
	assert.Equal(t, before, fx.readAll(t, "/firelog", 0))

	_, err = fx.d.Write("/firelog", 0, []byte("T"), 0)
	require.NoError(t, err)
	common.Tracef(fx.client.Logger, "traced %d", 1)
	assert.Equal(t, 1, fx.logs.FilterMessage("traced 1").Len())

	_, err = fx.d.Write("/firelog", 0, []byte("?"), 0)
	require.NoError(t, err, "unknown codes are ignored")
	assert.Equal(t, "trace", fx.client.Level.Name())
}

func TestFirmware(t *testing.T) {
	fx := newFixture(t, "", 0)
	assert.Equal(t, firestep.IdleState, fx.readAll(t, "/firestep", 0))

	_, err := fx.d.Write("/firestep", 0, []byte("G28"), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("G28\n"), fx.firmware.Last())
	assert.Contains(t, fx.readAll(t, "/firestep", 0), "G28")

	_, err = fx.d.Write("/firestep", 0, []byte(strings.Repeat("G", firestep.MaxCommandLen+1)), 0)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestReaddir(t *testing.T) {
	fx := newFixture(t, testConfig, 0)

	names, err := fx.d.Readdir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, names[:2])
	for _, name := range []string{"status", "config.json", "echo", "firelog", "firestep", "holes", "cv", "cnc"} {
		assert.Contains(t, names, name)
	}

	names, err = fx.d.Readdir("/cv/1/bgr/cve")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "locate"}, names)

	names, err = fx.d.Readdir("/cnc")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "tinyg"}, names)

	names, err = fx.d.Readdir("/cnc/tinyg")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "gcode.fire"}, names)

	for _, p := range []string{"/nope", "/status", "/cv/9", "/cnc/nope"} {
		_, err = fx.d.Readdir(p)
		assert.ErrorIs(t, err, common.ErrNotFound, p)
	}
}

func TestVisionWriteCommitsOnRelease(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	p := "/cv/1/gray/cve/locate/properties.json"
	assert.JSONEq(t, `{"x": 1}`, fx.readAll(t, p, 0))

	fh, err := fx.d.Open(context.Background(), p, syscall.O_WRONLY)
	require.NoError(t, err)
	require.NoError(t, fx.d.Truncate(p, fh, 0))
	_, err = fx.d.Write(p, fh, []byte(`{"x": 2}`), 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x": 1}`, fx.readAll(t, p, 0), "not committed before release")
	require.NoError(t, fx.d.Release(p, fh))
	assert.JSONEq(t, `{"x": 2}`, fx.readAll(t, p, 0))

	fh, err = fx.d.Open(context.Background(), p, syscall.O_WRONLY)
	require.NoError(t, err)
	_, err = fx.d.Write(p, fh, []byte(`{"x": `), 0)
	require.NoError(t, err)
	assert.ErrorIs(t, fx.d.Release(p, fh), common.ErrInvalidArgument)
	assert.JSONEq(t, `{"x": 2}`, fx.readAll(t, p, 0))
	assert.Zero(t, fx.d.OpenHandles())
}

func TestFlushCommitsOnce(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	p := "/cv/1/gray/cve/locate/properties.json"

	fh, err := fx.d.Open(context.Background(), p, syscall.O_WRONLY|syscall.O_TRUNC)
	require.NoError(t, err)
	_, err = fx.d.Write(p, fh, []byte(`{"x": 3}`), 0)
	require.NoError(t, err)
	require.NoError(t, fx.d.Flush(p, fh))
	assert.JSONEq(t, `{"x": 3}`, fx.readAll(t, p, 0))

	_, err = fx.d.Write(p, 0, []byte(`{"x": 4}`), 0)
	require.NoError(t, err)
	require.NoError(t, fx.d.Release(p, fh))
	assert.JSONEq(t, `{"x": 4}`, fx.readAll(t, p, 0), "clean buffer is not committed again")
}

func TestOversizedUploadIsRejected(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	p := "/cv/1/gray/cve/locate/properties.json"

	fh, err := fx.d.Open(context.Background(), p, syscall.O_WRONLY)
	require.NoError(t, err)
	_, err = fx.d.Write(p, fh, []byte("x"), 1<<62)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	assert.Equal(t, syscall.EINVAL, common.ToErrno(err))
	err = fx.d.Truncate(p, fh, 1<<62)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	require.NoError(t, fx.d.Release(p, fh))
	assert.JSONEq(t, `{"x": 1}`, fx.readAll(t, p, 0), "rejected writes leave the value alone")
	assert.Zero(t, fx.d.OpenHandles())
}

func TestStatusSnapshotHandle(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	ctx := context.Background()

	fh, err := fx.d.Open(ctx, "/status", syscall.O_RDONLY)
	require.NoError(t, err)
	require.NotZero(t, fh)

	first := make([]byte, 8)
	n, err := fx.d.Read("/status", fh, first, 0)
	require.NoError(t, err)
	require.Equal(t, 8, n)

	// the first read moved bytes_read, the open handle still serves the old report
	rest := make([]byte, 64*1024)
	n, err = fx.d.Read("/status", fh, rest, 8)
	require.NoError(t, err)
	body := string(first) + string(rest[:n])
	assert.Contains(t, body, `"bytes_read":0`)
	assert.True(t, strings.HasSuffix(body, "}\n"))
	assert.Equal(t, 1, strings.Count(body, "\n"))

	require.NoError(t, fx.d.Release("/status", fh))
	assert.Zero(t, fx.d.OpenHandles())
}

func TestProcessAndSave(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	fx.capture(t)
	ctx := context.Background()

	fh, err := fx.d.Open(ctx, "/cv/1/bgr/cve/locate/save.fire", syscall.O_RDONLY)
	require.NoError(t, err)
	assert.Contains(t, fx.readAll(t, "/cv/1/bgr/cve/locate/save.fire", fh), "saved.png")
	require.NoError(t, fx.d.Release("/cv/1/bgr/cve/locate/save.fire", fh))

	attr, err := fx.d.Getattr("/cv/1/bgr/cve/locate/saved.png")
	require.NoError(t, err)
	assert.Positive(t, attr.Size)

	fh, err = fx.d.Open(ctx, "/cv/1/bgr/cve/locate/process.fire", syscall.O_RDONLY)
	require.NoError(t, err)
	assert.Contains(t, fx.readAll(t, "/cv/1/bgr/cve/locate/process.fire", fh), `"stages":0`)
	require.NoError(t, fx.d.Release("/cv/1/bgr/cve/locate/process.fire", fh))

	attr, err = fx.d.Getattr("/cv/1/output.jpg")
	require.NoError(t, err)
	assert.Positive(t, attr.Size)
}

func TestRenameAndUnlink(t *testing.T) {
	fx := newFixture(t, testConfig, 0)

	require.NoError(t, fx.d.Rename("/cv/1/gray/cve/locate/firesight.json", "/cv/1/gray/cve/locate/properties.json"))
	assert.Equal(t, "[]", fx.readAll(t, "/cv/1/gray/cve/locate/properties.json", 0))

	err := fx.d.Rename("/echo", "/status")
	assert.ErrorIs(t, err, common.ErrNotFound)
	err = fx.d.Rename("/cv/1/gray/cve/locate/firesight.json", "/cv/1/bgr/cve/locate/properties.json")
	assert.ErrorIs(t, err, common.ErrNotFound)
	err = fx.d.Rename("/cv/1/gray/cve/locate/properties.json", "/cv/1/gray/cve/locate/firesight.json")
	assert.ErrorIs(t, err, common.ErrNotFound, "read-only target")
	assert.Equal(t, syscall.ENOENT, common.ToErrno(err))

	assert.NoError(t, fx.d.Unlink("/echo"))
	assert.ErrorIs(t, fx.d.Unlink("/nope"), common.ErrNotFound)
	assert.NoError(t, fx.d.Truncate("/status", 0, 0))
	assert.ErrorIs(t, fx.d.Truncate("/nope", 0, 0), common.ErrNotFound)
}

func TestMachineControl(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	p := "/cnc/tinyg/gcode.fire"

	_, err := fx.d.Write(p, 0, []byte("G0X10"), 0)
	require.NoError(t, err)
	assert.Contains(t, fx.readAll(t, p, 0), "G0X10")

	_, err = fx.d.Write("/cnc/other/gcode.fire", 0, []byte("G0"), 0)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestBytesReadCountsEveryRead(t *testing.T) {
	fx := newFixture(t, testConfig, 0)
	fx.capture(t)
	start := fx.d.Scalars().BytesRead()

	total := len(fx.readAll(t, "/config.json", 0))
	total += len(fx.readAll(t, "/cv/1/camera.jpg", 0))
	total += len(fx.readAll(t, "/cnc/tinyg/gcode.fire", 0))
	assert.Equal(t, start+uint64(total), fx.d.Scalars().BytesRead())

	text := strings.TrimSpace(fx.readAll(t, "/bytes_read", 0))
	counted, err := strconv.ParseUint(text, 10, 64)
	require.NoError(t, err)
	assert.Equal(t, start+uint64(total), counted)
}

func TestSecondsClock(t *testing.T) {
	fx := newFixture(t, "", 0)
	scalars := fx.d.Scalars()

	scalars.StartClock(context.Background(), time.Millisecond)
	require.Eventually(t, func() bool { return scalars.Seconds() >= 2 }, time.Second, time.Millisecond)
	scalars.StopClock()
	scalars.StopClock()

	stopped := scalars.Seconds()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, scalars.Seconds())
	assert.Equal(t, strconv.FormatUint(stopped, 10)+"\n", fx.readAll(t, "/seconds", 0))
}
