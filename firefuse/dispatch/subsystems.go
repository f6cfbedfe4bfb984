package dispatch

import (
	"encoding/json"
	"fmt"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/router"
)

// content computes the current bytes of a file route. It has no side
// effects, so getattr can size exactly what the next read returns.
func (d *Dispatcher) content(route router.Route) ([]byte, error) {
	switch route.Kind {
	case router.Status:
		return d.status()
	case router.Config:
		return []byte(d.configText), nil
	case router.Echo:
		return d.scalars.Echo(), nil
	case router.Log:
		return []byte(d.logText()), nil
	case router.Firmware:
		return []byte(d.firmware.State()), nil
	case router.Holes:
		// empty until the first frame arrives
		data, _ := d.holes()
		return data, nil
	case router.Seconds:
		return append(decimal(d.scalars.Seconds()), '\n'), nil
	case router.BytesRead:
		return append(decimal(d.scalars.BytesRead()), '\n'), nil
	case router.Vision:
		return d.factory.Content(route.Vision)
	case router.MachineControl:
		if route.CNC.Resource != router.GcodeFire {
			return nil, common.ErrNotFound
		}
		return d.controller.State(route.CNC.Drive)
	}
	return nil, common.ErrNotFound
}

func (d *Dispatcher) logText() string {
	return "Actual log is " + d.client.Config.LogFile + "\n"
}

// holes reports the holes in the latest frame of the first camera
func (d *Dispatcher) holes() ([]byte, error) {
	cameras := d.factory.Cameras()
	if len(cameras) == 0 {
		return nil, common.ErrNotFound
	}
	node, _ := d.factory.Camera(cameras[0])
	frame := node.CameraJPG.Snapshot()
	if frame.Generation == 0 {
		return nil, fmt.Errorf("%w: no camera frame", common.ErrIO)
	}
	data, err := d.processor.Holes(frame.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	return data, nil
}

type statusReport struct {
	State       string            `json:"state"`
	Client      string            `json:"client"`
	Uptime      uint64            `json:"uptime"`
	LogLevel    string            `json:"log_level"`
	OpenHandles int               `json:"open_handles"`
	BytesRead   uint64            `json:"bytes_read"`
	Cameras     map[string]uint64 `json:"cameras"`
	CVEs        int               `json:"cves"`
	Drives      []string          `json:"drives"`
}

// status summarises the controller. Cameras maps each camera to the
// generation of its latest frame.
func (d *Dispatcher) status() ([]byte, error) {
	report := statusReport{
		State:       "ready",
		Client:      fmt.Sprintf("%016x", d.client.Id),
		Uptime:      d.scalars.Seconds(),
		LogLevel:    d.client.Level.Name(),
		OpenHandles: d.handles.Count(),
		BytesRead:   d.scalars.BytesRead(),
		Cameras:     make(map[string]uint64),
		CVEs:        d.factory.CVECount(),
		Drives:      d.controller.Drives(),
	}
	for _, name := range d.factory.Cameras() {
		node, _ := d.factory.Camera(name)
		generation := node.CameraJPG.Generation()
		report.Cameras[name] = generation
		if generation == 0 {
			report.State = "waiting"
		}
	}
	data, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
