// Package cnc implements the machine-control tree under /cnc. Each configured
// drive is a directory whose gcode.fire reports the drive's firmware state
// and accepts commands.
package cnc

import (
	"errors"

	"go.uber.org/zap"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/firerest"
	"github.com/404wolf/firefuse/firefuse/firestep"
)

// Opener connects to the firmware of a drive given its serial device
type Opener func(serial string) (firestep.Link, error)

// Controller owns the firmware links of all configured drives
type Controller struct {
	links  map[string]firestep.Link
	order  []string
	logger *zap.SugaredLogger
}

// NewController opens a link for every drive in config. A drive without a
// serial device, or whose device cannot be opened, gets a NullLink so the tree
// stays browsable.
func NewController(config *firerest.Config, open Opener, logger *zap.SugaredLogger) *Controller {
	c := &Controller{
		links:  make(map[string]firestep.Link),
		logger: logger,
	}
	for _, drive := range config.Drives() {
		serial := config.CNC[drive].Serial
		var link firestep.Link = firestep.NewNullLink()
		if serial != "" && open != nil {
			opened, err := open(serial)
			if err != nil {
				logger.Warnw("Could not open drive, using null link",
					"drive", drive,
					"serial", serial,
					"error", err)
			} else {
				link = opened
			}
		}
		c.links[drive] = link
		c.order = append(c.order, drive)
	}
	return c
}

// Drives returns the configured drive names
func (c *Controller) Drives() []string {
	return append([]string(nil), c.order...)
}

// HasDrive reports whether drive is configured
func (c *Controller) HasDrive(drive string) bool {
	_, ok := c.links[drive]
	return ok
}

// State returns the latest firmware state of drive
func (c *Controller) State(drive string) ([]byte, error) {
	link, ok := c.links[drive]
	if !ok {
		return nil, common.ErrNotFound
	}
	return []byte(link.State()), nil
}

// Write sends a command to drive
func (c *Controller) Write(drive string, cmd []byte) error {
	link, ok := c.links[drive]
	if !ok {
		return common.ErrNotFound
	}
	if err := link.Write(cmd); err != nil {
		c.logger.Warnw("Drive command failed", "drive", drive, "error", err)
		return err
	}
	c.logger.Debugw("Sent drive command", "drive", drive, "bytes", len(cmd))
	return nil
}

// Close closes every link
func (c *Controller) Close() error {
	var errs []error
	for _, drive := range c.order {
		if err := c.links[drive].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
