// Package cve implements the FireREST vision tree under /cv: per-camera
// artifact caches, the registry of CVE pipeline bundles, idle processing and
// the background capture pipeline that feeds them.
package cve

import (
	"github.com/404wolf/firefuse/firefuse/firerest"
	"github.com/404wolf/firefuse/firefuse/lifo"
	"github.com/404wolf/firefuse/firefuse/router"
)

// CVE is the bundle of caches behind one /cv/<camera>/<colorspace>/cve/<name>
// directory.
type CVE struct {
	Key  string
	Addr router.VisionAddr

	Firesight     *lifo.Cache[[]byte] // pipeline definition
	SrcProperties *lifo.Cache[[]byte] // pipeline arguments
	SnkProperties *lifo.Cache[[]byte] // properties the last run ended with
	SavedPNG      *lifo.Cache[[]byte]
	SaveFire      *lifo.Cache[[]byte] // receipt of the last save
	ProcessFire   *lifo.Cache[[]byte] // model of the last run
}

func newCVE(addr router.VisionAddr, config firerest.CVEConfig) *CVE {
	addr.File = ""
	c := &CVE{
		Key:           addr.Key(),
		Addr:          addr,
		Firesight:     lifo.New[[]byte](),
		SrcProperties: lifo.New[[]byte](),
		SnkProperties: lifo.New[[]byte](),
		SavedPNG:      lifo.New[[]byte](),
		SaveFire:      lifo.New[[]byte](),
		ProcessFire:   lifo.New[[]byte](),
	}
	c.Firesight.Publish(append([]byte(nil), config.Firesight...))
	c.SrcProperties.Publish(append([]byte(nil), config.Properties...))
	return c
}

// content returns the current value behind one of the bundle's files
func (c *CVE) content(file string) []byte {
	switch file {
	case router.FiresightJSON:
		return c.Firesight.Snapshot().Value
	case router.PropertiesJSON:
		if snk := c.SnkProperties.Snapshot(); snk.Generation > 0 {
			return snk.Value
		}
		return c.SrcProperties.Snapshot().Value
	case router.SavedPNG:
		return c.SavedPNG.Snapshot().Value
	case router.SaveFire:
		return c.SaveFire.Snapshot().Value
	case router.ProcessFire:
		return c.ProcessFire.Snapshot().Value
	}
	return nil
}
