package cve

import (
	"path/filepath"

	"github.com/404wolf/firefuse/firefuse/router"
	"github.com/spf13/afero"
	"github.com/subosito/gozaru"
)

// Exporter mirrors saved images into a directory tree shaped like /cv. The
// mirror is write-only: nothing is ever read back from it.
type Exporter struct {
	fs  afero.Fs
	dir string
}

// NewExporter creates an exporter writing under dir on fs
func NewExporter(fs afero.Fs, dir string) *Exporter {
	return &Exporter{fs: fs, dir: dir}
}

// Path returns where the saved image of addr's bundle is exported
func (e *Exporter) Path(addr router.VisionAddr) string {
	return filepath.Join(
		e.dir,
		router.CVPath[1:],
		gozaru.Sanitize(addr.Camera),
		addr.Colorspace,
		router.CVEDir,
		gozaru.Sanitize(addr.CVE),
		router.SavedPNG,
	)
}

// SavePNG writes data as the exported saved image of addr's bundle
func (e *Exporter) SavePNG(addr router.VisionAddr, data []byte) error {
	target := e.Path(addr)
	if err := e.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(e.fs, target, data, 0o644)
}
