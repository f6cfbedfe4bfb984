// Package router classifies filesystem paths. Classification is a pure
// function of the path string so that every filesystem operation re-derives
// the same Route independently.
package router

import (
	"path"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Kind is the subsystem a path belongs to
type Kind int

const (
	Unknown Kind = iota
	Root
	Directory
	Status
	Config
	Echo
	Log
	Firmware
	Holes
	Seconds
	BytesRead
	Vision
	MachineControl
)

var kindNames = map[Kind]string{
	Unknown:        "unknown",
	Root:           "root",
	Directory:      "directory",
	Status:         "status",
	Config:         "config",
	Echo:           "echo",
	Log:            "log",
	Firmware:       "firmware",
	Holes:          "holes",
	Seconds:        "seconds",
	BytesRead:      "bytes_read",
	Vision:         "vision",
	MachineControl: "machine_control",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Tree tells which subtree a Directory, Vision or MachineControl route is in
type Tree int

const (
	TreeNone Tree = iota
	TreeCV
	TreeCNC
)

// Static pseudo-file paths under the mount root
const (
	StatusPath    = "/status"
	ConfigPath    = "/config.json"
	HolesPath     = "/holes"
	EchoPath      = "/echo"
	FirelogPath   = "/firelog"
	FirestepPath  = "/firestep"
	SecondsPath   = "/seconds"
	BytesReadPath = "/bytes_read"
	CVPath        = "/cv"
	CNCPath       = "/cnc"
)

// Names of the vision artifacts
const (
	CameraJPG      = "camera.jpg"
	MonitorJPG     = "monitor.jpg"
	OutputJPG      = "output.jpg"
	Gray           = "gray"
	BGR            = "bgr"
	CVEDir         = "cve"
	FiresightJSON  = "firesight.json"
	PropertiesJSON = "properties.json"
	SavedPNG       = "saved.png"
	SaveFire       = "save.fire"
	ProcessFire    = "process.fire"
	GcodeFire      = "gcode.fire"
)

// PseudoFile describes a fixed file of the root directory
type PseudoFile struct {
	Path     string
	Kind     Kind
	Writable bool
}

// Name returns the directory entry name of the file
func (f PseudoFile) Name() string {
	return f.Path[1:]
}

// Files is the static pseudo-file table of the mount root
var Files = []PseudoFile{
	{Path: StatusPath, Kind: Status},
	{Path: ConfigPath, Kind: Config},
	{Path: HolesPath, Kind: Holes},
	{Path: EchoPath, Kind: Echo, Writable: true},
	{Path: FirelogPath, Kind: Log, Writable: true},
	{Path: FirestepPath, Kind: Firmware, Writable: true},
	{Path: SecondsPath, Kind: Seconds},
	{Path: BytesReadPath, Kind: BytesRead},
}

var filesByPath = func() map[string]PseudoFile {
	byPath := make(map[string]PseudoFile, len(Files))
	for _, f := range Files {
		byPath[f.Path] = f
	}
	return byPath
}()

var (
	// CameraFiles are the artifacts directly under /cv/<camera>
	CameraFiles = []string{CameraJPG, MonitorJPG, OutputJPG}

	// Colorspaces are the per-camera directories that hold CVE pipelines
	Colorspaces = []string{BGR, Gray}

	// CVEFiles are the artifacts of one CVE pipeline
	CVEFiles = []string{FiresightJSON, PropertiesJSON, ProcessFire, SaveFire, SavedPNG}

	cameraFiles   = mapset.NewSet(CameraFiles...)
	colorspaces   = mapset.NewSet(Colorspaces...)
	cveFiles      = mapset.NewSet(CVEFiles...)
	writableFiles = mapset.NewSet(PropertiesJSON, SavedPNG)
)

// IsCVEFile reports whether name is one of the files of a CVE directory
func IsCVEFile(name string) bool {
	return cveFiles.Contains(name)
}

// RootEntries lists the names shown in the root directory
func RootEntries() []string {
	names := make([]string, 0, len(Files)+2)
	for _, f := range Files {
		names = append(names, f.Name())
	}
	names = append(names, CVPath[1:], CNCPath[1:])
	sort.Strings(names)
	return names
}

// VisionAddr is the parsed position of a path inside /cv
type VisionAddr struct {
	Camera     string
	Colorspace string
	CVEDir     bool
	CVE        string
	File       string
}

// Key returns the directory path of the CVE pipeline the address belongs to,
// or "" above the CVE level.
func (a VisionAddr) Key() string {
	if a.CVE == "" {
		return ""
	}
	return path.Join(CVPath, a.Camera, a.Colorspace, CVEDir, a.CVE)
}

// Writable reports whether the addressed artifact accepts data
func (a VisionAddr) Writable() bool {
	return a.CVE != "" && writableFiles.Contains(a.File)
}

// CNCAddr is the parsed position of a path inside /cnc
type CNCAddr struct {
	Drive    string
	Resource string
}

// Route is the classification of a path
type Route struct {
	Kind   Kind
	Path   string
	Tree   Tree
	File   PseudoFile
	Vision VisionAddr
	CNC    CNCAddr
}

// IsDir reports whether the route names a directory
func (r Route) IsDir() bool {
	return r.Kind == Root || r.Kind == Directory
}

// Writable reports whether files at the route accept writes
func (r Route) Writable() bool {
	switch r.Kind {
	case Vision:
		return r.Vision.Writable()
	case MachineControl:
		return true
	}
	return r.File.Writable
}

// Classify maps an absolute path to its Route. Paths that name nothing return
// a Route of Kind Unknown.
func Classify(p string) Route {
	if !strings.HasPrefix(p, "/") {
		return Route{Kind: Unknown, Path: p}
	}
	p = path.Clean(p)
	if p == "/" {
		return Route{Kind: Root, Path: p}
	}
	if f, ok := filesByPath[p]; ok {
		return Route{Kind: f.Kind, Path: p, File: f}
	}

	segments := strings.Split(p[1:], "/")
	switch segments[0] {
	case CVPath[1:]:
		return classifyVision(p, segments[1:])
	case CNCPath[1:]:
		return classifyCNC(p, segments[1:])
	}
	return Route{Kind: Unknown, Path: p}
}

func classifyVision(p string, segments []string) Route {
	dir := Route{Kind: Directory, Path: p, Tree: TreeCV}
	unknown := Route{Kind: Unknown, Path: p}

	switch len(segments) {
	case 0:
		return dir
	case 1:
		dir.Vision.Camera = segments[0]
		return dir
	case 2:
		name := segments[1]
		if cameraFiles.Contains(name) {
			return Route{Kind: Vision, Path: p, Tree: TreeCV, Vision: VisionAddr{
				Camera: segments[0],
				File:   name,
			}}
		}
		if colorspaces.Contains(name) {
			dir.Vision = VisionAddr{Camera: segments[0], Colorspace: name}
			return dir
		}
		return unknown
	}

	if !colorspaces.Contains(segments[1]) || segments[2] != CVEDir {
		return unknown
	}
	addr := VisionAddr{Camera: segments[0], Colorspace: segments[1], CVEDir: true}
	switch len(segments) {
	case 3:
		dir.Vision = addr
		return dir
	case 4:
		addr.CVE = segments[3]
		dir.Vision = addr
		return dir
	case 5:
		if !cveFiles.Contains(segments[4]) {
			return unknown
		}
		addr.CVE = segments[3]
		addr.File = segments[4]
		return Route{Kind: Vision, Path: p, Tree: TreeCV, Vision: addr}
	}
	return unknown
}

func classifyCNC(p string, segments []string) Route {
	switch len(segments) {
	case 0:
		return Route{Kind: Directory, Path: p, Tree: TreeCNC}
	case 1:
		return Route{Kind: Directory, Path: p, Tree: TreeCNC, CNC: CNCAddr{Drive: segments[0]}}
	case 2:
		if segments[1] == GcodeFire {
			return Route{Kind: MachineControl, Path: p, Tree: TreeCNC, CNC: CNCAddr{
				Drive:    segments[0],
				Resource: segments[1],
			}}
		}
	}
	return Route{Kind: Unknown, Path: p}
}
