package firerest

import (
	"errors"
	"io/fs"

	"github.com/spf13/afero"
)

// ReadText loads the config text at path. A missing file is not an error and
// yields empty text.
func ReadText(fsys afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
