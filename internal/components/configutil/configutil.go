package configutil

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// LocalPath returns the path of the local override for a config file,
// `dir/name.ext` becomes `dir/name.local.ext`.
func LocalPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// readLayer returns false when the file does not exist or is empty.
func readLayer[T any](path string, out *T) (bool, error) {
	contents, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}
	return true, json5.Unmarshal(contents, out)
}

// ReadConfig reads a json5 configuration file and merges the local override
// (see LocalPath) on top of it, the override wins for every non-zero field.
//
// It returns an error wrapping fs.ErrNotExist if neither file exists.
func ReadConfig[T any](name string) (T, error) {
	var out T

	foundDefault, err := readLayer(name, &out)
	if err != nil {
		return out, err
	}

	var override T
	localPath := LocalPath(name)
	foundLocal, err := readLayer(localPath, &override)
	if err != nil {
		return out, err
	}
	if foundLocal {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Debug("merging config with local overrides", "local", localPath)
	}

	if !foundDefault && !foundLocal {
		return out, &fs.PathError{Op: "read config", Path: name, Err: fs.ErrNotExist}
	}
	return out, nil
}

// ReadRecursively is ReadConfig, but it walks up from the working directory
// to the filesystem root until it finds a directory containing `name`.
func ReadRecursively[T any](name string) (T, error) {
	var defaultOut T

	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return defaultOut, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return defaultOut, &fs.PathError{Op: "read config", Path: name, Err: fs.ErrNotExist}
		}
		current = parent
	}
}
