// Package jar resolves internal class names to parsed class files from a
// class archive. Lookups are cached for the lifetime of the loader; missing
// classes are reported with ErrClassNotFound and are not fatal.
package jar

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mabhi256/nbtspec/internal/classfile"
)

// ErrClassNotFound reports that the archive has no entry for the requested
// internal class name.
var ErrClassNotFound = errors.New("class not found in archive")

type Loader struct {
	archive *zip.ReadCloser
	files   map[string]*zip.File

	cache   map[string]*classfile.ClassFile
	missing map[string]bool
}

func Open(path string) (*Loader, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open archive %s: %w", path, err)
	}

	files := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		if strings.HasSuffix(f.Name, ".class") {
			files[f.Name] = f
		}
	}

	return &Loader{
		archive: archive,
		files:   files,
		cache:   make(map[string]*classfile.ClassFile),
		missing: make(map[string]bool),
	}, nil
}

func (l *Loader) Close() error {
	return l.archive.Close()
}

// Load parses the class for the given internal name ("a/b/C"). Results,
// including negative ones, are cached.
func (l *Loader) Load(internalName string) (*classfile.ClassFile, error) {
	if cf, ok := l.cache[internalName]; ok {
		return cf, nil
	}
	if l.missing[internalName] {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, internalName)
	}

	entry, ok := l.files[internalName+".class"]
	if !ok {
		l.missing[internalName] = true
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, internalName)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", entry.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", entry.Name, err)
	}

	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", internalName, err)
	}
	l.cache[internalName] = cf
	return cf, nil
}

// Count returns the number of class entries in the archive.
func (l *Loader) Count() int {
	return len(l.files)
}
