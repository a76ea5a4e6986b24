package distlib

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	archiveExt     = ".rpk"
	versionTagExt  = ".version"
	wholeArchiveID = "_package"
)

// LocalArchiveManager caches fetched but not yet applied archives together
// with a version tag. The tag is written only once the archive is complete,
// so a present tag always describes a usable file.
type LocalArchiveManager struct {
	fs   afero.Fs
	root string
}

// NewLocalArchiveManager creates a manager storing archives under root.
func NewLocalArchiveManager(fs afero.Fs, root string) *LocalArchiveManager {
	return &LocalArchiveManager{fs: fs, root: root}
}

func archiveName(subpackage string) string {
	if subpackage == "" {
		return wholeArchiveID
	}
	return subpackage
}

// Path returns the archive location of a sub-package ("" for the whole package).
func (a *LocalArchiveManager) Path(pkg, subpackage string) string {
	return filepath.Join(a.root, pkg, archiveName(subpackage)+archiveExt)
}

func (a *LocalArchiveManager) tagPath(pkg, subpackage string) string {
	return a.Path(pkg, subpackage) + versionTagExt
}

// Create truncates the archive of a sub-package and drops its version tag.
func (a *LocalArchiveManager) Create(pkg, subpackage string) (afero.File, error) {
	if err := a.fs.MkdirAll(filepath.Join(a.root, pkg), 0o755); err != nil {
		return nil, err
	}
	if err := a.fs.Remove(a.tagPath(pkg, subpackage)); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return a.fs.Create(a.Path(pkg, subpackage))
}

// SaveVersion marks the archive of a sub-package as complete at version.
func (a *LocalArchiveManager) SaveVersion(pkg, subpackage string, version int) error {
	if _, err := a.fs.Stat(a.Path(pkg, subpackage)); err != nil {
		return err
	}
	return afero.WriteFile(a.fs, a.tagPath(pkg, subpackage), []byte(strconv.Itoa(version)), 0o644)
}

// Version returns the saved version of a cached archive, 0 if there is none.
func (a *LocalArchiveManager) Version(pkg, subpackage string) int {
	if _, err := a.fs.Stat(a.Path(pkg, subpackage)); err != nil {
		return 0
	}
	b, err := afero.ReadFile(a.fs, a.tagPath(pkg, subpackage))
	if err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return v
}

// Open opens a cached archive for reading.
func (a *LocalArchiveManager) Open(pkg, subpackage string) (io.ReadCloser, error) {
	f, err := a.fs.Open(a.Path(pkg, subpackage))
	if errors.Is(err, os.ErrNotExist) {
		return nil, NewInstallError(ErrorArchiveNotFound, err)
	}
	return f, err
}

// Remove deletes the archive of a sub-package and its tag.
func (a *LocalArchiveManager) Remove(pkg, subpackage string) error {
	for _, p := range []string{a.tagPath(pkg, subpackage), a.Path(pkg, subpackage)} {
		if err := a.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Archived lists the complete cached archives of pkg by sub-package name.
// The whole-package archive is listed under "".
func (a *LocalArchiveManager) Archived(pkg string) map[string]int {
	entries, err := afero.ReadDir(a.fs, filepath.Join(a.root, pkg))
	if err != nil {
		return nil
	}
	out := make(map[string]int)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, archiveExt) {
			continue
		}
		sub := strings.TrimSuffix(name, archiveExt)
		if sub == wholeArchiveID {
			sub = ""
		}
		if v := a.Version(pkg, sub); v > 0 {
			out[sub] = v
		}
	}
	return out
}

// LatestVersion returns the highest tagged archive version of pkg.
func (a *LocalArchiveManager) LatestVersion(pkg string) int {
	v := 0
	for _, code := range a.Archived(pkg) {
		v = max(v, code)
	}
	return v
}
