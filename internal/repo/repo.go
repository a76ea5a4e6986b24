// Package repo is a filesystem package repository. FSProvider reads package
// metadata and archives laid out as
//
//	<root>/<package>/preview.json
//	<root>/<package>/<version>/meta.json
//	<root>/<package>/<version>/<subpackage>.rpk  (_package.rpk for whole packages)
//
// and FSSink commits fetched archives into an install directory.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/afero"
	"github.com/warpdl/warppkg/pkg/distlib"
	"github.com/warpdl/warppkg/pkg/logger"
)

const (
	metaFile    = "meta.json"
	previewFile = "preview.json"
	archiveExt  = ".rpk"
	wholeName   = "_package"
)

var (
	ErrPackageNotFound = errors.New("package not found in repository")
	ErrVersionNotFound = errors.New("package version not found in repository")
)

// VersionLookup reports what is currently installed. It is satisfied by
// *distlib.InstalledSubpackageManager.
type VersionLookup interface {
	InstalledVersion(ctx context.Context, pkg, subpackage string) int
	AppVersion(ctx context.Context, pkg string) int
}

// FSProvider implements distlib.Provider over an afero filesystem.
type FSProvider struct {
	fs        afero.Fs
	root      string
	installed VersionLookup
	log       logger.Logger
}

var _ distlib.Provider = (*FSProvider)(nil)

// NewFSProvider creates a provider reading the repository under root.
func NewFSProvider(fs afero.Fs, root string, installed VersionLookup, l logger.Logger) *FSProvider {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &FSProvider{fs: fs, root: root, installed: installed, log: l}
}

func archiveFile(subpackage string) string {
	if subpackage == "" {
		return wholeName + archiveExt
	}
	return subpackage + archiveExt
}

func (p *FSProvider) versionDir(pkg string, version int) string {
	return filepath.Join(p.root, pkg, strconv.Itoa(version))
}

// Versions lists the published versions of pkg in ascending order.
func (p *FSProvider) Versions(pkg string) ([]int, error) {
	entries, err := afero.ReadDir(p.fs, filepath.Join(p.root, pkg))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", pkg, ErrPackageNotFound)
		}
		return nil, err
	}
	var versions []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, err := strconv.Atoi(e.Name()); err == nil && v > 0 {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s: %w", pkg, ErrPackageNotFound)
	}
	sort.Ints(versions)
	return versions, nil
}

func (p *FSProvider) GetDistributionMeta(ctx context.Context, pkg string, version int) (*distlib.AppDistributionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if version == 0 {
		versions, err := p.Versions(pkg)
		if err != nil {
			return nil, err
		}
		version = versions[len(versions)-1]
	}
	b, err := afero.ReadFile(p.fs, filepath.Join(p.versionDir(pkg, version), metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s@%d: %w", pkg, version, ErrVersionNotFound)
		}
		return nil, err
	}
	var meta distlib.AppDistributionMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("%s@%d: decode meta: %w", pkg, version, err)
	}
	meta.Package = pkg
	meta.Version = version
	if meta.DownloadURL == "" {
		meta.DownloadURL = "file://" + filepath.ToSlash(p.versionDir(pkg, version))
	}
	return &meta, nil
}

func (p *FSProvider) open(meta *distlib.AppDistributionMeta, subpackage string) (afero.File, error) {
	f, err := p.fs.Open(filepath.Join(p.versionDir(meta.Package, meta.Version), archiveFile(subpackage)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, distlib.NewInstallError(distlib.ErrorNetworkUnavailable, err)
		}
		return nil, err
	}
	return f, nil
}

// FetchAsStream opens the archive directly when the package is streamable.
func (p *FSProvider) FetchAsStream(ctx context.Context, meta *distlib.AppDistributionMeta, subpackage string) (io.ReadCloser, error) {
	if !meta.Streamable {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := p.open(meta, subpackage)
	if err != nil {
		return nil, err
	}
	return &ctxReadCloser{ctx: ctx, rc: f}, nil
}

func (p *FSProvider) FetchToFile(ctx context.Context, meta *distlib.AppDistributionMeta, subpackage string, w io.Writer) error {
	f, err := p.open(meta, subpackage)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, &ctxReadCloser{ctx: ctx, rc: f})
	return err
}

func (p *FSProvider) NeedsUpdate(ctx context.Context, pkg string, version int) bool {
	if p.installed == nil {
		return true
	}
	return p.installed.AppVersion(ctx, pkg) < version
}

func (p *FSProvider) NeedsSubpackageUpdate(ctx context.Context, pkg, subpackage string, version int) bool {
	if p.installed == nil {
		return true
	}
	return p.installed.InstalledVersion(ctx, pkg, subpackage) < version
}

func (p *FSProvider) GetPreviewInfo(ctx context.Context, pkg string) (*distlib.PreviewInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := afero.ReadFile(p.fs, filepath.Join(p.root, pkg, previewFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &distlib.PreviewInfo{Package: pkg, Name: pkg}, nil
		}
		return nil, err
	}
	var info distlib.PreviewInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, fmt.Errorf("%s: decode preview: %w", pkg, err)
	}
	info.Package = pkg
	return &info, nil
}

// Publish writes meta.json for meta.Version and the given archives, keyed
// by sub-package name ("" for a whole package).
func (p *FSProvider) Publish(meta *distlib.AppDistributionMeta, archives map[string]io.Reader) error {
	dir := p.versionDir(meta.Package, meta.Version)
	if err := p.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := afero.WriteFile(p.fs, filepath.Join(dir, metaFile), b, 0644); err != nil {
		return err
	}
	for sub, r := range archives {
		if err := afero.WriteReader(p.fs, filepath.Join(dir, archiveFile(sub)), r); err != nil {
			return fmt.Errorf("publish %s: %w", archiveFile(sub), err)
		}
	}
	p.log.Info("published %s@%d (%d archives)", meta.Package, meta.Version, len(archives))
	return nil
}

// PublishPreview writes the preview description of info.Package.
func (p *FSProvider) PublishPreview(info *distlib.PreviewInfo) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := p.fs.MkdirAll(filepath.Join(p.root, info.Package), 0755); err != nil {
		return err
	}
	return afero.WriteFile(p.fs, filepath.Join(p.root, info.Package, previewFile), b, 0644)
}

// ctxReadCloser fails reads once ctx is done.
type ctxReadCloser struct {
	ctx context.Context
	rc  io.ReadCloser
}

func (c *ctxReadCloser) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.rc.Read(b)
}

func (c *ctxReadCloser) Close() error {
	return c.rc.Close()
}
