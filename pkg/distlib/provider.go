package distlib

import (
	"context"
	"io"
)

// Provider is the metadata and fetch collaborator. Implementations own the
// network transport and the package format.
type Provider interface {
	// GetDistributionMeta resolves a package version; version 0 means latest.
	GetDistributionMeta(ctx context.Context, pkg string, version int) (*AppDistributionMeta, error)
	// FetchAsStream opens the archive of a sub-package ("" for the whole
	// package) as a live stream. It returns a nil reader and nil error when
	// the package cannot be streamed.
	FetchAsStream(ctx context.Context, meta *AppDistributionMeta, subpackage string) (io.ReadCloser, error)
	// FetchToFile copies the archive into w.
	FetchToFile(ctx context.Context, meta *AppDistributionMeta, subpackage string, w io.Writer) error
	// NeedsUpdate reports whether a whole package is below version.
	NeedsUpdate(ctx context.Context, pkg string, version int) bool
	// NeedsSubpackageUpdate reports whether a sub-package is below version.
	NeedsSubpackageUpdate(ctx context.Context, pkg, subpackage string, version int) bool
	// GetPreviewInfo returns the lightweight package description.
	GetPreviewInfo(ctx context.Context, pkg string) (*PreviewInfo, error)
}

// InstallSource is the byte source an Installer commits from.
type InstallSource struct {
	Reader io.Reader
	// Path is the local archive path, empty for live streams.
	Path      string
	Version   int
	Streaming bool
}

// Installer is a prepared, not yet committed install.
type Installer interface {
	Package() string
	Subpackage() string
	Version() int
	IsStreaming() bool
}

// Sink commits packages into the persistent package store.
type Sink interface {
	CreateInstaller(ctx context.Context, meta *AppDistributionMeta, subpackage string, src *InstallSource) (Installer, error)
	Commit(ctx context.Context, inst Installer) error
}
