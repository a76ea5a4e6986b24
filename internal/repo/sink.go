package repo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/warpdl/warppkg/pkg/distlib"
	"github.com/warpdl/warppkg/pkg/logger"
)

const signerFile = ".signer"

// FSSink implements distlib.Sink by copying archives into
// <root>/<package>/<subpackage> on an afero filesystem. A package whose
// signer differs from the one recorded at its first install is refused.
type FSSink struct {
	fs   afero.Fs
	root string
	log  logger.Logger
	mu   sync.Mutex
}

var _ distlib.Sink = (*FSSink)(nil)

func NewFSSink(fs afero.Fs, root string, l logger.Logger) *FSSink {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &FSSink{fs: fs, root: root, log: l}
}

// installer is the prepared state between CreateInstaller and Commit.
type installer struct {
	meta       *distlib.AppDistributionMeta
	subpackage string
	src        *distlib.InstallSource
}

func (i *installer) Package() string    { return i.meta.Package }
func (i *installer) Subpackage() string { return i.subpackage }
func (i *installer) Version() int       { return i.meta.Version }
func (i *installer) IsStreaming() bool  { return i.src.Streaming }

// Path is where a committed sub-package lands.
func (s *FSSink) Path(pkg, subpackage string) string {
	if subpackage == "" {
		subpackage = wholeName
	}
	return filepath.Join(s.root, pkg, subpackage)
}

// Signer returns the signer recorded for pkg, or "".
func (s *FSSink) Signer(pkg string) string {
	b, err := afero.ReadFile(s.fs, filepath.Join(s.root, pkg, signerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (s *FSSink) CreateInstaller(ctx context.Context, meta *distlib.AppDistributionMeta, subpackage string, src *distlib.InstallSource) (distlib.Installer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src == nil || src.Reader == nil {
		return nil, fmt.Errorf("%s: empty install source", meta.Package)
	}
	if prev := s.Signer(meta.Package); prev != "" && meta.Signer != "" && prev != meta.Signer {
		return nil, fmt.Errorf("%s: signer %q, installed %q: %w", meta.Package, meta.Signer, prev, distlib.ErrCertificateChanged)
	}
	return &installer{meta: meta, subpackage: subpackage, src: src}, nil
}

// Commit copies the source into a temporary file and renames it over the
// installed copy, so a failed commit leaves the previous install intact.
func (s *FSSink) Commit(ctx context.Context, inst distlib.Installer) error {
	in, ok := inst.(*installer)
	if !ok {
		return fmt.Errorf("foreign installer %T", inst)
	}
	dir := filepath.Join(s.root, in.Package())
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dst := s.Path(in.Package(), in.subpackage)
	tmp := dst + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, &ctxReadCloser{ctx: ctx, rc: io.NopCloser(in.src.Reader)})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Rename(tmp, dst); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if in.meta.Signer != "" {
		if err := afero.WriteFile(s.fs, filepath.Join(dir, signerFile), []byte(in.meta.Signer), 0644); err != nil {
			return err
		}
	}
	s.log.Debug("committed %s/%s@%d streaming=%v", in.Package(), in.subpackage, in.Version(), in.IsStreaming())
	return nil
}

// Uninstall removes every committed file of pkg.
func (s *FSSink) Uninstall(pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fs.RemoveAll(filepath.Join(s.root, pkg))
}
