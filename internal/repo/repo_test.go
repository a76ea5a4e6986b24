package repo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/warppkg/pkg/distlib"
)

type lookup map[string]int

func (l lookup) InstalledVersion(_ context.Context, pkg, sub string) int { return l[pkg+"/"+sub] }
func (l lookup) AppVersion(_ context.Context, pkg string) int           { return l[pkg+"/"] }

func publish(t *testing.T, p *FSProvider, meta *distlib.AppDistributionMeta, archives map[string]string) {
	t.Helper()
	readers := make(map[string]io.Reader, len(archives))
	for sub, data := range archives {
		readers[sub] = strings.NewReader(data)
	}
	if err := p.Publish(meta, readers); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestFSProvider_MetaVersions(t *testing.T) {
	ctx := context.Background()
	p := NewFSProvider(afero.NewMemMapFs(), "/repo", nil, nil)
	publish(t, p, &distlib.AppDistributionMeta{Package: "app", Version: 1}, map[string]string{"": "v1"})
	publish(t, p, &distlib.AppDistributionMeta{Package: "app", Version: 10, Streamable: true}, map[string]string{"": "v10"})

	meta, err := p.GetDistributionMeta(ctx, "app", 0)
	if err != nil {
		t.Fatalf("GetDistributionMeta: %v", err)
	}
	if meta.Version != 10 || !meta.Streamable {
		t.Fatalf("expected latest version 10, got %+v", meta)
	}
	if meta.DownloadURL == "" {
		t.Fatal("expected a download locator")
	}
	meta, err = p.GetDistributionMeta(ctx, "app", 1)
	if err != nil || meta.Version != 1 {
		t.Fatalf("explicit version: %+v, %v", meta, err)
	}

	if _, err := p.GetDistributionMeta(ctx, "app", 5); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
	if _, err := p.GetDistributionMeta(ctx, "missing", 0); !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
}

func TestFSProvider_Fetch(t *testing.T) {
	ctx := context.Background()
	p := NewFSProvider(afero.NewMemMapFs(), "/repo", nil, nil)
	meta := &distlib.AppDistributionMeta{Package: "app", Version: 2, Subpackages: []distlib.SubpackageInfo{{Name: "base", IsBase: true}}}
	publish(t, p, meta, map[string]string{"base": "base-bytes"})

	rc, err := p.FetchAsStream(ctx, meta, "base")
	if err != nil || rc != nil {
		t.Fatalf("non-streamable package must not stream: %v, %v", rc, err)
	}

	var buf bytes.Buffer
	if err := p.FetchToFile(ctx, meta, "base", &buf); err != nil {
		t.Fatalf("FetchToFile: %v", err)
	}
	if buf.String() != "base-bytes" {
		t.Fatalf("unexpected archive %q", buf.String())
	}

	err = p.FetchToFile(ctx, meta, "pages", io.Discard)
	if distlib.ErrorCodeOf(err) != distlib.ErrorNetworkUnavailable {
		t.Fatalf("missing archive should be unavailable, got %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.FetchToFile(cctx, meta, "base", io.Discard); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	meta.Streamable = true
	rc, err = p.FetchAsStream(ctx, meta, "base")
	if err != nil || rc == nil {
		t.Fatalf("FetchAsStream: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "base-bytes" {
		t.Fatalf("unexpected stream %q", data)
	}
}

func TestFSProvider_NeedsUpdate(t *testing.T) {
	ctx := context.Background()
	p := NewFSProvider(afero.NewMemMapFs(), "/repo", lookup{"app/": 3, "app/base": 3}, nil)
	if p.NeedsUpdate(ctx, "app", 3) {
		t.Fatal("version 3 installed")
	}
	if !p.NeedsUpdate(ctx, "app", 4) {
		t.Fatal("version 4 is newer")
	}
	if p.NeedsSubpackageUpdate(ctx, "app", "base", 2) {
		t.Fatal("older version never needs an update")
	}
	if !p.NeedsSubpackageUpdate(ctx, "app", "pages", 3) {
		t.Fatal("missing sub-package needs an update")
	}
}

func TestFSProvider_Preview(t *testing.T) {
	ctx := context.Background()
	p := NewFSProvider(afero.NewMemMapFs(), "/repo", nil, nil)
	info, err := p.GetPreviewInfo(ctx, "app")
	if err != nil || info.Name != "app" {
		t.Fatalf("default preview: %+v, %v", info, err)
	}
	if err := p.PublishPreview(&distlib.PreviewInfo{Package: "app", Name: "App", Orientation: "portrait"}); err != nil {
		t.Fatalf("PublishPreview: %v", err)
	}
	info, _ = p.GetPreviewInfo(ctx, "app")
	if info.Name != "App" || info.Orientation != "portrait" {
		t.Fatalf("unexpected preview %+v", info)
	}
}

func TestFSSink_CommitAndSigner(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewFSSink(fs, "/apps", nil)
	meta := &distlib.AppDistributionMeta{Package: "app", Version: 1, Signer: "alice"}

	inst, err := s.CreateInstaller(ctx, meta, "base", &distlib.InstallSource{Reader: strings.NewReader("payload"), Version: 1})
	if err != nil {
		t.Fatalf("CreateInstaller: %v", err)
	}
	if inst.Package() != "app" || inst.Subpackage() != "base" || inst.Version() != 1 || inst.IsStreaming() {
		t.Fatalf("unexpected installer %+v", inst)
	}
	if err := s.Commit(ctx, inst); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	data, err := afero.ReadFile(fs, s.Path("app", "base"))
	if err != nil || string(data) != "payload" {
		t.Fatalf("committed file: %q, %v", data, err)
	}
	if s.Signer("app") != "alice" {
		t.Fatalf("expected recorded signer, got %q", s.Signer("app"))
	}

	other := &distlib.AppDistributionMeta{Package: "app", Version: 2, Signer: "mallory"}
	_, err = s.CreateInstaller(ctx, other, "base", &distlib.InstallSource{Reader: strings.NewReader("x")})
	if !errors.Is(err, distlib.ErrCertificateChanged) {
		t.Fatalf("expected ErrCertificateChanged, got %v", err)
	}

	if err := s.Uninstall("app"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if ok, _ := afero.Exists(fs, s.Path("app", "base")); ok {
		t.Fatal("uninstalled file still present")
	}
}

func TestFSSink_FailedCommitKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewFSSink(fs, "/apps", nil)
	meta := &distlib.AppDistributionMeta{Package: "app", Version: 1}

	inst, _ := s.CreateInstaller(ctx, meta, "", &distlib.InstallSource{Reader: strings.NewReader("v1")})
	if err := s.Commit(ctx, inst); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	inst, _ = s.CreateInstaller(cctx, meta, "", &distlib.InstallSource{Reader: strings.NewReader("v2")})
	cancel()
	if err := s.Commit(cctx, inst); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	data, _ := afero.ReadFile(fs, s.Path("app", ""))
	if string(data) != "v1" {
		t.Fatalf("previous install clobbered: %q", data)
	}
}

func TestRepo_ServiceEndToEnd(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	installed := distlib.NewInstalledSubpackageManager(distlib.NewMemoryInstalledStore(), nil)
	provider := NewFSProvider(fs, "/repo", installed, nil)
	sink := NewFSSink(fs, "/apps", nil)

	meta := &distlib.AppDistributionMeta{
		Package:    "app",
		Version:    3,
		Streamable: true,
		Subpackages: []distlib.SubpackageInfo{
			{Name: "base", IsBase: true, Size: 4},
			{Name: "pages", Resource: "/pages", Size: 5},
		},
	}
	publish(t, provider, meta, map[string]string{"base": "base", "pages": "pages"})

	svc, err := distlib.NewService(distlib.Options{
		Provider:  provider,
		Sink:      sink,
		Installed: installed,
		Archives:  distlib.NewLocalArchiveManager(fs, "/cache"),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	done := make(chan *distlib.InstallStatus, 8)
	err = svc.AddListener(distlib.ListenerSpec{ID: "l1", Kind: distlib.ListenStatus, Package: "app"}, distlib.ObserverFunc(func(n *distlib.Notification) error {
		if n.Status.IsFinished() {
			done <- n.Status
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if err := svc.ScheduleInstall(distlib.InstallRequest{Package: "app", Path: "/pages/home"}); err != nil {
		t.Fatalf("ScheduleInstall: %v", err)
	}

	select {
	case st := <-done:
		if st.ResultCode != distlib.ResultOK {
			t.Fatalf("expected ok, got %s", st)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("install never finished")
	}
	for sub, want := range map[string]string{"base": "base", "pages": "pages"} {
		data, err := afero.ReadFile(fs, sink.Path("app", sub))
		if err != nil || string(data) != want {
			t.Fatalf("%s: %q, %v", sub, data, err)
		}
	}
	if !installed.IsPackageComplete(ctx, "app", 3, meta.Subpackages) {
		t.Fatal("installed records incomplete")
	}
}
