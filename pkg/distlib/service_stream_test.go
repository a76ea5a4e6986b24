package distlib

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

// tickingReader hands out data in small chunks and advances the clock on
// every read.
type tickingReader struct {
	data  []byte
	chunk int
	clock *fakeClock
	step  time.Duration
}

func (r *tickingReader) Read(b []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(b[:min(len(b), r.chunk)], r.data)
	r.data = r.data[n:]
	r.clock.Advance(r.step)
	return n, nil
}

func streamingMeta(pkg string, version int, size int64) *AppDistributionMeta {
	return &AppDistributionMeta{Package: pkg, Version: version, Streamable: true, Size: size}
}

func hasStreaming(pkg string, code ErrorCode) func([]*Notification) bool {
	return func(ns []*Notification) bool {
		for _, n := range ns {
			if n.Kind == KindInstallStatus && n.Package == pkg &&
				n.Status.StatusCode == StatusStreaming && n.Status.ErrorCode == code {
				return true
			}
		}
		return false
	}
}

func TestService_StreamingReportsTransientStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.addPackage(streamingMeta("app", 1, 11))
	status := &collector{}
	env.svc.AddListener(ListenerSpec{ID: "status", Kind: ListenStatus, Package: "app"}, status)

	jobs := env.schedule(t, InstallRequest{Package: "app"})
	jobs[0].Run()

	got := status.waitFor(t, "finished", hasStatus("app", StatusFinished, ResultOK))
	if !hasStreaming("app", ErrorNone)(got) {
		t.Fatal("expected a STREAMING status without error code")
	}
	streaming, finished := -1, -1
	for i, n := range got {
		switch {
		case n.Status.StatusCode == StatusStreaming && streaming < 0:
			streaming = i
		case n.Status.IsFinished():
			finished = i
		}
	}
	if streaming > finished {
		t.Fatalf("STREAMING must precede FINISHED, got %d and %d", streaming, finished)
	}
	if data, ok := env.sink.committedData("app", ""); !ok || string(data) != "archive:app" {
		t.Fatalf("unexpected committed data %q", data)
	}
	if env.archives.Version("app", "") != 0 {
		t.Fatal("archive should be removed after commit")
	}
}

func TestService_StreamObsoleteWhenNewerVersionInstalled(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.addPackage(streamingMeta("app", 1, 11))
	env.provider.streamHook = func(meta *AppDistributionMeta, sub string) io.Reader {
		// another installer applies version 2 while version 1 streams
		env.installed.MarkInstalled(context.Background(), meta.Package, sub, meta.Version+1)
		return nil
	}
	status := &collector{}
	env.svc.AddListener(ListenerSpec{ID: "status", Kind: ListenStatus, Package: "app"}, status)

	jobs := env.schedule(t, InstallRequest{Package: "app"})
	jobs[0].Run()

	got := status.waitFor(t, "finished", hasStatus("app", StatusFinished, ResultOK))
	if !hasStreaming("app", ErrorCacheObsolete)(got) {
		t.Fatal("expected STREAMING flagged with PACKAGE_CACHE_OBSOLETE")
	}
}

func TestService_OverlappingStreamsFlagCacheObsolete(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.addPackage(streamingMeta("app", 1, 11))
	status := &collector{}
	env.svc.AddListener(ListenerSpec{ID: "status", Kind: ListenStatus, Package: "app"}, status)

	gate := make(chan struct{})
	env.sink.mu.Lock()
	env.sink.gate = gate
	env.sink.entered = make(chan struct{}, 1)
	env.sink.mu.Unlock()

	old := env.schedule(t, InstallRequest{Package: "app"})
	done := make(chan struct{})
	go func() {
		defer close(done)
		old[0].Run()
	}()
	<-env.sink.entered

	// the first stream stays open while a retry streams the same package
	env.sink.mu.Lock()
	env.sink.gate = nil
	env.sink.mu.Unlock()
	env.svc.CancelInstall("app")
	env.sync(t)
	renewed := env.schedule(t, InstallRequest{Package: "app"})
	if len(renewed) != 1 {
		t.Fatalf("expected the cancelled task to be renewed, got %d", len(renewed))
	}
	renewed[0].Run()

	got := status.waitFor(t, "finished", hasStatus("app", StatusFinished, ResultOK))
	if !hasStreaming("app", ErrorCacheObsolete)(got) {
		t.Fatal("expected STREAMING flagged with PACKAGE_CACHE_OBSOLETE")
	}

	close(gate)
	<-done
	if st := env.svc.Status("app"); st.StatusCode != StatusFinished || st.ResultCode != ResultOK {
		t.Fatalf("drained stream changed the status to %s", st)
	}
	if data, ok := env.sink.committedData("app", ""); !ok || string(data) != "archive:app" {
		t.Fatalf("unexpected committed data %q", data)
	}
}

func TestService_StreamingProgressFlushedBeforeFinish(t *testing.T) {
	clock := newFakeClock()
	const interval = 100 * time.Millisecond
	env := newTestEnv(t, func(o *Options) {
		o.Clock = clock
		o.ProgressInterval = interval
	})
	const size = 1000
	env.provider.addPackage(streamingMeta("app", 1, size))
	env.provider.streamHook = func(*AppDistributionMeta, string) io.Reader {
		return &tickingReader{data: bytes.Repeat([]byte("x"), size), chunk: 10, clock: clock, step: 10 * time.Millisecond}
	}

	// one observer behind both listeners sees a single ordered stream
	events := &collector{}
	env.svc.AddListener(ListenerSpec{ID: "progress", Kind: ListenProgress, Package: "app"}, events)
	env.svc.AddListener(ListenerSpec{ID: "status", Kind: ListenStatus, Package: "app"}, events)

	jobs := env.schedule(t, InstallRequest{Package: "app"})
	start := clock.Now()
	jobs[0].Run()
	elapsed := clock.Now().Sub(start)

	got := events.waitFor(t, "finished", hasStatus("app", StatusFinished, ResultOK))
	var progress []*Notification
	finished := -1
	lastProgress := -1
	for i, n := range got {
		switch n.Kind {
		case KindProgress:
			progress = append(progress, n)
			lastProgress = i
		case KindInstallStatus:
			if n.Status.IsFinished() && finished < 0 {
				finished = i
			}
		}
	}

	limit := int((elapsed+interval-1)/interval) + 1
	if len(progress) == 0 || len(progress) > limit {
		t.Fatalf("expected 1..%d progress notifications over %s, got %d", limit, elapsed, len(progress))
	}
	finals := 0
	for _, n := range progress {
		if n.Loaded == size {
			finals++
		}
		if n.Total != size {
			t.Fatalf("unexpected total %d", n.Total)
		}
	}
	if finals != 1 {
		t.Fatalf("final progress delivered %d times", finals)
	}
	if progress[len(progress)-1].Loaded != size {
		t.Fatalf("last progress loaded=%d, want %d", progress[len(progress)-1].Loaded, size)
	}
	if lastProgress > finished {
		t.Fatal("progress delivered after the FINISHED status")
	}
}
