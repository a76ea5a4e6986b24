package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	cmdCommon "github.com/warpdl/warppkg/cmd/common"
	"github.com/warpdl/warppkg/common"
	"github.com/warpdl/warppkg/pkg/distcli"
	"github.com/warpdl/warppkg/pkg/distlib"
	"github.com/warpdl/warppkg/pkg/logger"
)

// session is one client connection wrapped in a Manager.
type session struct {
	backend *distcli.RemoteBackend
	manager *distcli.Manager
}

func clientLogger(ctx *cli.Context) logger.Logger {
	return logger.NewConsoleLogger(os.Stderr, ctx.GlobalBool("debug") || common.Debug())
}

var connect = func(ctx *cli.Context) (*session, error) {
	uri := ctx.GlobalString("daemon-uri")
	if uri == "" {
		uri = distcli.DefaultURI()
	}
	dctx, cancel := context.WithTimeout(context.Background(), DEF_DIAL_TIMEOUT)
	defer cancel()
	l := clientLogger(ctx)
	b, err := distcli.Dial(dctx, uri, ctx.GlobalString("token"), l)
	if err != nil {
		return nil, fmt.Errorf("%w (is the daemon running? try \"warppkg daemon\")", err)
	}
	m, err := distcli.NewManager(distcli.Options{
		Backend:     b,
		Logger:      l,
		CallTimeout: DEF_CALL_TIMEOUT,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	return &session{backend: b, manager: m}, nil
}

func (s *session) Close() {
	s.manager.Close()
}

// installView renders one progress bar per sub-package until the package
// reaches a finished status newer than since.
type installView struct {
	pkg   string
	since time.Time
	p     *mpb.Progress

	mu   sync.Mutex
	bars map[string]*mpb.Bar
	last *distlib.InstallStatus
	done chan struct{}
	once sync.Once
}

func newInstallView(pkg string, since time.Time) *installView {
	return &installView{
		pkg:   pkg,
		since: since,
		p:     mpb.New(mpb.WithWidth(64), mpb.WithRefreshRate(100*time.Millisecond)),
		bars:  make(map[string]*mpb.Bar),
		done:  make(chan struct{}),
	}
}

func (v *installView) bar(sub string, total int64) *mpb.Bar {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.bars[sub]
	if !ok {
		b = cmdCommon.InitInstallBar(v.p, sub, total)
		v.bars[sub] = b
	}
	return b
}

func (v *installView) onProgress(sub string, loaded, total int64) {
	b := v.bar(sub, total)
	if total > 0 {
		b.SetTotal(total, false)
	}
	b.SetCurrent(loaded)
}

func (v *installView) onSubpackage(sub string, st *distlib.InstallStatus) {
	if st == nil || !st.IsFinished() || st.Timestamp.Before(v.since) {
		return
	}
	v.mu.Lock()
	b, ok := v.bars[sub]
	v.mu.Unlock()
	if !ok {
		return
	}
	if st.ResultCode == distlib.ResultOK {
		b.SetTotal(-1, true)
	} else {
		b.Abort(false)
	}
}

func (v *installView) onStatus(_ string, st *distlib.InstallStatus) {
	if st == nil {
		return
	}
	v.mu.Lock()
	v.last = st
	v.mu.Unlock()
	if st.IsFinished() && !st.Timestamp.Before(v.since) {
		v.finish()
	}
}

func (v *installView) finish() {
	v.once.Do(func() { close(v.done) })
}

// wait blocks until the install finishes or the daemon goes away and
// returns the last status seen.
func (v *installView) wait(shutdown <-chan struct{}) *distlib.InstallStatus {
	select {
	case <-v.done:
	case <-shutdown:
	}
	v.mu.Lock()
	for _, b := range v.bars {
		if !b.Completed() {
			b.Abort(false)
		}
	}
	last := v.last
	v.mu.Unlock()
	v.p.Wait()
	return last
}

// follow attaches v to s and returns the listener ids to remove.
func (s *session) follow(v *installView) ([]string, error) {
	m := s.manager
	var ids []string
	id, err := m.AddProgressListener(v.pkg, "", v.onProgress)
	if err != nil {
		return nil, err
	}
	ids = append(ids, id)
	if id, err = m.AddSubpackageListener(v.pkg, "", v.onSubpackage); err != nil {
		return ids, err
	}
	ids = append(ids, id)
	if id, err = m.AddStatusListener(v.pkg, v.onStatus); err != nil {
		return ids, err
	}
	return append(ids, id), nil
}

// runAndFollow registers the view, runs start and waits for the result.
func (s *session) runAndFollow(pkg string, start func() error) (*distlib.InstallStatus, error) {
	v := newInstallView(pkg, timeNow())
	ids, err := s.follow(v)
	defer func() {
		for _, id := range ids {
			s.manager.RemoveListener(id)
		}
	}()
	if err != nil {
		return nil, err
	}
	if err := start(); err != nil {
		v.finish()
		v.wait(nil)
		return nil, err
	}
	return v.wait(s.backend.Shutdown()), nil
}

// printResult prints the final status and turns failures into an exit error.
func printResult(pkg string, st *distlib.InstallStatus) error {
	if st == nil {
		return cli.NewExitError(fmt.Sprintf("%s: daemon stopped before the install finished", pkg), 1)
	}
	fmt.Println(cmdCommon.FormatStatus(pkg, false, st))
	if st.ResultCode != distlib.ResultOK {
		return cli.NewExitError("", 1)
	}
	return nil
}
