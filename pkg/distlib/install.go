package distlib

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// fetched is an archive ready to be handed to the sink.
type fetched struct {
	src *InstallSource
	// stream and archive are set for streaming installs, the stream is
	// teed into archive while the sink reads it.
	stream  io.ReadCloser
	archive io.WriteCloser
	file    io.Closer
	release func()
}

func (f *fetched) Close() {
	if f.stream != nil {
		f.stream.Close()
		f.stream = nil
	}
	if f.archive != nil {
		f.archive.Close()
		f.archive = nil
	}
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
	if f.release != nil {
		f.release()
		f.release = nil
	}
}

// installOrUpdate runs one task to completion. Every path ends in exactly
// one finishTask call.
func (s *Service) installOrUpdate(t Task) {
	start := s.clock.Now()
	s.rec.TaskStarted(t.Priority())
	result := ResultOK
	defer func() {
		s.rec.TaskFinished(t.Priority(), result, s.clock.Now().Sub(start))
	}()

	ctx := t.Context()
	if err := ctx.Err(); err != nil {
		result = s.failTask(t, err)
		return
	}
	if t.IsPackageReady(ctx, s.provider, s.installed) {
		s.log.Debug("%s: %s@%d already in place", t.Package(), t.Name(), t.Version())
		result = ResultCancel
		s.completeTask(t, false, NewInstallStatus(StatusFinished, ResultCancel, ErrorNone, s.ttl))
		return
	}

	f, err := s.fetch(ctx, t)
	if f != nil {
		defer f.Close()
	}
	if err != nil {
		result = s.failTask(t, err)
		return
	}
	inst, err := s.sink.CreateInstaller(ctx, t.Meta(), t.Name(), f.src)
	if err != nil {
		result = s.failTask(t, fmt.Errorf("create installer: %w", err))
		return
	}
	result = s.install(ctx, t, inst, f)
}

// fetch picks the archive source of a task: a matching cached archive, a
// live stream, or a download into the archive cache.
func (s *Service) fetch(ctx context.Context, t Task) (*fetched, error) {
	pkg, name, version := t.Package(), t.Name(), t.Version()

	if s.archives.Version(pkg, name) == version {
		r, err := s.archives.Open(pkg, name)
		if err != nil {
			return nil, err
		}
		s.log.Debug("%s: installing %s@%d from cached archive", pkg, name, version)
		return &fetched{
			src:  &InstallSource{Reader: r, Path: s.archives.Path(pkg, name), Version: version},
			file: r,
		}, nil
	}
	if t.ApplyUpdateOnly() {
		return nil, fmt.Errorf("%w: %s/%s@%d", ErrArchiveNotFound, pkg, name, version)
	}

	stream, err := s.provider.FetchAsStream(ctx, t.Meta(), name)
	if err != nil {
		return nil, err
	}
	if stream != nil {
		f := &fetched{stream: stream, release: s.beginStream(t)}
		w, err := s.archives.Create(pkg, name)
		if err != nil {
			return f, err
		}
		f.archive = w
		pr := &progressReader{ctx: ctx, r: stream, s: s, t: t, total: t.Size()}
		f.src = &InstallSource{Reader: io.TeeReader(pr, w), Version: version, Streaming: true}
		return f, nil
	}

	w, err := s.archives.Create(pkg, name)
	if err != nil {
		return nil, err
	}
	pw := &progressWriter{ctx: ctx, w: w, s: s, t: t, total: t.Size()}
	err = s.provider.FetchToFile(ctx, t.Meta(), name, pw)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if err := s.archives.SaveVersion(pkg, name, version); err != nil {
		return nil, err
	}
	r, err := s.archives.Open(pkg, name)
	if err != nil {
		return nil, err
	}
	return &fetched{
		src:  &InstallSource{Reader: r, Path: s.archives.Path(pkg, name), Version: version},
		file: r,
	}, nil
}

// install is the commit step. A denied semaphore keeps the fetched archive
// and its version tag for a later apply.
func (s *Service) install(ctx context.Context, t Task, inst Installer, f *fetched) ResultCode {
	pkg, name, version := t.Package(), t.Name(), t.Version()

	if !t.Semaphore().RequireInstall() {
		if f.src.Streaming {
			if err := s.finishArchive(t, f); err != nil {
				s.log.Warning("%s: keep delayed archive %s: %v", pkg, name, err)
			}
		}
		s.log.Info("%s: %s@%d delayed", pkg, name, version)
		s.completeTask(t, false, NewInstallStatus(StatusFinished, ResultCancel, ErrorNone, s.ttl))
		return ResultCancel
	}

	if f.src.Streaming {
		code := ErrorNone
		if s.streamObsolete(ctx, t) {
			code = ErrorCacheObsolete
		}
		s.reportTransient(t, NewInstallStatus(StatusStreaming, ResultOK, code, s.ttl))
	}
	if err := s.sink.Commit(ctx, inst); err != nil {
		return s.failTask(t, fmt.Errorf("commit: %w", err))
	}

	if err := s.installed.MarkInstalled(ctx, pkg, name, version); err != nil {
		s.log.Warning("%s: record installed %s@%d: %v", pkg, name, version, err)
	}
	f.Close()
	if err := s.archives.Remove(pkg, name); err != nil {
		s.log.Warning("%s: remove archive %s: %v", pkg, name, err)
	}
	s.completeTask(t, true, NewInstallStatus(StatusFinished, ResultOK, ErrorNone, s.ttl))
	return ResultOK
}

// finishArchive reads the rest of a stream into the archive cache and tags
// it with the task version.
func (s *Service) finishArchive(t Task, f *fetched) error {
	if _, err := io.Copy(io.Discard, f.src.Reader); err != nil {
		return err
	}
	err := f.archive.Close()
	f.archive = nil
	if err != nil {
		return err
	}
	return s.archives.SaveVersion(t.Package(), t.Name(), t.Version())
}

// failTask marks t failed and reports err as its final status.
func (s *Service) failTask(t Task, err error) ResultCode {
	st := NewErrorStatus(err, s.ttl)
	if errors.Is(err, context.Canceled) {
		s.log.Info("%s: %s cancelled", t.Package(), t.Key())
	} else {
		s.log.Error("%s: %s failed: %v", t.Package(), t.Key(), err)
	}
	s.finishTask(t, false, true, st)
	return st.ResultCode
}

type progressReader struct {
	ctx    context.Context
	r      io.Reader
	s      *Service
	t      Task
	loaded int64
	total  int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		p.s.progress.Update(p.t.Package(), p.t.Name(), p.loaded, max(p.total, p.loaded))
	}
	return n, err
}

type progressWriter struct {
	ctx    context.Context
	w      io.Writer
	s      *Service
	t      Task
	loaded int64
	total  int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	if n > 0 {
		p.loaded += int64(n)
		p.s.progress.Update(p.t.Package(), p.t.Name(), p.loaded, max(p.total, p.loaded))
	}
	return n, err
}
