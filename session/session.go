// Package session ties the foreground control channel, the transfer mode and
// the background job table together. It replaces process-wide state: every
// shell command goes through a *Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"ftpshell/config"
	"ftpshell/jobs"
	"ftpshell/logging"
	"ftpshell/protocol"
	"ftpshell/transfer"
)

// Options holds the collaborators of a Session. Zero values are usable.
type Options struct {
	Dialer   protocol.Dialer
	Observer protocol.Observer // foreground transcript
	Logger   *zap.Logger
	Recorder jobs.Recorder
}

// Session is one logged-in client.
type Session struct {
	cfg    *config.ClientConfig
	login  config.LoginConfig
	conn   *protocol.Conn
	dialer protocol.Dialer
	logger *zap.Logger
	sup    *jobs.Supervisor

	mu   sync.Mutex
	mode transfer.Mode
	cwd  string // absolute remote directory after the last cd, "" before any

	closeOnce sync.Once
}

// Connect dials the server, checks the greeting and logs in. The password
// function is only called if the server asks for one.
func Connect(ctx context.Context, cfg *config.ClientConfig, password protocol.PasswordFunc, opts Options) (*Session, error) {
	opts = withDefaults(opts)

	conn, err := protocol.Open(ctx, opts.Dialer, cfg.Address(),
		protocol.WithObserver(opts.Observer),
		protocol.WithTimeout(cfg.Timeout))
	if err != nil {
		return nil, err
	}

	pass, err := conn.Login(ctx, cfg.User, password)
	if err != nil {
		conn.Close()
		return nil, err
	}
	opts.Logger.Info("logged in", zap.String("server", cfg.Address()), zap.String("user", cfg.User))
	return New(conn, cfg, cfg.Login(pass), opts), nil
}

// New wraps an authenticated control channel. login is what background jobs
// use to open their own channels.
func New(conn *protocol.Conn, cfg *config.ClientConfig, login config.LoginConfig, opts Options) *Session {
	opts = withDefaults(opts)
	s := &Session{
		cfg:    cfg,
		login:  login,
		conn:   conn,
		dialer: opts.Dialer,
		logger: opts.Logger,
		mode:   cfg.TransferMode(),
	}
	s.sup = jobs.New(cfg.MaxJobs, s.runJob,
		jobs.WithLogger(opts.Logger),
		jobs.WithRecorder(opts.Recorder))
	return s
}

func withDefaults(opts Options) Options {
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}

// Mode returns the current data connection mode.
func (s *Session) Mode() transfer.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the data connection mode for later transfers. Running
// jobs keep the mode they were submitted with.
func (s *Session) SetMode(m transfer.Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.logger.Info("transfer mode", zap.Stringer("mode", m))
}

func (s *Session) workDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Get starts a background download. An empty local name uses the base name
// of remote.
func (s *Session) Get(remote, local string) (int, error) {
	if local == "" {
		local = path.Base(remote)
	}
	return s.sup.Submit(jobs.Download, local, remote,
		jobs.WithMode(s.Mode()), jobs.WithDir(s.workDir()))
}

// Reget resumes a download from the size of the existing local file.
func (s *Session) Reget(remote, local string) (int, error) {
	if local == "" {
		local = path.Base(remote)
	}
	var offset int64
	info, err := os.Stat(local)
	switch {
	case err == nil:
		offset = info.Size()
	case !errors.Is(err, os.ErrNotExist):
		return 0, &protocol.IOError{Op: "stat " + local, Err: err}
	}
	return s.sup.Submit(jobs.Download, local, remote,
		jobs.WithMode(s.Mode()), jobs.WithDir(s.workDir()), jobs.WithOffset(offset))
}

// Put starts a background upload. An empty remote name uses the base name of
// local.
func (s *Session) Put(local, remote string) (int, error) {
	if _, err := os.Stat(local); err != nil {
		return 0, &protocol.IOError{Op: "stat " + local, Err: err}
	}
	if remote == "" {
		remote = filepath.Base(local)
	}
	return s.sup.Submit(jobs.Upload, local, remote,
		jobs.WithMode(s.Mode()), jobs.WithDir(s.workDir()))
}

// List writes a directory listing to w over the foreground channel.
func (s *Session) List(ctx context.Context, dir string, w io.Writer) error {
	_, err := s.engine(s.conn, s.Mode(), nil).List(ctx, dir, w)
	return err
}

// Pwd returns the remote working directory.
func (s *Session) Pwd(ctx context.Context) (string, error) {
	return s.conn.Pwd(ctx)
}

// Cwd changes the remote working directory. Background jobs submitted
// afterwards start in the new directory too.
func (s *Session) Cwd(ctx context.Context, dir string) error {
	if err := s.conn.Cwd(ctx, dir); err != nil {
		return err
	}
	abs, err := s.conn.Pwd(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cwd = abs
	s.mu.Unlock()
	return nil
}

// Mkdir creates a remote directory.
func (s *Session) Mkdir(ctx context.Context, dir string) error {
	return s.conn.Mkd(ctx, dir)
}

// Delete removes a remote file.
func (s *Session) Delete(ctx context.Context, name string) error {
	return s.conn.Dele(ctx, name)
}

// Reap collects finished background jobs.
func (s *Session) Reap() []jobs.Outcome {
	return s.sup.Reap()
}

// Jobs lists the background jobs still running.
func (s *Session) Jobs() []jobs.Job {
	return s.sup.List()
}

// Capacity is the maximum number of concurrent background jobs.
func (s *Session) Capacity() int {
	return s.sup.Capacity()
}

// Shutdown waits for every background job, calling onWait between polls,
// then says goodbye to the server and closes the channel.
func (s *Session) Shutdown(ctx context.Context, onWait func(active int)) ([]jobs.Outcome, error) {
	var result *multierror.Error

	outcomes, err := s.sup.Wait(ctx, s.cfg.ShutdownPoll, onWait)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("waiting for jobs: %w", err))
	}
	if err := s.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return outcomes, result.ErrorOrNil()
}

// Close sends QUIT and closes the foreground channel without waiting for
// jobs. Only the first call does anything.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Quit(ctx)
	})
	return err
}

func (s *Session) engine(conn *protocol.Conn, mode transfer.Mode, progress func(transfer.Milestone)) *transfer.Engine {
	return transfer.NewEngine(conn, transfer.Options{
		Mode:         mode,
		Dialer:       s.dialer,
		DataTimeout:  s.cfg.DataTimeout,
		TOS:          s.cfg.DataTOS,
		ProgressStep: s.cfg.ProgressStep,
		Progress:     progress,
		Logger:       s.logger,
	})
}

// runJob is the worker body of a background job. It opens and authenticates
// a control channel of its own so the foreground channel is never shared.
func (s *Session) runJob(ctx context.Context, job jobs.Job) (transfer.Result, error) {
	logger := s.logger.With(zap.Int("job", job.ID))

	conn, err := protocol.Open(ctx, s.dialer, s.login.Address,
		protocol.WithObserver(logging.NewObserver(s.logger, fmt.Sprintf("job-%d", job.ID))),
		protocol.WithTimeout(s.login.Timeout))
	if err != nil {
		return transfer.Result{}, err
	}
	defer func() {
		if err := conn.Quit(ctx); err != nil {
			logger.Debug("quit", zap.Error(err))
		}
	}()

	if _, err := conn.Login(ctx, s.login.Username, protocol.StaticPassword(s.login.Password)); err != nil {
		return transfer.Result{}, err
	}
	if job.Dir != "" {
		if err := conn.Cwd(ctx, job.Dir); err != nil {
			return transfer.Result{}, err
		}
	}

	e := s.engine(conn, job.Mode, func(m transfer.Milestone) {
		logger.Info("progress", zap.String("remote", m.Path), zap.Int64("kb", m.Bytes/1024))
	})
	switch job.Kind {
	case jobs.Download:
		return e.Download(ctx, job.RemotePath, job.LocalPath, job.Offset)
	case jobs.Upload:
		return e.Upload(ctx, job.LocalPath, job.RemotePath)
	default:
		return transfer.Result{}, fmt.Errorf("unknown job kind %v", job.Kind)
	}
}
