package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"ftpshell/protocol"
)

// Options configures an Engine.
type Options struct {
	Mode         Mode
	Dialer       protocol.Dialer
	DataTimeout  time.Duration
	TOS          int
	ProgressStep int64
	Progress     func(Milestone)
	Logger       *zap.Logger
}

// Engine runs RETR, STOR and LIST over one authenticated control channel.
// It is not safe for concurrent use; background jobs each get their own.
type Engine struct {
	conn     *protocol.Conn
	mode     Mode
	neg      *Negotiator
	step     int64
	progress func(Milestone)
	logger   *zap.Logger
}

// NewEngine binds an engine to conn.
func NewEngine(conn *protocol.Conn, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	step := opts.ProgressStep
	if step <= 0 {
		step = DefaultProgressStep
	}
	return &Engine{
		conn: conn,
		mode: opts.Mode,
		neg: &Negotiator{
			Control: conn,
			Dialer:  opts.Dialer,
			Timeout: opts.DataTimeout,
			TOS:     opts.TOS,
			Logger:  logger,
		},
		step:     step,
		progress: opts.Progress,
		logger:   logger,
	}
}

// Mode returns the data connection mode the engine negotiates.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Download retrieves remote into local. A positive offset asks the server to
// restart there; the local file is appended to only if the server accepts.
func (e *Engine) Download(ctx context.Context, remote, local string, offset int64) (Result, error) {
	start := time.Now()
	if err := e.conn.Type(ctx, "I"); err != nil {
		return Result{}, err
	}

	if offset > 0 {
		resp, err := e.conn.Send(ctx, "REST %d", offset)
		if err != nil {
			return Result{}, err
		}
		if resp.Code != protocol.StatusRestartAccepted {
			e.logger.Info("restart rejected, downloading from the beginning",
				zap.String("remote", remote), zap.Int64("offset", offset), zap.Int("code", resp.Code))
			offset = 0
		}
	}

	file, err := openDestination(local, offset > 0)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		unlockFile(file)
		file.Close()
	}()

	n, err := e.transfer(ctx, "RETR "+remote, func(data net.Conn) (int64, error) {
		pr := &ProgressReader{Reader: data, Path: remote, Step: e.step, OnMilestone: e.progress}
		n, err := io.CopyBuffer(file, pr, make([]byte, bufferSize))
		if err != nil {
			return n, &protocol.IOError{Op: "download " + remote, Err: err}
		}
		return n, nil
	})
	return Result{Bytes: n, Offset: offset, Elapsed: time.Since(start)}, err
}

// openDestination opens local for writing and locks it. Without resume the
// file is truncated, but only once the lock is held.
func openDestination(local string, resume bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if resume {
		flags |= os.O_APPEND
	}
	file, err := os.OpenFile(local, flags, 0o644)
	if err != nil {
		return nil, &protocol.IOError{Op: "open " + local, Err: err}
	}
	if err := lockExclusive(file); err != nil {
		file.Close()
		return nil, &protocol.IOError{Op: "lock " + local, Err: err}
	}
	if !resume {
		if err := file.Truncate(0); err != nil {
			unlockFile(file)
			file.Close()
			return nil, &protocol.IOError{Op: "truncate " + local, Err: err}
		}
	}
	return file, nil
}

// Upload stores local as remote.
func (e *Engine) Upload(ctx context.Context, local, remote string) (Result, error) {
	start := time.Now()
	if err := e.conn.Type(ctx, "I"); err != nil {
		return Result{}, err
	}

	file, err := os.Open(local)
	if err != nil {
		return Result{}, &protocol.IOError{Op: "open " + local, Err: err}
	}
	defer file.Close()

	n, err := e.transfer(ctx, "STOR "+remote, func(data net.Conn) (int64, error) {
		pr := &ProgressReader{Reader: file, Path: remote, Step: e.step, OnMilestone: e.progress}
		n, err := io.CopyBuffer(data, pr, make([]byte, bufferSize))
		if err != nil {
			return n, &protocol.IOError{Op: "upload " + local, Err: err}
		}
		return n, nil
	})
	return Result{Bytes: n, Elapsed: time.Since(start)}, err
}

// List writes the server's LIST output for path to w. An empty path lists the
// current directory.
func (e *Engine) List(ctx context.Context, path string, w io.Writer) (int64, error) {
	if err := e.conn.Type(ctx, "A"); err != nil {
		return 0, err
	}

	command := "LIST"
	if path != "" {
		command += " " + path
	}
	return e.transfer(ctx, command, func(data net.Conn) (int64, error) {
		n, err := io.CopyBuffer(w, data, make([]byte, bufferSize))
		if err != nil {
			return n, &protocol.IOError{Op: "list", Err: err}
		}
		return n, nil
	})
}

// transfer runs the data connection lifecycle shared by every operation:
// negotiate, send command, require 150/125, stream, close, require 226.
func (e *Engine) transfer(ctx context.Context, command string, stream func(net.Conn) (int64, error)) (int64, error) {
	verb, _, _ := strings.Cut(command, " ")

	pending, err := e.neg.negotiate(ctx, e.mode)
	if err != nil {
		return 0, err
	}
	defer pending.Close()

	resp, err := e.conn.Send(ctx, "%s", command)
	if err != nil {
		return 0, err
	}
	if !resp.Is(protocol.StatusAboutToSend, protocol.StatusAlreadyOpen) {
		return 0, protocol.Unexpected(verb, resp)
	}

	data, err := pending.Open(ctx)
	if err != nil {
		// The server still owes a reply for the command it accepted.
		var result *multierror.Error
		result = multierror.Append(result, err)
		if final, rerr := e.conn.ReadResponse(ctx); rerr != nil {
			result = multierror.Append(result, rerr)
		} else {
			e.logger.Debug("reply after failed data connection", zap.String("command", verb), zap.Int("code", final.Code))
		}
		return 0, result.ErrorOrNil()
	}

	n, streamErr := stream(data)
	closeErr := pending.Close()

	var result *multierror.Error
	if streamErr != nil {
		result = multierror.Append(result, streamErr)
	}
	if closeErr != nil {
		result = multierror.Append(result, &protocol.IOError{Op: "close data connection", Err: closeErr})
	}

	final, err := e.conn.ReadResponse(ctx)
	switch {
	case err != nil:
		result = multierror.Append(result, err)
	case final.Code != protocol.StatusTransferDone:
		result = multierror.Append(result, protocol.Unexpected(verb, final))
	}

	if err := result.ErrorOrNil(); err != nil {
		return n, fmt.Errorf("%s: %w", verb, err)
	}
	e.logger.Debug("transfer complete", zap.String("command", verb), zap.Int64("bytes", n))
	return n, nil
}
