package protocol

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Dialer opens the raw TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures a Conn.
type Option func(*Conn)

// WithObserver sets the sink that sees every command and reply.
func WithObserver(o Observer) Option {
	return func(c *Conn) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTimeout sets the per-command read/write deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.timeout = d
	}
}

// Conn is a control channel. Only one command is in flight at a time.
type Conn struct {
	conn     net.Conn
	reader   *bufio.Reader
	observer Observer
	timeout  time.Duration

	mu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an already connected socket. It does not read the greeting.
func NewConn(nc net.Conn, opts ...Option) *Conn {
	c := &Conn{
		conn:     nc,
		reader:   bufio.NewReader(nc),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open dials addr, reads the server greeting and requires status 220.
func Open(ctx context.Context, d Dialer, addr string, opts ...Option) (*Conn, error) {
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &IOError{Op: "dial " + addr, Err: err}
	}

	c := NewConn(nc, opts...)
	greeting, err := c.ReadResponse(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	if greeting.Code != StatusReady {
		c.Close()
		return nil, Unexpected("greeting", greeting)
	}
	return c, nil
}

// Send writes one command line and returns the reply.
func (c *Conn) Send(ctx context.Context, format string, args ...any) (*Response, error) {
	line := fmt.Sprintf(format, args...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLine(ctx, line); err != nil {
		return nil, err
	}
	return c.read(ctx)
}

// Expect sends a command and fails with a ProtocolError unless the reply
// carries one of codes.
func (c *Conn) Expect(ctx context.Context, codes []int, format string, args ...any) (*Response, error) {
	resp, err := c.Send(ctx, format, args...)
	if err != nil {
		return nil, err
	}
	if !resp.Is(codes...) {
		return resp, Unexpected(verb(fmt.Sprintf(format, args...)), resp)
	}
	return resp, nil
}

// ReadResponse reads one more reply without sending anything, e.g. the final
// status after a data transfer.
func (c *Conn) ReadResponse(ctx context.Context) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(ctx)
}

func (c *Conn) writeLine(ctx context.Context, line string) error {
	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return &IOError{Op: "set write deadline for " + verb(line), Err: err}
	}
	c.observer.CommandSent(mask(line))

	// Command and terminator go out in a single write.
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		return &IOError{Op: "write " + verb(line), Err: err}
	}
	return nil
}

func (c *Conn) read(ctx context.Context) (*Response, error) {
	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		return nil, &IOError{Op: "set read deadline", Err: err}
	}
	resp, err := ReadResponse(c.reader)
	if err != nil {
		return nil, err
	}
	c.observer.ResponseReceived(resp)
	return resp, nil
}

// deadline picks the context deadline when set, the timeout otherwise.
func (c *Conn) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if c.timeout > 0 {
		return time.Now().Add(c.timeout)
	}
	return time.Time{}
}

// LocalAddr is the address the server sees this client as.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr is the server end of the control channel.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Timeout returns the per-command timeout.
func (c *Conn) Timeout() time.Duration {
	return c.timeout
}

// Close closes the socket. Calling it more than once is harmless.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// verb returns the command name of a command line.
func verb(line string) string {
	if i := strings.IndexByte(line, ' '); i > 0 {
		return line[:i]
	}
	return line
}

// mask hides the argument of PASS before it reaches any observer.
func mask(line string) string {
	if strings.HasPrefix(strings.ToUpper(line), "PASS ") {
		return "PASS ****"
	}
	return line
}
