// Package ftptest runs a small FTP server on the loopback interface for tests.
// It serves a directory tree, supports passive and active data connections and
// lets a test force specific replies to exercise client error paths.
package ftptest

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reply is a canned status line.
type Reply struct {
	Code    int
	Message string
}

// Server is an FTP server bound to 127.0.0.1 on a random port.
type Server struct {
	root     string
	users    map[string]string
	greeting []string
	logger   *zap.Logger

	overrides  map[string]Reply
	finalReply *Reply
	dataDelay  time.Duration

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands []string
	sessions map[*session]struct{}
	closed   bool
}

// Option customizes a Server.
type Option func(*Server)

// WithUser registers an account. An empty password logs the user in on USER
// without asking for PASS.
func WithUser(user, password string) Option {
	return func(s *Server) {
		s.users[user] = password
	}
}

// WithReply makes the server answer verb with r and do nothing else.
func WithReply(verb string, r Reply) Option {
	return func(s *Server) {
		s.overrides[strings.ToUpper(verb)] = r
	}
}

// WithFinalReply replaces the 226 sent after a completed transfer.
func WithFinalReply(r Reply) Option {
	return func(s *Server) {
		s.finalReply = &r
	}
}

// WithGreeting replaces the greeting lines. Each line must carry its own code.
func WithGreeting(lines ...string) Option {
	return func(s *Server) {
		s.greeting = lines
	}
}

// WithDataDelay slows every data connection write by d, to keep transfers
// running long enough for concurrency tests.
func WithDataDelay(d time.Duration) Option {
	return func(s *Server) {
		s.dataDelay = d
	}
}

// WithLogger logs every session event to l.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer starts serving root. Close must be called to release the port.
func NewServer(root string, opts ...Option) (*Server, error) {
	s := &Server{
		root:      root,
		users:     make(map[string]string),
		greeting:  []string{"220-ftptest server", "220 Service ready"},
		logger:    zap.NewNop(),
		overrides: make(map[string]Reply),
		sessions:  make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.users) == 0 {
		s.users["anonymous"] = ""
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("ftptest: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns host:port of the control listener.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Commands returns every command line received so far, across all sessions.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Received reports whether any session sent a command starting with verb.
func (s *Server) Received(verb string) bool {
	verb = strings.ToUpper(verb)
	for _, c := range s.Commands() {
		if c == verb || strings.HasPrefix(strings.ToUpper(c), verb+" ") {
			return true
		}
	}
	return false
}

// Close stops accepting, disconnects every session and waits for them.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for sess := range s.sessions {
		sess.control.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}

		sess := newSession(s, conn)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) record(line string) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

func (s *Server) override(verb string) (Reply, bool) {
	r, ok := s.overrides[verb]
	return r, ok
}

// session is one control connection.
type session struct {
	server  *Server
	control net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	user          string
	authenticated bool
	currentDir    string
	transferType  string
	restartPos    int64

	pasvListener net.Listener
	activeAddr   string
	dataConn     net.Conn
}

func newSession(s *Server, conn net.Conn) *session {
	return &session{
		server:       s,
		control:      conn,
		reader:       bufio.NewReader(conn),
		currentDir:   "/",
		transferType: "A",
	}
}

func (sess *session) run() {
	defer sess.control.Close()
	defer sess.CloseDataConnection()

	for _, line := range sess.server.greeting {
		sess.writeLine(line)
	}

	for {
		line, err := sess.reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		sess.server.record(line)
		if quit := sess.HandleCommand(line); quit {
			return
		}
	}
}

// SendResponse writes a single line reply.
func (sess *session) SendResponse(code int, message string) {
	sess.writeLine(fmt.Sprintf("%d %s", code, message))
}

func (sess *session) writeLine(line string) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	fmt.Fprintf(sess.control, "%s\r\n", line)
}

func (sess *session) LogPrintf(format string, args ...interface{}) {
	sess.server.logger.Sugar().Debugf(format, args...)
}
