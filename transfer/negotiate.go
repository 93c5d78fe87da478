package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"ftpshell/protocol"
)

// DefaultDataTimeout bounds how long an active-mode listener waits for the
// server to connect back.
const DefaultDataTimeout = 30 * time.Second

// Negotiator opens data connections for one control channel.
type Negotiator struct {
	Control *protocol.Conn
	Dialer  protocol.Dialer
	Timeout time.Duration // accept timeout in active mode
	TOS     int           // IPv4 TOS byte for data connections, 0 leaves it alone
	Logger  *zap.Logger
}

// negotiate prepares a data connection in the given mode. In passive mode the
// connection is already established when it returns; in active mode the caller
// must send the transfer command before calling Open on the result.
func (n *Negotiator) negotiate(ctx context.Context, mode Mode) (*pendingData, error) {
	switch mode {
	case Passive:
		return n.passive(ctx)
	case Active:
		return n.active(ctx)
	default:
		return nil, fmt.Errorf("unsupported transfer mode %v", mode)
	}
}

func (n *Negotiator) passive(ctx context.Context) (*pendingData, error) {
	resp, err := n.Control.Send(ctx, "PASV")
	if err != nil {
		return nil, err
	}
	if resp.Code != protocol.StatusPassiveMode {
		return nil, protocol.Unexpected("PASV", resp)
	}

	addr, err := ParsePASV(resp.Text)
	if err != nil {
		return nil, &protocol.ProtocolError{Command: "PASV", Code: resp.Code, Response: resp.Message(), Err: err}
	}
	// Some servers behind NAT advertise 0.0.0.0; reuse the control host then.
	if addr.IP.IsUnspecified() {
		if host, ok := n.Control.RemoteAddr().(*net.TCPAddr); ok {
			addr.IP = host.IP
		}
	}

	conn, err := n.dialer().DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, &protocol.ProtocolError{Command: "PASV", Code: resp.Code, Response: resp.Message(),
			Err: &protocol.IOError{Op: "dial data " + addr.String(), Err: err}}
	}
	n.logger().Debug("data connection opened", zap.String("mode", "PASV"), zap.Stringer("addr", addr))
	n.applyTOS(conn)
	return &pendingData{conn: conn}, nil
}

func (n *Negotiator) active(ctx context.Context) (*pendingData, error) {
	local, ok := n.Control.LocalAddr().(*net.TCPAddr)
	if !ok || local.IP.To4() == nil {
		return nil, &protocol.ProtocolError{
			Command: "PORT",
			Err:     fmt.Errorf("control connection local address %v is not IPv4", n.Control.LocalAddr()),
		}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp4", "0.0.0.0:0")
	if err != nil {
		return nil, &protocol.ProtocolError{Command: "PORT", Err: fmt.Errorf("listen: %w", err)}
	}
	port := ln.Addr().(*net.TCPAddr).Port

	arg, err := FormatPORT(local.IP, port)
	if err != nil {
		ln.Close()
		return nil, &protocol.ProtocolError{Command: "PORT", Err: err}
	}
	resp, err := n.Control.Send(ctx, "PORT %s", arg)
	if err != nil {
		ln.Close()
		return nil, err
	}
	if resp.Code != protocol.StatusCommandOK {
		ln.Close()
		return nil, protocol.Unexpected("PORT", resp)
	}

	n.logger().Debug("data listener ready", zap.String("mode", "PORT"), zap.Int("port", port))
	return &pendingData{listener: ln, timeout: n.timeout(), applyTOS: n.applyTOS}, nil
}

func (n *Negotiator) dialer() protocol.Dialer {
	if n.Dialer != nil {
		return n.Dialer
	}
	return &net.Dialer{Timeout: n.timeout()}
}

func (n *Negotiator) timeout() time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return DefaultDataTimeout
}

func (n *Negotiator) logger() *zap.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return zap.NewNop()
}

// applyTOS marks the data connection for QoS. Failure only costs the marking.
func (n *Negotiator) applyTOS(c net.Conn) {
	if n.TOS <= 0 {
		return
	}
	if err := ipv4.NewConn(c).SetTOS(n.TOS); err != nil {
		n.logger().Warn("set data connection TOS", zap.Int("tos", n.TOS), zap.Error(err))
	}
}

// pendingData is a data connection on its way up: either already dialed
// (passive) or a listener the server has yet to connect to (active).
type pendingData struct {
	conn     net.Conn
	listener net.Listener
	timeout  time.Duration
	applyTOS func(net.Conn)
}

// Open returns the data connection, accepting the server's connection first
// in active mode.
func (p *pendingData) Open(ctx context.Context) (net.Conn, error) {
	if p.conn != nil {
		return p.conn, nil
	}
	if p.listener == nil {
		return nil, errors.New("data connection already closed")
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if dl, ok := p.listener.(interface{ SetDeadline(time.Time) error }); ok {
		if err := dl.SetDeadline(deadline); err != nil {
			p.listener.Close()
			p.listener = nil
			return nil, &protocol.IOError{Op: "set accept deadline", Err: err}
		}
	}

	conn, err := p.listener.Accept()
	p.listener.Close()
	p.listener = nil
	if err != nil {
		return nil, &protocol.IOError{Op: "accept data connection", Err: err}
	}
	if p.applyTOS != nil {
		p.applyTOS(conn)
	}
	p.conn = conn
	return conn, nil
}

// Close releases whatever is still held. Safe to call more than once.
func (p *pendingData) Close() error {
	var err error
	if p.listener != nil {
		err = p.listener.Close()
		p.listener = nil
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
		p.conn = nil
	}
	return err
}

// ParsePASV extracts the data address from a 227 reply. The tuple is the
// first parenthesized group in the text:
//
//	227 Entering Passive Mode (192,168,1,10,4,1).  ->  192.168.1.10:1025
func ParsePASV(text string) (*net.TCPAddr, error) {
	start := strings.IndexByte(text, '(')
	if start < 0 {
		return nil, fmt.Errorf("no address tuple in %q", text)
	}
	end := strings.IndexByte(text[start:], ')')
	if end < 0 {
		return nil, fmt.Errorf("unterminated address tuple in %q", text)
	}

	fields := strings.Split(text[start+1:start+end], ",")
	if len(fields) != 6 {
		return nil, fmt.Errorf("address tuple has %d fields, want 6", len(fields))
	}
	var nums [6]int
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || v < 0 || v > 255 {
			return nil, fmt.Errorf("invalid address tuple field %q", f)
		}
		nums[i] = v
	}

	return &net.TCPAddr{
		IP:   net.IPv4(byte(nums[0]), byte(nums[1]), byte(nums[2]), byte(nums[3])),
		Port: nums[4]*256 + nums[5],
	}, nil
}

// FormatPORT encodes an IPv4 address and port as the PORT argument
// "h1,h2,h3,h4,p1,p2".
func FormatPORT(ip net.IP, port int) (string, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return "", fmt.Errorf("%v is not an IPv4 address", ip)
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("port %d out of range", port)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], port/256, port%256), nil
}
