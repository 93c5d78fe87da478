package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxResponseSize bounds the accumulated text of a single reply. Servers that
// send more than this in one reply are treated as out of sync.
const MaxResponseSize = 64 * 1024

// Status codes the client acts on.
const (
	StatusAlreadyOpen     = 125
	StatusAboutToSend     = 150
	StatusCommandOK       = 200
	StatusSystem          = 211
	StatusReady           = 220
	StatusClosing         = 221
	StatusTransferDone    = 226
	StatusPassiveMode     = 227
	StatusLoggedIn        = 230
	StatusFileActionOK    = 250
	StatusPathCreated     = 257
	StatusUserOK          = 331
	StatusRestartAccepted = 350
)

// Response is one complete reply read from the control channel.
type Response struct {
	Code  int
	Lines []string // every line of the reply, CR/LF stripped
	Text  string   // Lines concatenated with no separator
}

// Message returns the reply text of the final line without its status code.
func (r *Response) Message() string {
	if len(r.Lines) == 0 {
		return ""
	}
	last := r.Lines[len(r.Lines)-1]
	if len(last) > 4 {
		return last[4:]
	}
	return ""
}

// Is reports whether the reply carries any of the given codes.
func (r *Response) Is(codes ...int) bool {
	for _, c := range codes {
		if r.Code == c {
			return true
		}
	}
	return false
}

// Positive reports a 2xx completion reply.
func (r *Response) Positive() bool {
	return r.Code >= 200 && r.Code < 300
}

func (r *Response) String() string {
	return r.Text
}

// IsFinalLine reports whether line ends a reply: the fourth character is a
// space. A hyphen there (or anything else) marks a continuation line.
func IsFinalLine(line string) bool {
	return len(line) >= 4 && line[3] == ' '
}

// ReadResponse reads one reply, single or multi-line, from r.
//
//	"150-Here comes the listing\r\n"   continuation
//	"150 Opening data connection\r\n"  final
func ReadResponse(r *bufio.Reader) (*Response, error) {
	resp := &Response{}
	size := 0

	for {
		line, err := r.ReadString('\n')
		eof := errors.Is(err, io.EOF)
		if err != nil && !(eof && line != "") {
			if eof {
				return nil, unexpectedEOF(resp.Code)
			}
			return nil, &IOError{Op: "read reply", Err: err}
		}
		line = strings.TrimRight(line, "\r\n")

		if len(resp.Lines) == 0 {
			code, err := parseCode(line)
			if err != nil {
				return nil, err
			}
			resp.Code = code
		}

		size += len(line)
		if size > MaxResponseSize {
			return nil, &ProtocolError{
				Code: resp.Code,
				Err:  fmt.Errorf("reply exceeds %d bytes", MaxResponseSize),
			}
		}
		resp.Lines = append(resp.Lines, line)

		if IsFinalLine(line) {
			break
		}
		if eof {
			return nil, unexpectedEOF(resp.Code)
		}
	}

	resp.Text = strings.Join(resp.Lines, "")
	return resp, nil
}

func unexpectedEOF(code int) error {
	return &ProtocolError{Code: code, Err: fmt.Errorf("connection closed before end of reply: %w", io.ErrUnexpectedEOF)}
}

// parseCode takes the leading three digit status from the first line of a reply.
func parseCode(line string) (int, error) {
	if len(line) < 3 {
		return 0, &ProtocolError{Response: line, Err: fmt.Errorf("reply line too short: %q", line)}
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || code < 100 || code > 599 {
		return 0, &ProtocolError{Response: line, Err: fmt.Errorf("invalid status code in %q", line)}
	}
	return code, nil
}
