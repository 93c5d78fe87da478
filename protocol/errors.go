package protocol

import "fmt"

// ProtocolError is returned when the server answers with an unexpected status,
// sends something that can not be parsed, or hangs up in the middle of a reply.
type ProtocolError struct {
	Command  string // command that was sent, empty for unsolicited replies
	Code     int    // status code received, 0 when none was read
	Response string // reply text as received
	Err      error  // underlying cause, if any
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Err != nil && e.Code != 0:
		return fmt.Sprintf("ftp: %s: unexpected reply %d %s: %v", e.commandName(), e.Code, e.Response, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("ftp: %s: %v", e.commandName(), e.Err)
	default:
		return fmt.Sprintf("ftp: %s: unexpected reply %d %s", e.commandName(), e.Code, e.Response)
	}
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) commandName() string {
	if e.Command == "" {
		return "reply"
	}
	return e.Command
}

// IOError wraps a failed read or write on a socket or a local file.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ftp: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// AuthError reports a login that did not end with status 230.
type AuthError struct {
	User     string
	Code     int
	Response string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ftp: authentication failed for %q: %d %s", e.User, e.Code, e.Response)
}

// Unexpected builds the ProtocolError for a reply with the wrong status.
func Unexpected(command string, resp *Response) *ProtocolError {
	return &ProtocolError{
		Command:  command,
		Code:     resp.Code,
		Response: resp.Message(),
	}
}
