package protocol

import (
	"context"
	"errors"
	"strings"
)

// PasswordFunc supplies the password once the server asks for one (331).
type PasswordFunc func() (string, error)

// StaticPassword returns a PasswordFunc that always answers pass.
func StaticPassword(pass string) PasswordFunc {
	return func() (string, error) { return pass, nil }
}

// Login runs USER and, if the server demands it, PASS. It returns the password
// that was sent ("" when the server logged the user in straight away).
func (c *Conn) Login(ctx context.Context, user string, password PasswordFunc) (string, error) {
	resp, err := c.Send(ctx, "USER %s", user)
	if err != nil {
		return "", err
	}

	var pass string
	if resp.Code == StatusUserOK {
		if password == nil {
			return "", errors.New("ftp: server requires a password")
		}
		if pass, err = password(); err != nil {
			return "", err
		}
		if resp, err = c.Send(ctx, "PASS %s", pass); err != nil {
			return "", err
		}
	}

	if resp.Code != StatusLoggedIn {
		return "", &AuthError{User: user, Code: resp.Code, Response: resp.Message()}
	}
	return pass, nil
}

// Type switches the representation type: "I" for binary, "A" for ASCII.
func (c *Conn) Type(ctx context.Context, t string) error {
	resp, err := c.Send(ctx, "TYPE %s", t)
	if err != nil {
		return err
	}
	if !resp.Positive() {
		return Unexpected("TYPE", resp)
	}
	return nil
}

// Pwd returns the current remote directory.
func (c *Conn) Pwd(ctx context.Context) (string, error) {
	resp, err := c.Expect(ctx, []int{StatusPathCreated}, "PWD")
	if err != nil {
		return "", err
	}
	return quotedPath(resp.Message()), nil
}

// Cwd changes the remote directory.
func (c *Conn) Cwd(ctx context.Context, dir string) error {
	resp, err := c.Send(ctx, "CWD %s", dir)
	if err != nil {
		return err
	}
	if !resp.Positive() {
		return Unexpected("CWD", resp)
	}
	return nil
}

// Mkd creates a remote directory.
func (c *Conn) Mkd(ctx context.Context, dir string) error {
	resp, err := c.Send(ctx, "MKD %s", dir)
	if err != nil {
		return err
	}
	if !resp.Positive() {
		return Unexpected("MKD", resp)
	}
	return nil
}

// Dele removes a remote file.
func (c *Conn) Dele(ctx context.Context, path string) error {
	resp, err := c.Send(ctx, "DELE %s", path)
	if err != nil {
		return err
	}
	if !resp.Positive() {
		return Unexpected("DELE", resp)
	}
	return nil
}

// Noop checks the channel is still alive.
func (c *Conn) Noop(ctx context.Context) error {
	_, err := c.Expect(ctx, []int{StatusCommandOK}, "NOOP")
	return err
}

// Quit says goodbye and closes the channel. The reply code is not checked,
// the socket is closed either way.
func (c *Conn) Quit(ctx context.Context) error {
	_, err := c.Send(ctx, "QUIT")
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// quotedPath extracts the path from a 257 reply: `"/pub" is the current directory`.
func quotedPath(msg string) string {
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return strings.TrimSpace(msg)
	}
	end := strings.LastIndexByte(msg, '"')
	if end <= start {
		return strings.TrimSpace(msg)
	}
	return strings.ReplaceAll(msg[start+1:end], `""`, `"`)
}
