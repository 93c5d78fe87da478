package terminal

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftpshell/config"
	"ftpshell/ftptest"
	"ftpshell/protocol"
	"ftpshell/session"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func newSession(t *testing.T, srv *ftptest.Server, maxJobs int) *session.Session {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	cfg := &config.ClientConfig{
		Host:         host,
		Port:         p,
		User:         "anonymous",
		Mode:         "pasv",
		Timeout:      5 * time.Second,
		DataTimeout:  5 * time.Second,
		MaxJobs:      maxJobs,
		ProgressStep: 100 * 1024,
		ShutdownPoll: 10 * time.Millisecond,
		Theme:        "dark",
	}
	s, err := session.Connect(context.Background(), cfg, protocol.StaticPassword("guest"), session.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func startServer(t *testing.T, opts ...ftptest.Option) (*ftptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	srv, err := ftptest.NewServer(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, root
}

// runScript feeds lines to a shell and returns everything it printed.
func runScript(t *testing.T, client Client, lines ...string) (string, *Shell, error) {
	t.Helper()
	theme, err := NewThemeManager("dark")
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	sh := NewShell(client, theme, WithIO(in, &out))
	err = sh.Run(context.Background())
	return out.String(), sh, err
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"pwd", Command{Name: "pwd", Args: []string{}}},
		{"get a.txt b.txt", Command{Name: "get", Args: []string{"a.txt", "b.txt"}}},
		{`get "my file.txt" local`, Command{Name: "get", Args: []string{"my file.txt", "local"}}},
		{`put "a.txt"`, Command{Name: "put", Args: []string{"a.txt"}}},
		{`cd "two words here"`, Command{Name: "cd", Args: []string{"two words here"}}},
		{`cd "open ended`, Command{Name: "cd", Args: []string{`"open`, "ended"}}},
		{"  ls   /pub  ", Command{Name: "ls", Args: []string{"/pub"}}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCommand(tt.input))
		})
	}
}

func TestShell_ScriptedSession(t *testing.T) {
	srv, root := startServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("contents"), 0o644))
	s := newSession(t, srv, 10)

	dst := filepath.Join(t.TempDir(), "f.txt")
	out, sh, err := runScript(t, s,
		"mode",
		"mode port",
		"mode",
		"get f.txt "+dst,
		"jobs",
		"bogus arg",
		"quit",
	)
	require.NoError(t, err)
	assert.True(t, sh.Done())

	assert.Contains(t, out, "Mode: PASV")
	assert.Contains(t, out, "[ok] PORT")
	assert.Contains(t, out, "Mode: PORT")
	assert.Contains(t, out, "[ok] ID=1")
	assert.Contains(t, out, "Total: ")
	assert.Contains(t, out, "Unknown command: bogus")
	assert.Contains(t, out, "[closing]")
	assert.Contains(t, out, "[done] ID=1 exit=0")
	assert.Contains(t, out, "[ok] disconnected")

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(got))
	assert.True(t, srv.Received("PORT"))
	assert.True(t, srv.Received("QUIT"))
}

func TestShell_EndOfInputWaitsForJobs(t *testing.T) {
	srv, root := startServer(t, ftptest.WithDataDelay(20*time.Millisecond))
	payload := bytes.Repeat([]byte("z"), 64*1024)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), payload, 0o644))
	s := newSession(t, srv, 10)

	dst := filepath.Join(t.TempDir(), "big.bin")
	out, sh, err := runScript(t, s, "get big.bin "+dst)
	require.NoError(t, err)
	assert.True(t, sh.Done())
	assert.Contains(t, out, "[closing]")
	assert.Contains(t, out, "[done] ID=1 exit=0")

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestShell_UsageAndErrors(t *testing.T) {
	srv, _ := startServer(t)
	s := newSession(t, srv, 10)

	out, _, err := runScript(t, s,
		"get",
		"put",
		"cd",
		"mkdir",
		"delete",
		"cd nowhere",
		"put "+filepath.Join(t.TempDir(), "absent.txt"),
		"theme neon",
		"quit",
	)
	require.NoError(t, err)

	for _, usage := range []string{
		"Usage: get <remote> [local]",
		"Usage: put <local> [remote]",
		"Usage: cd <dir>",
		"Usage: mkdir <dir>",
		"Usage: delete <file>",
	} {
		assert.Contains(t, out, usage)
	}
	assert.Contains(t, out, "[error] ftp: CWD")
	assert.Contains(t, out, "absent.txt")
	assert.Contains(t, out, "unknown theme: neon")
	assert.Contains(t, out, "[ok] disconnected")
}

func TestShell_DirectoryCommands(t *testing.T) {
	srv, root := startServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644))
	s := newSession(t, srv, 10)

	theme, err := NewThemeManager("dark")
	require.NoError(t, err)
	var out bytes.Buffer
	sh := NewShell(s, theme, WithIO(strings.NewReader(""), &out))

	sh.Execute("mkdir docs")
	sh.Execute("delete b.txt")
	sh.Execute("ls")
	assert.Contains(t, out.String(), "a.txt")
	assert.Contains(t, out.String(), "docs")
	assert.NotContains(t, out.String(), "b.txt")

	suggestions := sh.completer.Completer(document("get a"))
	require.Len(t, suggestions, 1)
	assert.Equal(t, "a.txt", suggestions[0].Text)
	suggestions = sh.completer.Completer(document("cd d"))
	require.Len(t, suggestions, 1)
	assert.Equal(t, "docs", suggestions[0].Text)

	out.Reset()
	sh.Execute("cd docs")
	sh.Execute("pwd")
	assert.Contains(t, out.String(), "/docs")
	assert.Empty(t, sh.completer.Completer(document("get a")))
}

func TestShell_CapacityReported(t *testing.T) {
	srv, root := startServer(t, ftptest.WithDataDelay(50*time.Millisecond))
	require.NoError(t, os.WriteFile(filepath.Join(root, "slow.bin"), bytes.Repeat([]byte("s"), 64*1024), 0o644))
	s := newSession(t, srv, 1)

	dir := t.TempDir()
	out, _, err := runScript(t, s,
		"get slow.bin "+filepath.Join(dir, "one.bin"),
		"get slow.bin "+filepath.Join(dir, "two.bin"),
		"quit",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "[ok] ID=1")
	assert.Contains(t, out, "[error] transfer limit reached (1 active jobs)")
	assert.NotContains(t, out, "ID=2")
}

func TestShell_Theme(t *testing.T) {
	srv, _ := startServer(t)
	s := newSession(t, srv, 10)

	out, sh, err := runScript(t, s, "theme", "theme light", "quit")
	require.NoError(t, err)
	assert.Contains(t, out, "Theme: dark (available: dark, light)")
	assert.Contains(t, out, "[ok] theme light")
	assert.Equal(t, "light", sh.theme.GetThemeName())
}
