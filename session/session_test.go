package session

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftpshell/config"
	"ftpshell/ftptest"
	"ftpshell/jobs"
	"ftpshell/protocol"
	"ftpshell/transfer"
)

func testConfig(t *testing.T, srv *ftptest.Server) *config.ClientConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return &config.ClientConfig{
		Host:         host,
		Port:         p,
		User:         "alice",
		Mode:         "pasv",
		Timeout:      5 * time.Second,
		DataTimeout:  5 * time.Second,
		MaxJobs:      jobs.DefaultCapacity,
		ProgressStep: transfer.DefaultProgressStep,
		ShutdownPoll: 10 * time.Millisecond,
		Theme:        "dark",
	}
}

func startServer(t *testing.T, opts ...ftptest.Option) (*ftptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	srv, err := ftptest.NewServer(root, append([]ftptest.Option{ftptest.WithUser("alice", "secret")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, root
}

func connect(t *testing.T, srv *ftptest.Server, mutate ...func(*config.ClientConfig)) *Session {
	t.Helper()
	cfg := testConfig(t, srv)
	for _, fn := range mutate {
		fn(cfg)
	}
	s, err := Connect(context.Background(), cfg, protocol.StaticPassword("secret"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// waitOutcomes reaps until n jobs finished.
func waitOutcomes(t *testing.T, s *Session, n int) []jobs.Outcome {
	t.Helper()
	var out []jobs.Outcome
	require.Eventually(t, func() bool {
		out = append(out, s.Reap()...)
		return len(out) >= n
	}, 10*time.Second, 10*time.Millisecond)
	return out
}

func TestConnect_PromptsForPasswordOnlyWhenAsked(t *testing.T) {
	srv, _ := startServer(t)
	cfg := testConfig(t, srv)

	asked := 0
	s, err := Connect(context.Background(), cfg, func() (string, error) {
		asked++
		return "secret", nil
	}, Options{})
	require.NoError(t, err)
	defer s.Close(context.Background())

	assert.Equal(t, 1, asked)
	assert.Equal(t, []string{"USER alice", "PASS secret"}, srv.Commands()[:2])
}

func TestConnect_AuthFailure(t *testing.T) {
	srv, _ := startServer(t)
	cfg := testConfig(t, srv)

	_, err := Connect(context.Background(), cfg, protocol.StaticPassword("wrong"), Options{})
	var authErr *protocol.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 530, authErr.Code)
}

func TestSession_PutThenGet(t *testing.T) {
	srv, root := startServer(t)
	s := connect(t, srv)

	payload := bytes.Repeat([]byte("payload "), 50000)
	local := filepath.Join(t.TempDir(), "up.bin")
	require.NoError(t, os.WriteFile(local, payload, 0o644))

	id, err := s.Put(local, "")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	out := waitOutcomes(t, s, 1)
	require.NoError(t, out[0].Err)
	assert.Equal(t, 0, out[0].ExitStatus)
	assert.Equal(t, int64(len(payload)), out[0].Result.Bytes)

	stored, err := os.ReadFile(filepath.Join(root, "up.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	dst := filepath.Join(t.TempDir(), "down.bin")
	id, err = s.Get("up.bin", dst)
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	out = waitOutcomes(t, s, 1)
	require.NoError(t, out[0].Err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Each job logged in on its own channel.
	users := 0
	for _, c := range srv.Commands() {
		if c == "USER alice" {
			users++
		}
	}
	assert.Equal(t, 3, users)
}

func TestSession_JobsFollowWorkingDirectory(t *testing.T) {
	srv, root := startServer(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "pub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pub", "readme.txt"), []byte("hello"), 0o644))

	s := connect(t, srv)
	ctx := context.Background()
	require.NoError(t, s.Cwd(ctx, "pub"))

	dir, err := s.Pwd(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/pub", dir)

	dst := filepath.Join(t.TempDir(), "readme.txt")
	_, err = s.Get("readme.txt", dst)
	require.NoError(t, err)

	out := waitOutcomes(t, s, 1)
	require.NoError(t, out[0].Err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Contains(t, srv.Commands(), "CWD /pub")
}

func TestSession_ModeCapturedAtSubmission(t *testing.T) {
	srv, root := startServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("data"), 0o644))

	s := connect(t, srv)
	assert.Equal(t, transfer.Passive, s.Mode())
	s.SetMode(transfer.Active)
	assert.Equal(t, transfer.Active, s.Mode())

	_, err := s.Get("f.txt", filepath.Join(t.TempDir(), "f.txt"))
	require.NoError(t, err)
	out := waitOutcomes(t, s, 1)
	require.NoError(t, out[0].Err)
	assert.Equal(t, transfer.Active, out[0].Job.Mode)

	assert.True(t, srv.Received("PORT"))
	assert.False(t, srv.Received("PASV"))
}

func TestSession_RegetResumesFromLocalSize(t *testing.T) {
	srv, root := startServer(t)
	payload := []byte(strings.Repeat("0123456789", 300))
	require.NoError(t, os.WriteFile(filepath.Join(root, "log.txt"), payload, 0o644))

	dst := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(dst, payload[:1000], 0o644))

	s := connect(t, srv)
	_, err := s.Reget("log.txt", dst)
	require.NoError(t, err)

	out := waitOutcomes(t, s, 1)
	require.NoError(t, out[0].Err)
	assert.True(t, out[0].Result.Resumed())
	assert.Contains(t, srv.Commands(), "REST 1000")

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSession_FailedJobReportsNonZeroExit(t *testing.T) {
	srv, _ := startServer(t)
	s := connect(t, srv)

	_, err := s.Get("missing.txt", filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)

	out := waitOutcomes(t, s, 1)
	assert.Equal(t, 1, out[0].ExitStatus)
	var perr *protocol.ProtocolError
	assert.ErrorAs(t, out[0].Err, &perr)

	// The foreground channel is untouched by the failure.
	_, err = s.Pwd(context.Background())
	assert.NoError(t, err)
}

func TestSession_PutMissingLocalFile(t *testing.T) {
	srv, _ := startServer(t)
	s := connect(t, srv)

	_, err := s.Put(filepath.Join(t.TempDir(), "nope"), "")
	var ioErr *protocol.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Empty(t, s.Jobs())
}

func TestSession_CapacityAndJobsList(t *testing.T) {
	srv, root := startServer(t, ftptest.WithDataDelay(50*time.Millisecond))
	require.NoError(t, os.WriteFile(filepath.Join(root, "slow.bin"), bytes.Repeat([]byte("x"), 64*1024), 0o644))

	s := connect(t, srv, func(c *config.ClientConfig) { c.MaxJobs = 1 })
	assert.Equal(t, 1, s.Capacity())

	_, err := s.Get("slow.bin", filepath.Join(t.TempDir(), "a.bin"))
	require.NoError(t, err)

	_, err = s.Get("slow.bin", filepath.Join(t.TempDir(), "b.bin"))
	var capErr *jobs.CapacityError
	require.ErrorAs(t, err, &capErr)

	list := s.Jobs()
	require.Len(t, list, 1)
	assert.Equal(t, jobs.Download, list[0].Kind)
	assert.Equal(t, "slow.bin", list[0].RemotePath)

	waitOutcomes(t, s, 1)
	assert.Empty(t, s.Jobs())
}

func TestSession_ListAndDirectoryCommands(t *testing.T) {
	srv, root := startServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	s := connect(t, srv)
	ctx := context.Background()

	require.NoError(t, s.Mkdir(ctx, "docs"))
	var listing bytes.Buffer
	require.NoError(t, s.List(ctx, "", &listing))
	assert.Contains(t, listing.String(), "a.txt")
	assert.Contains(t, listing.String(), "docs")

	require.NoError(t, s.Delete(ctx, "a.txt"))
	_, err := os.Stat(filepath.Join(root, "a.txt"))
	assert.True(t, os.IsNotExist(err))

	err = s.Cwd(ctx, "nowhere")
	var perr *protocol.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 550, perr.Code)
}

func TestSession_ShutdownWaitsForJobs(t *testing.T) {
	srv, root := startServer(t, ftptest.WithDataDelay(20*time.Millisecond))
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.bin"), bytes.Repeat([]byte("y"), 64*1024), 0o644))
	s := connect(t, srv)

	dst := filepath.Join(t.TempDir(), "f.bin")
	_, err := s.Get("f.bin", dst)
	require.NoError(t, err)

	var waits []int
	outcomes, err := s.Shutdown(context.Background(), func(n int) { waits = append(waits, n) })
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success())
	assert.NotEmpty(t, waits)
	assert.True(t, srv.Received("QUIT"))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), info.Size())

	// A second close is a no-op.
	assert.NoError(t, s.Close(context.Background()))
}
