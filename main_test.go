package main

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("alice\r\nsecret\nlast"))

	line, err := readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", line)

	line, err = readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "secret", line)

	line, err = readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = readLine(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPasswordPrompt_PlainInput(t *testing.T) {
	pass, err := passwordPrompt(bufio.NewReader(strings.NewReader("hunter2\nls\n")), false)()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pass)
}

func TestRootCmd_Args(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no host", nil, "accepts between 1 and 2 arg(s)"},
		{"too many", []string{"a", "21", "x"}, "accepts between 1 and 2 arg(s)"},
		{"bad port", []string{"localhost", "ftp"}, `invalid port "ftp"`},
		{"port out of range", []string{"localhost", "70000"}, "invalid port: 70000"},
		{"bad mode", []string{"localhost", "--mode", "eprt", "--log-file", ""}, "eprt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
