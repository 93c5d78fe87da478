package terminal

import (
	"io"
	"sync"

	"ftpshell/protocol"
)

// Transcript echoes the foreground control channel to the terminal:
// ">>> " before each command, "<<< " before each reply line.
type Transcript struct {
	mu    sync.Mutex
	out   io.Writer
	theme *ThemeManager
}

var _ protocol.Observer = (*Transcript)(nil)

func NewTranscript(out io.Writer, theme *ThemeManager) *Transcript {
	return &Transcript{out: out, theme: theme}
}

func (t *Transcript) CommandSent(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.theme.GetInfoColor().Fprintf(t.out, ">>> %s\n", line)
}

func (t *Transcript) ResponseReceived(resp *protocol.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.theme.GetTextColor()
	if resp.Code >= 400 {
		c = t.theme.GetErrorColor()
	}
	for _, line := range resp.Lines {
		c.Fprintf(t.out, "<<< %s\n", line)
	}
}
