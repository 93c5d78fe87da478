package transfer

import (
	"errors"
	"io"
	"time"
)

// DefaultProgressStep is the distance between two progress milestones.
const DefaultProgressStep = 100 * 1024

// bufferSize is the copy buffer for data connections.
const bufferSize = 64 * 1024

// ErrLocked is returned when another transfer holds the local destination.
var ErrLocked = errors.New("local file is locked by another transfer")

// Milestone is reported each time a transfer crosses a progress step.
type Milestone struct {
	Path  string // remote path of the transfer
	Bytes int64  // bytes moved so far in this transfer
}

// Result summarizes a finished transfer.
type Result struct {
	Bytes   int64         // bytes moved over the data connection
	Offset  int64         // restart offset the server acknowledged, 0 if none
	Elapsed time.Duration // from the first command to the final reply
}

// Resumed reports whether the transfer continued an earlier partial file.
func (r Result) Resumed() bool {
	return r.Offset > 0
}

// Throughput returns the average speed in bytes per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Elapsed.Seconds()
}

// ProgressReader wraps an io.Reader, counts what passes through it and calls
// OnMilestone once per Step boundary crossed.
type ProgressReader struct {
	Reader      io.Reader
	Path        string
	Step        int64
	OnMilestone func(Milestone)

	Transferred int64
	StartTime   time.Time
	next        int64
}

func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	if pr.StartTime.IsZero() {
		pr.StartTime = time.Now()
		if pr.Step <= 0 {
			pr.Step = DefaultProgressStep
		}
		pr.next = pr.Step
	}

	n, err = pr.Reader.Read(p)
	if n > 0 {
		pr.Transferred += int64(n)
		for pr.Transferred >= pr.next {
			if pr.OnMilestone != nil {
				pr.OnMilestone(Milestone{Path: pr.Path, Bytes: pr.next})
			}
			pr.next += pr.Step
		}
	}
	return
}

// Speed returns the average rate since the first read, in bytes per second.
func (pr *ProgressReader) Speed() float64 {
	if pr.StartTime.IsZero() {
		return 0
	}
	elapsed := time.Since(pr.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(pr.Transferred) / elapsed
}
