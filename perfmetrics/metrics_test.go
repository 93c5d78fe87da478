package perfmetrics

import (
	"encoding/csv"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftpshell/jobs"
	"ftpshell/transfer"
)

func outcome(id int, kind jobs.Kind, bytes int64, err error) jobs.Outcome {
	o := jobs.Outcome{
		Job:      jobs.Job{ID: id, Kind: kind, LocalPath: "/tmp/f", RemotePath: "/pub/file.bin"},
		Result:   transfer.Result{Bytes: bytes, Elapsed: 2 * time.Second},
		Err:      err,
		Finished: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err != nil {
		o.ExitStatus = 1
	}
	return o
}

func TestMetrics_Counters(t *testing.T) {
	m := New("", nil)

	m.JobSubmitted(jobs.Job{ID: 1, Kind: jobs.Download})
	m.JobSubmitted(jobs.Job{ID: 2, Kind: jobs.Upload})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.active))

	m.JobFinished(outcome(1, jobs.Download, 4096, nil))
	m.JobFinished(outcome(2, jobs.Upload, 0, errors.New("553 denied")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.submitted.WithLabelValues("DOWNLOAD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("DOWNLOAD", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("UPLOAD", "failure")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.bytes.WithLabelValues("DOWNLOAD")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active))
}

func TestMetrics_Handler(t *testing.T) {
	m := New("", nil)
	m.JobSubmitted(jobs.Job{ID: 1, Kind: jobs.Download})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `ftpshell_jobs_submitted_total{kind="DOWNLOAD"} 1`)
}

func TestMetrics_WritesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf", "transfers.csv")
	m := New(path, nil)

	m.JobFinished(outcome(1, jobs.Download, 2*1024*1024, nil))
	m.JobFinished(outcome(2, jobs.Upload, 10, errors.New("553 denied")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), CsvHeader))

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{
		"2024-05-01T12:00:00Z", "1", "DOWNLOAD", "file.bin", "2097152", "false", "1.00", "2.00", "0", "",
	}, rows[1])
	assert.Equal(t, "UPLOAD", rows[2][2])
	assert.Equal(t, "1", rows[2][8])
	assert.Equal(t, "553 denied", rows[2][9])
}

func TestLogPerformanceToCSV_HeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.csv")
	require.NoError(t, LogPerformanceToCSV(path, Record{JobID: 1, Kind: "DOWNLOAD"}))
	require.NoError(t, LogPerformanceToCSV(path, Record{JobID: 2, Kind: "UPLOAD"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "Timestamp,"))
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}
