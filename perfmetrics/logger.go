package perfmetrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// CsvHeader defines the CSV header for performance logging
const CsvHeader = "Timestamp,JobID,Kind,FileName,Bytes,Resumed,ThroughputMBps,TimeSec,Exit,Error\n"

// Record is one row of the performance log.
type Record struct {
	Timestamp      time.Time
	JobID          int
	Kind           string
	FileName       string
	Bytes          int64
	Resumed        bool
	ThroughputMBps float64
	TimeSec        float64
	Exit           int
	Error          string
}

// LogPerformanceToCSV appends rec to the CSV file at path, writing the header
// first when the file is new.
func LogPerformanceToCSV(path string, rec Record) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Check if file exists to determine if we need to write header
	fileExists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fileExists = false
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	if !fileExists {
		if _, err := file.WriteString(CsvHeader); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	timestamp := rec.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	writer := csv.NewWriter(file)
	record := []string{
		timestamp.Format(time.RFC3339),
		strconv.Itoa(rec.JobID),
		rec.Kind,
		rec.FileName,
		strconv.FormatInt(rec.Bytes, 10),
		strconv.FormatBool(rec.Resumed),
		strconv.FormatFloat(rec.ThroughputMBps, 'f', 2, 64),
		strconv.FormatFloat(rec.TimeSec, 'f', 2, 64),
		strconv.Itoa(rec.Exit),
		rec.Error,
	}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write CSV record: %w", err)
	}

	// Ensure data is written to disk
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}
