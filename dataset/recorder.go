package dataset

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// Recorder appends rows to a dataset file.
//
// Every Record call flushes to the operating system before returning, so a
// row is on disk before the trial it describes runs. The first write fault
// poisons the recorder; later calls return the same error. Close is
// idempotent and must be called on every exit path.
type Recorder struct {
	path   string
	sink   io.WriteCloser
	w      *csv.Writer
	header bool
	rows   int
	err    error
	closed bool
}

// Open creates (or truncates) the dataset file at path.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &RecorderError{Op: "open", Path: path, Err: err}
	}
	return newRecorder(path, f), nil
}

func newRecorder(path string, sink io.WriteCloser) *Recorder {
	w := csv.NewWriter(sink)
	w.UseCRLF = false
	return &Recorder{path: path, sink: sink, w: w}
}

// Create opens dir/FileName and writes the header. If the header cannot be
// written the file is removed again, so a failed Create leaves no file.
func Create(dir string) (*Recorder, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &RecorderError{Op: "open", Path: dir, Err: err}
	}
	path := filepath.Join(dir, FileName)
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := r.WriteHeader(); err != nil {
		_ = r.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return r, nil
}

func (r *Recorder) Path() string { return r.path }

// Rows reports how many rows were recorded, excluding the header.
func (r *Recorder) Rows() int { return r.rows }

// WriteHeader writes the column header. It may be called exactly once, before
// any row.
func (r *Recorder) WriteHeader() error {
	if err := r.usable(); err != nil {
		return err
	}
	if r.header {
		return &RecorderError{Op: "header", Path: r.path, Err: ErrHeaderWritten}
	}
	if err := r.write("header", Header); err != nil {
		return err
	}
	r.header = true
	return nil
}

// Record appends one row and flushes it.
func (r *Recorder) Record(row Row) error {
	if err := r.usable(); err != nil {
		return err
	}
	if !r.header {
		return &RecorderError{Op: "record", Path: r.path, Err: ErrNoHeader}
	}
	if err := r.write("record", row.Fields()); err != nil {
		return err
	}
	r.rows++
	return nil
}

// Close flushes buffered output and releases the file.
func (r *Recorder) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	var flushErr error
	if r.err == nil {
		r.w.Flush()
		if err := r.w.Error(); err != nil {
			flushErr = &RecorderError{Op: "close", Path: r.path, Err: err}
		}
	}
	if err := r.sink.Close(); err != nil {
		return errors.Join(flushErr, &RecorderError{Op: "close", Path: r.path, Err: err})
	}
	return flushErr
}

func (r *Recorder) usable() error {
	if r.closed {
		return &RecorderError{Op: "write", Path: r.path, Err: ErrClosed}
	}
	return r.err
}

func (r *Recorder) write(op string, fields []string) error {
	if err := r.w.Write(fields); err != nil {
		r.err = &RecorderError{Op: op, Path: r.path, Err: err}
		return r.err
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		r.err = &RecorderError{Op: op, Path: r.path, Err: err}
		return r.err
	}
	return nil
}
