// Package file provides a sink that appends reports to a JSON lines file.
//
// Each line is the report canonicalized with RFC 8785 (JSON Canonicalization
// Scheme), so identical reports produce byte-identical lines and the archive
// can be diffed or hashed.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gowebpki/jcs"

	"github.com/strongdm/snagbridge/pkg/snag"
)

// ErrClosed is returned by Write and Flush after Close.
var ErrClosed = errors.New("file sink: closed")

type fileSink struct {
	mu     sync.Mutex
	w      io.Writer
	f      *os.File
	closed bool
}

// Open creates (or appends to) the file at path, creating parent directories.
func Open(path string) (snag.Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create report directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}
	return &fileSink{w: f, f: f}, nil
}

// NewWriter creates a sink over w. Close does not close w.
func NewWriter(w io.Writer) snag.Sink {
	return &fileSink{w: w}
}

// Write appends the canonical JSON encoding of report followed by a newline.
func (s *fileSink) Write(ctx context.Context, report snag.Report) error {
	line, err := Encode(report)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Flush syncs the file to disk.
func (s *fileSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.f != nil {
		return s.f.Sync()
	}
	return nil
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

// Encode returns the canonical JSON encoding of report.
func Encode(report snag.Report) ([]byte, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize report: %w", err)
	}
	return canonical, nil
}
