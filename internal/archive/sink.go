package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const partSuffix = ".part"

// FileSink writes the archive to path through a temporary .part file
type FileSink struct {
	path string
	file *os.File
	once sync.Once
}

// NewFileSink creates the parent directory and the temporary file
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	f, err := os.Create(path + partSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	return &FileSink{path: path, file: f}, nil
}

// Path returns the final location of the archive
func (s *FileSink) Path() string {
	return s.path
}

// Write writes p to the temporary file
func (s *FileSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// Close syncs the temporary file and moves it to its final location
func (s *FileSink) Close() error {
	err := ErrClosed
	s.once.Do(func() {
		if err = s.file.Sync(); err != nil {
			s.file.Close()
			os.Remove(s.file.Name())
			return
		}
		if err = s.file.Close(); err != nil {
			os.Remove(s.file.Name())
			return
		}
		err = os.Rename(s.file.Name(), s.path)
	})
	return err
}

// Abort closes and removes the temporary file
func (s *FileSink) Abort(reason error) error {
	err := ErrClosed
	s.once.Do(func() {
		err = errors.Join(s.file.Close(), removeIfExists(s.file.Name()))
	})
	return err
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// WriterSink adapts an io.Writer, closing it on Close and Abort when it is an io.Closer
type WriterSink struct {
	w io.Writer

	mu     sync.Mutex
	reason error
}

// NewWriterSink creates a new WriterSink
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Write writes p to the underlying writer
func (s *WriterSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Close closes the underlying writer if it can be closed
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Abort records the reason and closes the underlying writer if it can be closed
func (s *WriterSink) Abort(reason error) error {
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()

	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// AbortReason returns the reason given to Abort, or nil
func (s *WriterSink) AbortReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
