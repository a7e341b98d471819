package log

import (
	"errors"
	"io"
	"os"
	"sync"
)

// MultiWriter duplicates each write to every output. Unlike io.MultiWriter
// a failing output does not stop the remaining ones from receiving the line.
type MultiWriter struct {
	mu      sync.Mutex
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0, 4)}
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.mu.Lock()
	m.writers = append(m.writers, writer)
	m.mu.Unlock()
	return m
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}

// Close closes and drops every output that is an io.Closer. The process's
// standard streams stay attached.
func (m *MultiWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	kept := m.writers[:0]
	for _, w := range m.writers {
		if w == os.Stdout || w == os.Stderr {
			kept = append(kept, w)
			continue
		}
		c, ok := w.(io.Closer)
		if !ok {
			kept = append(kept, w)
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.writers = kept
	return errors.Join(errs...)
}
