package sink

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"firestige.xyz/udpin/internal/core"
)

// FileConfig represents file sink configuration.
type FileConfig struct {
	Path       string `mapstructure:"path"`        // required
	Append     bool   `mapstructure:"append"`      // default true
	BufferSize int    `mapstructure:"buffer_size"` // default 64KiB
}

// File appends raw payloads back to back, e.g. to record an MPEG-TS stream.
type File struct {
	config  FileConfig
	file    *os.File
	w       *bufio.Writer
	written uint64
	bytes   uint64
}

func newFile(options map[string]any) (Sink, error) {
	cfg := FileConfig{Append: true, BufferSize: 64 << 10}
	if err := decode(options, &cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("file sink requires path: %w", core.ErrConfigInvalid)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 << 10
	}
	return &File{config: cfg}, nil
}

// Name returns the sink name.
func (f *File) Name() string {
	return "file"
}

// Open opens the output file.
func (f *File) Open(ctx context.Context, info Info) error {
	flags := os.O_CREATE | os.O_WRONLY
	if f.config.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(f.config.Path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open file sink: %w", err)
	}
	f.file = file
	f.w = bufio.NewWriterSize(file, f.config.BufferSize)
	slog.Info("file sink opened", "session_id", info.SessionID, "path", f.config.Path)
	return nil
}

// Write appends the payload of p.
func (f *File) Write(ctx context.Context, p *core.Packet) error {
	if f.w == nil {
		return fmt.Errorf("file sink not open")
	}
	n, err := f.w.Write(p.Data)
	f.bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("write file sink: %w", err)
	}
	f.written++
	return nil
}

// Flush writes buffered data to the file.
func (f *File) Flush(ctx context.Context) error {
	if f.w == nil {
		return nil
	}
	return f.w.Flush()
}

// Close flushes and closes the file.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	ferr := f.w.Flush()
	cerr := f.file.Close()
	f.file, f.w = nil, nil
	slog.Info("file sink closed", "path", f.config.Path, "packets", f.written, "bytes", f.bytes)
	if ferr != nil {
		return fmt.Errorf("flush file sink: %w", ferr)
	}
	return cerr
}
