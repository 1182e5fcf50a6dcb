// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const rotatedStampLayout = "20060102T150405.000000000"

// JSONLStore appends one JSON event per line to a file. When the file
// would grow past the size limit it is renamed with a timestamp suffix
// and, optionally, compressed with zstd. List reads rotated segments
// first so the chain stays continuous.
type JSONLStore struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	size     int64
	maxSize  int64
	compress bool
	now      func() time.Time
}

// JSONLOption configures a JSONLStore.
type JSONLOption func(*JSONLStore)

// WithMaxSize sets the rotation threshold in bytes. Zero disables rotation.
func WithMaxSize(n int64) JSONLOption {
	return func(s *JSONLStore) { s.maxSize = n }
}

// WithCompressRotated compresses rotated segments with zstd.
func WithCompressRotated(on bool) JSONLOption {
	return func(s *JSONLStore) { s.compress = on }
}

// NewJSONLStore opens (or creates) the log at path with mode 0600.
func NewJSONLStore(path string, opts ...JSONLOption) (*JSONLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("audit: jsonl path is required")
	}
	s := &JSONLStore{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLStore) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f, s.size = f, info.Size()
	return nil
}

// Record appends an audit event and syncs it to disk.
func (s *JSONLStore) Record(_ context.Context, event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("audit: store closed")
	}
	if s.maxSize > 0 && s.size > 0 && s.size+int64(len(line)) > s.maxSize {
		if err := s.rotate(); err != nil {
			return fmt.Errorf("audit: rotate: %w", err)
		}
	}
	n, err := s.f.Write(line)
	s.size += int64(n)
	if err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *JSONLStore) rotate() error {
	if err := s.f.Close(); err != nil {
		return err
	}
	s.f = nil
	stamp := s.now().UTC()
	rotated := s.path + "." + stamp.Format(rotatedStampLayout)
	for exists(rotated) || exists(rotated+".zst") {
		stamp = stamp.Add(time.Nanosecond)
		rotated = s.path + "." + stamp.Format(rotatedStampLayout)
	}
	if err := os.Rename(s.path, rotated); err != nil {
		return err
	}
	if s.compress {
		if err := compressFile(rotated); err != nil {
			return err
		}
	}
	return s.open()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(path+".zst", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		_ = out.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// Segments returns rotated segment paths, oldest first, followed by the
// active file.
func (s *JSONLStore) Segments() ([]string, error) {
	dir, base := filepath.Dir(s.path), filepath.Base(s.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var rotated []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base+".") {
			continue
		}
		rotated = append(rotated, filepath.Join(dir, e.Name()))
	}
	sort.Strings(rotated)
	return append(rotated, s.path), nil
}

// List returns filtered events across all segments.
func (s *JSONLStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	segments, err := s.Segments()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, seg := range segments {
		done, err := readSegment(ctx, seg, func(ev Event) bool {
			if filter.match(ev) {
				out = append(out, ev)
			}
			return filter.Limit > 0 && len(out) >= filter.Limit
		})
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return out, nil
}

// ReadFile decodes every event of a JSONL audit file, compressed or not.
func ReadFile(ctx context.Context, path string) ([]Event, error) {
	var out []Event
	_, err := readSegment(ctx, path, func(ev Event) bool {
		out = append(out, ev)
		return false
	})
	return out, err
}

func readSegment(ctx context.Context, path string, fn func(Event) bool) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return false, err
		}
		defer dec.Close()
		r = dec
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return false, err
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return false, fmt.Errorf("audit: %s:%d: %w", filepath.Base(path), line, err)
		}
		if fn(ev) {
			return true, nil
		}
	}
	return false, sc.Err()
}

// Close closes the active file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
