// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
)

// DefaultIgnoreDirs are never descended into by the scanner.
var DefaultIgnoreDirs = []string{".git", "node_modules", "target", "vendor", "dist", "build"}

// DefaultMaxScanSize bounds the size of a scanned file.
const DefaultMaxScanSize int64 = 1 << 20

const previewWidth = 100

// Finding is one secret located in a file.
type Finding struct {
	File     string     `json:"file"`
	Line     int        `json:"line"`
	Column   int        `json:"column"`
	Type     SecretType `json:"type"`
	Severity Severity   `json:"severity"`
	// Preview is the redacted source line.
	Preview string `json:"preview"`
}

// ScanReport summarizes a directory scan.
type ScanReport struct {
	Root         string    `json:"root"`
	FilesScanned int       `json:"files_scanned"`
	FilesSkipped int       `json:"files_skipped"`
	Findings     []Finding `json:"findings"`
}

// HasSecrets reports whether any finding was recorded.
func (r *ScanReport) HasSecrets() bool {
	return r != nil && len(r.Findings) > 0
}

// CountBySeverity tallies findings per severity.
func (r *ScanReport) CountBySeverity() map[Severity]int {
	counts := map[Severity]int{}
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

// Scanner walks a directory tree looking for committed credentials.
type Scanner struct {
	filter      *SecretFilter
	ignoreDirs  map[string]bool
	maxFileSize int64
	logger      *slog.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithIgnoreDirs adds directory names to skip.
func WithIgnoreDirs(names ...string) ScannerOption {
	return func(s *Scanner) {
		for _, n := range names {
			s.ignoreDirs[n] = true
		}
	}
}

// WithMaxScanSize overrides the per-file size limit.
func WithMaxScanSize(n int64) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// WithSecretFilter replaces the default pattern set.
func WithSecretFilter(f *SecretFilter) ScannerOption {
	return func(s *Scanner) {
		if f != nil {
			s.filter = f
		}
	}
}

// WithScannerLogger sets the logger used for skipped files.
func WithScannerLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a Scanner.
func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{
		filter:      defaultFilter,
		ignoreDirs:  map[string]bool{},
		maxFileSize: DefaultMaxScanSize,
		logger:      slog.Default(),
	}
	for _, d := range DefaultIgnoreDirs {
		s.ignoreDirs[d] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanDir scans every regular file under dir. File paths in findings are
// relative to dir.
func (s *Scanner) ScanDir(ctx context.Context, dir string) (*ScanReport, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan: %s is not a directory", dir)
	}

	report := &ScanReport{Root: root, Findings: []Finding{}}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			s.logger.Debug("scan: unreadable entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && s.ignoreDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		findings, scanned := s.scanFile(path, filepath.ToSlash(rel))
		if !scanned {
			report.FilesSkipped++
			return nil
		}
		report.FilesScanned++
		report.Findings = append(report.Findings, findings...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	return report, nil
}

func (s *Scanner) scanFile(path, name string) ([]Finding, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > s.maxFileSize {
		return nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		s.logger.Debug("scan: open failed", "path", path, "error", err)
		return nil, false
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(8000)
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, false
	}
	return s.ScanReader(name, br), true
}

// ScanReader scans text line by line, attributing findings to name.
func (s *Scanner) ScanReader(name string, r io.Reader) []Finding {
	var findings []Finding
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), int(s.maxFileSize)+1)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		matches := s.filter.Find(text)
		if len(matches) == 0 {
			continue
		}
		preview := s.filter.Redact(strings.TrimSpace(text))
		if len(preview) > previewWidth {
			preview = preview[:previewWidth] + "..."
		}
		for _, m := range matches {
			findings = append(findings, Finding{
				File:     name,
				Line:     line,
				Column:   m.Start + 1,
				Type:     m.Type,
				Severity: m.Severity,
				Preview:  preview,
			})
		}
	}
	return findings
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, report *ScanReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteTable renders the report as an aligned table followed by a summary.
func WriteTable(w io.Writer, report *ScanReport) error {
	if !report.HasSecrets() {
		_, err := fmt.Fprintf(w, "No secrets found (%d files scanned, %d skipped)\n", report.FilesScanned, report.FilesSkipped)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tTYPE\tLOCATION\tPREVIEW")
	for _, f := range report.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%s:%d:%d\t%s\n", f.Severity, f.Type, f.File, f.Line, f.Column, f.Preview)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	counts := report.CountBySeverity()
	_, err := fmt.Fprintf(w, "\n%d secrets found (critical: %d, high: %d, medium: %d) in %d files scanned\n",
		len(report.Findings), counts[SeverityCritical], counts[SeverityHigh], counts[SeverityMedium], report.FilesScanned)
	return err
}
