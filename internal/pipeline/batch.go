package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/backmassage/sessionmux/internal/config"
)

// Entry is one batch item: a source and an optional output filename.
type Entry struct {
	Source string
	Name   string // Empty: recording_<id>.mp4.
	Line   int    // Batch file line, 0 for command-line sources.
}

// Entries collects the command-line sources followed by the batch file's
// entries. --output names the single command-line source.
func Entries(cfg *config.Config) ([]Entry, error) {
	var out []Entry
	for _, s := range cfg.Sources {
		out = append(out, Entry{Source: s, Name: cfg.OutputName})
	}
	if cfg.BatchFile == "" {
		return out, nil
	}
	f, err := os.Open(cfg.BatchFile)
	if err != nil {
		return nil, fmt.Errorf("batch file: %w", err)
	}
	defer f.Close()
	batch, err := ParseBatch(f)
	if err != nil {
		return nil, fmt.Errorf("batch file %s: %w", cfg.BatchFile, err)
	}
	return append(out, batch...), nil
}

// ParseBatch reads "url[,filename]" lines. Blank lines and lines starting
// with '#' are skipped; fields are trimmed.
func ParseBatch(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var out []Entry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		src := strings.TrimSpace(rec[0])
		if src == "" {
			continue
		}
		if len(rec) > 2 {
			return nil, fmt.Errorf("line %d: expected url[,filename], got %d fields", line, len(rec))
		}
		e := Entry{Source: src, Line: line}
		if len(rec) == 2 {
			e.Name = strings.TrimSpace(rec[1])
		}
		out = append(out, e)
	}
	return out, nil
}
