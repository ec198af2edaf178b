package lineage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// #region jsonl-sink
// JSONLSink writes each domain to <dir>/<domain>.jsonl, one record per line.
// A single mutex serializes writers and every record goes out in one Write,
// so readers never observe a partial line.
type JSONLSink struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLSink creates dir if needed.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lineage dir: %w", err)
	}
	return &JSONLSink{dir: dir}, nil
}

// Path returns the file backing domain.
func (s *JSONLSink) Path(domain Domain) string {
	return filepath.Join(s.dir, string(domain)+".jsonl")
}

// Append opens, writes, syncs and closes the domain file for each record.
func (s *JSONLSink) Append(ctx context.Context, domain Domain, record any) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", domain, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.Path(domain), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", domain, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", domain, cerr)
		}
	}()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append %s: %w", domain, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", domain, err)
	}
	return nil
}

// ReadAll returns every parseable line of domain. A missing file is empty;
// corrupt lines are skipped.
func (s *JSONLSink) ReadAll(ctx context.Context, domain Domain) ([]json.RawMessage, error) {
	records, _, err := s.read(ctx, domain)
	return records, err
}

// Corrupt counts the lines of domain that fail to parse.
func (s *JSONLSink) Corrupt(ctx context.Context, domain Domain) (int, error) {
	_, skipped, err := s.read(ctx, domain)
	return skipped, err
}

func (s *JSONLSink) read(ctx context.Context, domain Domain) ([]json.RawMessage, int, error) {
	f, err := os.Open(s.Path(domain))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", domain, err)
	}
	defer f.Close()

	var (
		out     []json.RawMessage
		skipped int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return out, skipped, err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		out = append(out, json.RawMessage(bytes.Clone(line)))
	}
	if err := sc.Err(); err != nil {
		return out, skipped, fmt.Errorf("scan %s: %w", domain, err)
	}
	return out, skipped, nil
}

// #endregion jsonl-sink
