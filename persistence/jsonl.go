// ABOUTME: Append-only JSONL log with crash-safe replay and repair,
// ABOUTME: grounded on spec/store/jsonl.go's OpenJsonl/Append/Replay/Repair pattern.
package persistence

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/relaykit/relay/errs"
)

// JSONLLog is a single append-only file where every line is a
// self-contained JSON record, fsynced per append (§4.5).
type JSONLLog struct {
	path string
	file *os.File
}

// OpenJSONL opens (creating if absent) a JSONL log at path for appending.
func OpenJSONL(path string) (*JSONLLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.Io, "create jsonl parent dir", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "open jsonl file", err)
	}
	return &JSONLLog{path: path, file: f}, nil
}

// Path returns the file path backing this log.
func (j *JSONLLog) Path() string { return j.path }

// Append marshals v as one JSON line, writes it, and fsyncs.
func (j *JSONLLog) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.Serialization, "marshal jsonl record", err)
	}
	data = append(data, '\n')
	if _, err := j.file.Write(data); err != nil {
		return errs.Wrap(errs.Io, "write jsonl record", err)
	}
	if err := j.file.Sync(); err != nil {
		return errs.Wrap(errs.Io, "fsync jsonl record", err)
	}
	return nil
}

// Close closes the underlying file.
func (j *JSONLLog) Close() error { return j.file.Close() }

// ReplayJSONL passes each non-blank line of path, in order, to the unmarshal
// callback. A missing file replays nothing; the first line the callback
// rejects stops the replay with a Deserialization error.
func ReplayJSONL(path string, unmarshal func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.Io, "open jsonl for replay", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := unmarshal(line); err != nil {
			return errs.Wrap(errs.Deserialization, "unmarshal jsonl line", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return errs.Wrap(errs.Io, "scan jsonl file", err)
	}
	return nil
}

// RepairJSONL rewrites path keeping only JSON-parseable lines, atomically,
// and returns the number of lines kept.
func RepairJSONL(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.Io, "open jsonl for repair", err)
	}

	tmpPath := path + ".repair.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		f.Close()
		return 0, errs.Wrap(errs.Io, "open jsonl repair temp file", err)
	}

	kept := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var probe json.RawMessage
		if json.Unmarshal(line, &probe) != nil {
			continue
		}
		if _, err := tmp.Write(append(append([]byte{}, line...), '\n')); err != nil {
			tmp.Close()
			f.Close()
			return kept, errs.Wrap(errs.Io, "write repaired jsonl line", err)
		}
		kept++
	}
	f.Close()

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return kept, errs.Wrap(errs.Io, "fsync repaired jsonl file", err)
	}
	if err := tmp.Close(); err != nil {
		return kept, errs.Wrap(errs.Io, "close repaired jsonl file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return kept, errs.Wrap(errs.Io, "rename repaired jsonl file", err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return kept, nil
}
