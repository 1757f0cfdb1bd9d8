// ABOUTME: Per-session on-disk layout (§4.5): metadata, state, message logs,
// ABOUTME: context snapshots, and turn records, each written atomically.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/relaykit/relay/errs"
	"github.com/relaykit/relay/session"
)

// Store owns the on-disk layout for one session:
//
//	<base>/sessions/<session_id>/
//	  metadata.json
//	  state.json
//	  messages.jsonl
//	  compressed_messages.jsonl
//	  context_snapshots/turn-0000.json ... turn-NNNN.json
//	  turns/<turn_id>.json
type Store struct {
	base      string
	sessionID string
}

// Open binds a Store to base/sessions/sessionID, creating the directory.
func Open(base, sessionID string) (*Store, error) {
	dir := filepath.Join(base, "sessions", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Io, "create session dir", err)
	}
	return &Store{base: base, sessionID: sessionID}, nil
}

func (s *Store) dir() string { return filepath.Join(s.base, "sessions", s.sessionID) }

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Serialization, "marshal json", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.Io, "open temp file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errs.Wrap(errs.Io, "write temp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.Io, "fsync temp file", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.Io, "close temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.Io, "rename temp file", err)
	}
	return nil
}

// SessionMetadata is the persisted, JSON-serializable Session record.
type SessionMetadata struct {
	SessionID         string `json:"session_id"`
	AgentType         string `json:"agent_type"`
	Config            session.Config `json:"config"`
	Title             string `json:"title,omitempty"`
	SnapshotSessionID string `json:"snapshot_session_id,omitempty"`
	WorkspaceRoot     string `json:"workspace_root,omitempty"`
	CreatedAt         string `json:"created_at"`
	LastActivityAt    string `json:"last_activity_at"`
	TurnIDs           []string `json:"turn_ids"`
	CompressionCount  int    `json:"compression_count"`
}

// SaveMetadata writes metadata.json atomically.
func (s *Store) SaveMetadata(meta SessionMetadata) error {
	return atomicWriteJSON(filepath.Join(s.dir(), "metadata.json"), meta)
}

// LoadMetadata reads metadata.json.
func (s *Store) LoadMetadata() (SessionMetadata, error) {
	var meta SessionMetadata
	data, err := os.ReadFile(filepath.Join(s.dir(), "metadata.json"))
	if err != nil {
		return meta, errs.Wrap(errs.NotFound, "load session metadata", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, errs.Wrap(errs.Deserialization, "unmarshal session metadata", err)
	}
	return meta, nil
}

// StatePayload is the last-known SessionState, persisted separately from
// metadata so a crash mid-turn doesn't corrupt the session record.
type StatePayload struct {
	State       session.State `json:"state"`
	TurnID      string        `json:"turn_id,omitempty"`
	Phase       session.Phase `json:"phase,omitempty"`
	ErrorMsg    string        `json:"error_msg,omitempty"`
	Recoverable bool          `json:"recoverable,omitempty"`
}

// SaveState writes state.json atomically.
func (s *Store) SaveState(st StatePayload) error {
	return atomicWriteJSON(filepath.Join(s.dir(), "state.json"), st)
}

// LoadState reads state.json.
func (s *Store) LoadState() (StatePayload, error) {
	var st StatePayload
	data, err := os.ReadFile(filepath.Join(s.dir(), "state.json"))
	if err != nil {
		return st, errs.Wrap(errs.NotFound, "load session state", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, errs.Wrap(errs.Deserialization, "unmarshal session state", err)
	}
	return st, nil
}

// messageRecord is the JSONL wire shape for one history entry. Turn is a
// polymorphic interface in-memory; on disk it's tagged by Kind.
type messageRecord struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// AppendMessage appends one history turn to messages.jsonl (raw,
// append-only, never overwritten).
func (s *Store) AppendMessage(turn session.Turn) error {
	log, err := OpenJSONL(filepath.Join(s.dir(), "messages.jsonl"))
	if err != nil {
		return err
	}
	defer log.Close()
	rec, err := encodeTurn(turn)
	if err != nil {
		return err
	}
	return log.Append(rec)
}

// LoadMessages replays messages.jsonl into an ordered Turn slice.
func (s *Store) LoadMessages() ([]session.Turn, error) {
	var turns []session.Turn
	err := ReplayJSONL(filepath.Join(s.dir(), "messages.jsonl"), func(line []byte) error {
		var rec messageRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		t, err := decodeTurn(rec)
		if err != nil {
			return err
		}
		turns = append(turns, t)
		return nil
	})
	return turns, err
}

// OverwriteCompressedMessages replaces compressed_messages.jsonl wholesale
// (§4.4 step 6: "overwriting the compressed-history file"). The
// uncompressed messages.jsonl log is untouched.
func (s *Store) OverwriteCompressedMessages(turns []session.Turn) error {
	path := filepath.Join(s.dir(), "compressed_messages.jsonl")
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.Io, "open compressed messages temp file", err)
	}
	for _, t := range turns {
		rec, err := encodeTurn(t)
		if err != nil {
			f.Close()
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return errs.Wrap(errs.Serialization, "marshal compressed message", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return errs.Wrap(errs.Io, "write compressed message", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.Io, "fsync compressed messages temp file", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.Io, "close compressed messages temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.Io, "rename compressed messages file", err)
	}
	return nil
}

// LoadCompressedMessages replays compressed_messages.jsonl.
func (s *Store) LoadCompressedMessages() ([]session.Turn, error) {
	var turns []session.Turn
	err := ReplayJSONL(filepath.Join(s.dir(), "compressed_messages.jsonl"), func(line []byte) error {
		var rec messageRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		t, err := decodeTurn(rec)
		if err != nil {
			return err
		}
		turns = append(turns, t)
		return nil
	})
	return turns, err
}

func encodeTurn(t session.Turn) (messageRecord, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return messageRecord{}, errs.Wrap(errs.Serialization, "marshal turn", err)
	}
	return messageRecord{Kind: t.TurnType(), Data: data}, nil
}

func decodeTurn(rec messageRecord) (session.Turn, error) {
	switch rec.Kind {
	case "user":
		var t session.UserTurn
		return t, json.Unmarshal(rec.Data, &t)
	case "assistant":
		var t session.AssistantTurn
		return t, json.Unmarshal(rec.Data, &t)
	case "tool_results":
		var t session.ToolResultsTurn
		return t, json.Unmarshal(rec.Data, &t)
	case "system":
		var t session.SystemTurn
		return t, json.Unmarshal(rec.Data, &t)
	default:
		return nil, errs.New(errs.Deserialization, "unknown turn kind: "+rec.Kind)
	}
}

// ContextSnapshot is the exact set of messages sent to the model for one
// turn (distinct from file snapshots), used for restoration and rollback
// (§4.4).
func (s *Store) SaveContextSnapshot(turnIndex int, messages []session.Turn) error {
	dir := filepath.Join(s.dir(), "context_snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.Io, "create context snapshot dir", err)
	}
	recs := make([]messageRecord, 0, len(messages))
	for _, t := range messages {
		rec, err := encodeTurn(t)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	return atomicWriteJSON(filepath.Join(dir, turnFileName(turnIndex)), recs)
}

func turnFileName(turnIndex int) string {
	return fmt.Sprintf("turn-%04d.json", turnIndex)
}

// LoadContextSnapshot loads the context snapshot for the given turn index.
func (s *Store) LoadContextSnapshot(turnIndex int) ([]session.Turn, error) {
	path := filepath.Join(s.dir(), "context_snapshots", turnFileName(turnIndex))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "load context snapshot", err)
	}
	var recs []messageRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, errs.Wrap(errs.Deserialization, "unmarshal context snapshot", err)
	}
	turns := make([]session.Turn, 0, len(recs))
	for _, rec := range recs {
		t, err := decodeTurn(rec)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// LatestContextSnapshotIndex scans context_snapshots/ for the
// highest-numbered turn snapshot, or -1 if none exist.
func (s *Store) LatestContextSnapshotIndex() (int, error) {
	dir := filepath.Join(s.dir(), "context_snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return -1, errs.Wrap(errs.Io, "list context snapshots", err)
	}
	latest := -1
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		name = strings.TrimPrefix(name, "turn-")
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}

// DeleteContextSnapshotsFrom removes every context snapshot with index >=
// fromIndex (used by rollback_context_to_turn_start, §4.4).
func (s *Store) DeleteContextSnapshotsFrom(fromIndex int) error {
	dir := filepath.Join(s.dir(), "context_snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.Io, "list context snapshots", err)
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		name = strings.TrimPrefix(name, "turn-")
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		if n >= fromIndex {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return errs.Wrap(errs.Io, "delete context snapshot", err)
			}
		}
	}
	return nil
}

// SaveTurn writes turns/<turn_id>.json atomically.
func (s *Store) SaveTurn(turn session.DialogTurn) error {
	dir := filepath.Join(s.dir(), "turns")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.Io, "create turns dir", err)
	}
	return atomicWriteJSON(filepath.Join(dir, turn.TurnID+".json"), turn)
}

// LoadTurn reads a single DialogTurn record.
func (s *Store) LoadTurn(turnID string) (session.DialogTurn, error) {
	var turn session.DialogTurn
	data, err := os.ReadFile(filepath.Join(s.dir(), "turns", turnID+".json"))
	if err != nil {
		return turn, errs.Wrap(errs.NotFound, "load turn record", err)
	}
	if err := json.Unmarshal(data, &turn); err != nil {
		return turn, errs.Wrap(errs.Deserialization, "unmarshal turn record", err)
	}
	return turn, nil
}

// ListSessions returns every session id under base, sorted by
// last_activity_at descending (§4.5).
func ListSessions(base string) ([]SessionMetadata, error) {
	dir := filepath.Join(base, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Io, "list sessions dir", err)
	}

	var metas []SessionMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		store, err := Open(base, e.Name())
		if err != nil {
			continue
		}
		meta, err := store.LoadMetadata()
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastActivityAt > metas[j].LastActivityAt
	})
	return metas, nil
}

// DeleteSession removes a session's entire on-disk directory (cascades to
// messages, turns, and context snapshots; file snapshots live under the
// snapshot root and are deleted by the caller via snapshot.Manager).
func DeleteSession(base, sessionID string) error {
	dir := filepath.Join(base, "sessions", sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return errs.Wrap(errs.Io, "delete session dir", err)
	}
	return nil
}
