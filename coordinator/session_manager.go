// ABOUTME: Session Manager half of the Coordinator package (§4.4): CRUD on
// ABOUTME: sessions with a bounded in-memory cache, restoration from
// ABOUTME: persistence, and turn rollback. Lives here (not in `session`)
// ABOUTME: because it binds session.Session to persistence.Store, and
// ABOUTME: persistence already imports session -- combining them one layer
// ABOUTME: up avoids an import cycle.
package coordinator

import (
	"sync"
	"time"

	"github.com/relaykit/relay/errs"
	"github.com/relaykit/relay/persistence"
	"github.com/relaykit/relay/session"
	"github.com/relaykit/relay/snapshot"
)

// managedSession bundles the in-memory Session with its on-disk Store and
// its Snapshot Manager, plus the bookkeeping the LRU eviction needs.
type managedSession struct {
	sess         *session.Session
	store        *persistence.Store
	snap         *snapshot.Manager
	lastAccessAt time.Time
}

// SessionManager owns the bounded LRU of active sessions and their
// persistence/snapshot bindings (§4.4).
type SessionManager struct {
	mu           sync.Mutex
	baseDir      string
	snapshotRoot string
	idleTimeout  time.Duration
	maxActive    int
	sessions     map[string]*managedSession
	index        *persistence.Index // optional; nil disables the fast-list cache
}

// BaseDir returns the directory session message logs and turn records are
// stored under, for callers (the HTTP command surface, `sessions list`)
// that need to fall back to persistence.ListSessions directly.
func (m *SessionManager) BaseDir() string { return m.baseDir }

// SetIndex binds a SQLite row cache the manager keeps in sync with every
// Create/Persist/Delete, so `sessions list` doesn't have to open every
// session directory to answer a listing query (§4.4's cited SQLite cache).
// Call Rebuild once up front if idx may already hold stale data.
func (m *SessionManager) SetIndex(idx *persistence.Index) { m.index = idx }

// indexUpsert refreshes sess's row in the bound index. Title lives only in
// the on-disk metadata (session.Session carries no Title field), so this
// reads store back rather than trusting an in-memory copy.
func (m *SessionManager) indexUpsert(sess *session.Session, store *persistence.Store) {
	if m.index == nil {
		return
	}
	meta := toMetadata(sess)
	if stored, err := store.LoadMetadata(); err == nil {
		meta.Title = stored.Title
	}
	_ = m.index.UpsertSession(persistence.SessionRow{
		SessionID:      meta.SessionID,
		AgentType:      meta.AgentType,
		Title:          meta.Title,
		State:          string(sess.CurrentStatus().State),
		TurnCount:      len(meta.TurnIDs),
		CreatedAt:      meta.CreatedAt,
		LastActivityAt: meta.LastActivityAt,
	})
}

// IndexTurn upserts one turn's summary row into the bound index, a no-op
// when SetIndex was never called.
func (m *SessionManager) IndexTurn(row persistence.TurnRow) {
	if m.index == nil {
		return
	}
	_ = m.index.UpsertTurn(row)
}

// ListIndexed returns the bound index's session rows without touching the
// filesystem, and false when no index is bound -- callers fall back to
// persistence.ListSessions in that case.
func (m *SessionManager) ListIndexed(limit int) ([]persistence.SessionRow, bool, error) {
	if m.index == nil {
		return nil, false, nil
	}
	rows, err := m.index.ListSessions(limit)
	return rows, true, err
}

// NewSessionManager constructs a Session Manager rooted at baseDir (message
// logs, turn records) and snapshotRoot (file content store). idleTimeout of
// zero disables idle eviction; maxActive of zero disables the size bound.
func NewSessionManager(baseDir, snapshotRoot string, idleTimeout time.Duration, maxActive int) *SessionManager {
	return &SessionManager{
		baseDir:      baseDir,
		snapshotRoot: snapshotRoot,
		idleTimeout:  idleTimeout,
		maxActive:    maxActive,
		sessions:     make(map[string]*managedSession),
	}
}

// Create starts a brand new, Idle session bound to agentType, persists its
// initial metadata, and opens its Snapshot Manager against workspaceRoot.
func (m *SessionManager) Create(agentType string, cfg session.Config, workspaceRoot string) (*session.Session, error) {
	sess := session.New(agentType, cfg)
	sess.WorkspaceRoot = workspaceRoot

	store, err := persistence.Open(m.baseDir, sess.ID)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.New(sess.ID, workspaceRoot, m.snapshotRoot)
	if err != nil {
		return nil, err
	}
	sess.SnapshotSessionID = sess.ID

	if err := store.SaveMetadata(toMetadata(sess)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sess.ID] = &managedSession{sess: sess, store: store, snap: snap, lastAccessAt: time.Now()}
	m.evictLocked()
	m.mu.Unlock()

	m.indexUpsert(sess, store)
	return sess, nil
}

// Get returns the managed session for id, restoring it from persistence if
// it isn't already cached. A restore loads history from the latest
// context snapshot, falling back to compressed history, then raw history
// (§4.4). The empty-but-recorded reload heuristic lives in
// Coordinator.StartDialogTurn, not here.
func (m *SessionManager) Get(id string) (*session.Session, *persistence.Store, *snapshot.Manager, error) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		m.touch(id)
		return entry.sess, entry.store, entry.snap, nil
	}

	store, err := persistence.Open(m.baseDir, id)
	if err != nil {
		return nil, nil, nil, err
	}
	meta, err := store.LoadMetadata()
	if err != nil {
		return nil, nil, nil, err
	}

	sess := session.New(meta.AgentType, meta.Config)
	sess.ID = id
	sess.TurnIDs = meta.TurnIDs
	sess.CompressionCount = meta.CompressionCount
	sess.SnapshotSessionID = meta.SnapshotSessionID
	sess.WorkspaceRoot = meta.WorkspaceRoot

	if st, err := store.LoadState(); err == nil {
		sess.Status = session.StatusInfo{
			State: st.State, TurnID: st.TurnID, Phase: st.Phase,
			ErrorMsg: st.ErrorMsg, Recoverable: st.Recoverable,
		}
	}

	history, err := restoreHistory(store)
	if err != nil {
		return nil, nil, nil, err
	}
	sess.ReplaceHistory(history)

	snap, err := snapshot.New(id, meta.WorkspaceRoot, m.snapshotRoot)
	if err != nil {
		return nil, nil, nil, err
	}

	entry = &managedSession{sess: sess, store: store, snap: snap, lastAccessAt: time.Now()}
	m.mu.Lock()
	m.sessions[id] = entry
	m.evictLocked()
	m.mu.Unlock()

	return sess, store, snap, nil
}

// restoreHistory implements the three-tier fallback: per-turn context
// snapshot, then compressed history, then raw history.
func restoreHistory(store *persistence.Store) ([]session.Turn, error) {
	if idx, err := store.LatestContextSnapshotIndex(); err == nil && idx >= 0 {
		if turns, err := store.LoadContextSnapshot(idx); err == nil {
			return turns, nil
		}
	}
	if turns, err := store.LoadCompressedMessages(); err == nil && len(turns) > 0 {
		return turns, nil
	}
	turns, err := store.LoadMessages()
	if err != nil {
		return nil, errs.Wrap(errs.Session, "restore session history", err)
	}
	return turns, nil
}

// Persist writes back the session's current metadata, state, and (if
// idx >= 0) a fresh context snapshot -- the write-back the restoration
// heuristic relies on for O(1) subsequent restores.
func (m *SessionManager) Persist(sess *session.Session, store *persistence.Store) error {
	if err := store.SaveMetadata(toMetadata(sess)); err != nil {
		return err
	}
	status := sess.CurrentStatus()
	if err := store.SaveState(persistence.StatePayload{
		State: status.State, TurnID: status.TurnID, Phase: status.Phase,
		ErrorMsg: status.ErrorMsg, Recoverable: status.Recoverable,
	}); err != nil {
		return err
	}
	turnIdx := len(sess.TurnIDsSnapshot()) - 1
	if turnIdx >= 0 {
		if err := store.SaveContextSnapshot(turnIdx, sess.HistorySnapshot()); err != nil {
			return err
		}
	}
	m.indexUpsert(sess, store)
	return nil
}

// RollbackToTurn implements rollback_context_to_turn_start (§4.4): reload
// the snapshot for target-1 (or empty history if target==0), truncate
// turn_ids, mark Idle, and delete every context snapshot at or past target.
func (m *SessionManager) RollbackToTurn(id string, target int) error {
	sess, store, _, err := m.Get(id)
	if err != nil {
		return err
	}

	var history []session.Turn
	if target > 0 {
		history, err = store.LoadContextSnapshot(target - 1)
		if err != nil {
			return err
		}
	}
	sess.ReplaceHistory(history)
	sess.TruncateTurnIDs(target)
	sess.CompleteTurn()

	if err := store.DeleteContextSnapshotsFrom(target); err != nil {
		return err
	}
	return m.Persist(sess, store)
}

// Delete removes a session's on-disk directory and its file snapshots, and
// drops it from the in-memory cache.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok && entry.snap != nil {
		_ = entry.snap.ReleaseSessionResources()
	}
	if m.index != nil {
		_ = m.index.DeleteSession(id)
	}
	return persistence.DeleteSession(m.baseDir, id)
}

func (m *SessionManager) touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[id]; ok {
		entry.lastAccessAt = time.Now()
	}
}

// EvictIdle drops cached entries whose last access exceeds idleTimeout from
// the in-memory map (their on-disk record is untouched, so a later Get
// transparently restores them).
func (m *SessionManager) EvictIdle() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictIdleLocked()
}

func (m *SessionManager) evictIdleLocked() []string {
	if m.idleTimeout <= 0 {
		return nil
	}
	var evicted []string
	now := time.Now()
	for id, entry := range m.sessions {
		if now.Sub(entry.lastAccessAt) >= m.idleTimeout {
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// evictLocked enforces both the idle timeout and the max-active bound,
// evicting the least-recently-used entries first. Callers must hold m.mu.
func (m *SessionManager) evictLocked() {
	m.evictIdleLocked()
	if m.maxActive <= 0 || len(m.sessions) <= m.maxActive {
		return
	}
	type idAge struct {
		id string
		at time.Time
	}
	ordered := make([]idAge, 0, len(m.sessions))
	for id, entry := range m.sessions {
		ordered = append(ordered, idAge{id, entry.lastAccessAt})
	}
	for len(m.sessions) > m.maxActive {
		oldestIdx := 0
		for i, ia := range ordered {
			if ia.at.Before(ordered[oldestIdx].at) {
				oldestIdx = i
			}
		}
		delete(m.sessions, ordered[oldestIdx].id)
		ordered = append(ordered[:oldestIdx], ordered[oldestIdx+1:]...)
	}
}

func toMetadata(sess *session.Session) persistence.SessionMetadata {
	return persistence.SessionMetadata{
		SessionID:         sess.ID,
		AgentType:         sess.AgentType,
		Config:            sess.Config,
		SnapshotSessionID: sess.SnapshotSessionID,
		WorkspaceRoot:     sess.WorkspaceRoot,
		CreatedAt:         sess.CreatedAt.Format(time.RFC3339),
		LastActivityAt:    sess.LastActivityAt.Format(time.RFC3339),
		TurnIDs:           sess.TurnIDsSnapshot(),
		CompressionCount:  sess.CompressionCount,
	}
}
