// ABOUTME: Session state machine, message history, and turn bookkeeping for
// ABOUTME: the conversation execution engine, grounded on the coding agent's session.go.
package session

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relay/llm"
)

// State is the session-level lifecycle state (§3, §4.1).
type State string

const (
	Idle       State = "idle"
	Processing State = "processing"
	ErrorState State = "error"
)

// Phase is the sub-state of a Processing session.
type Phase string

const (
	PhaseStarting      Phase = "starting"
	PhaseThinking      Phase = "thinking"
	PhaseToolExecution Phase = "tool_execution"
	PhaseFinalizing    Phase = "finalizing"
)

// StatusInfo captures the full session state, including the Processing
// turn/phase pair or the Error message/recoverable pair.
type StatusInfo struct {
	State       State
	TurnID      string
	Phase       Phase
	ErrorMsg    string
	Recoverable bool
}

// Config holds per-session tunables (§3 Session.config).
type Config struct {
	ContextWindow           int            `json:"context_window"`
	CompressionThreshold    float64        `json:"compression_threshold"`
	EnableTools             bool           `json:"enable_tools"`
	EnableCompression       bool           `json:"enable_compression"`
	MaxRounds               int            `json:"max_rounds"`
	DefaultCommandTimeoutMs int            `json:"default_command_timeout_ms"`
	MaxCommandTimeoutMs     int            `json:"max_command_timeout_ms"`
	ToolOutputLimits        map[string]int `json:"tool_output_limits,omitempty"`
	EnableLoopDetection     bool           `json:"enable_loop_detection"`
	LoopDetectionWindow     int            `json:"loop_detection_window"`
	MaxSubagentDepth        int            `json:"max_subagent_depth"`
}

// DefaultConfig mirrors the reference agent's defaults, adjusted to the
// spec's named fields (max_rounds default 200, compression at 80% of the
// context window by convention).
func DefaultConfig() Config {
	return Config{
		ContextWindow:           200_000,
		CompressionThreshold:    0.8,
		EnableTools:             true,
		EnableCompression:       true,
		MaxRounds:               200,
		DefaultCommandTimeoutMs: 10_000,
		MaxCommandTimeoutMs:     600_000,
		EnableLoopDetection:     true,
		LoopDetectionWindow:     10,
		MaxSubagentDepth:        1,
		ToolOutputLimits:        make(map[string]int),
	}
}

// TurnState is a DialogTurn's lifecycle state (§3).
type TurnState string

const (
	TurnPending   TurnState = "pending"
	TurnCompleted TurnState = "completed"
	TurnCancelled TurnState = "cancelled"
	TurnFailed    TurnState = "failed"
)

// TurnStats records the counters reported on DialogTurnCompleted.
type TurnStats struct {
	Rounds   int
	Tools    int
	Duration time.Duration
	Tokens   llm.Usage
}

// DialogTurn is one user message and the full model+tool response to it
// (§3, GLOSSARY).
type DialogTurn struct {
	TurnID      string
	SessionID   string
	TurnIndex   int
	UserInput   string
	State       TurnState
	FinalText   string
	Stats       TurnStats
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Turn is the interface implemented by every history entry kind.
type Turn interface {
	TurnType() string
	TurnTimestamp() time.Time
}

// UserTurn is a user-submitted message.
type UserTurn struct {
	Content   string
	TurnID    string
	Timestamp time.Time
}

func (t UserTurn) TurnType() string        { return "user" }
func (t UserTurn) TurnTimestamp() time.Time { return t.Timestamp }

// AssistantTurn is the model's response for one round, optionally with tool
// calls and reasoning/thinking content.
type AssistantTurn struct {
	Content           string
	ToolCalls         []llm.ToolCallData
	Reasoning         string
	ThinkingSignature string
	Usage             llm.Usage
	ResponseID        string
	TurnID            string
	RoundIndex        int
	Timestamp         time.Time
}

func (t AssistantTurn) TurnType() string        { return "assistant" }
func (t AssistantTurn) TurnTimestamp() time.Time { return t.Timestamp }

// ToolResultsTurn holds the results of one round's tool calls, in
// model-emitted call order (§5 ordering guarantee).
type ToolResultsTurn struct {
	Results   []llm.ToolResult
	TurnID    string
	Timestamp time.Time
}

func (t ToolResultsTurn) TurnType() string        { return "tool_results" }
func (t ToolResultsTurn) TurnTimestamp() time.Time { return t.Timestamp }

// SystemTurn is never persisted as part of history (§3); it exists only so
// a system prompt can be represented transiently when building wire
// messages for a round.
type SystemTurn struct {
	Content   string
	Timestamp time.Time
}

func (t SystemTurn) TurnType() string        { return "system" }
func (t SystemTurn) TurnTimestamp() time.Time { return t.Timestamp }

// Session is the in-memory conversation state owned exclusively by its
// Session Manager entry: history, turn list, and the authoritative state
// machine.
type Session struct {
	mu sync.Mutex

	ID                string
	AgentType         string
	Config            Config
	Status            StatusInfo
	TurnIDs           []string
	History           []Turn
	CompressionCount  int
	SnapshotSessionID string
	WorkspaceRoot     string
	CreatedAt         time.Time
	LastActivityAt    time.Time
}

// New creates a new, Idle session bound to the given agent type.
func New(agentType string, cfg Config) *Session {
	now := time.Now()
	return &Session{
		ID:             uuid.New().String(),
		AgentType:      agentType,
		Config:         cfg,
		Status:         StatusInfo{State: Idle},
		TurnIDs:        make([]string, 0),
		History:        make([]Turn, 0),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Gate enforces the state-precondition for starting a new dialog turn
// (§4.1): Idle or Error{recoverable:true} may start; Processing may not.
func (s *Session) Gate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Status.State {
	case Idle:
		return nil
	case ErrorState:
		if s.Status.Recoverable {
			return nil
		}
		return fmt.Errorf("state does not allow new dialog")
	case Processing:
		return fmt.Errorf("state does not allow new dialog")
	default:
		return fmt.Errorf("state does not allow new dialog")
	}
}

// BeginTurn atomically flips the session to Processing{turn_id, Starting}
// and registers a dense turn_index for the new turn. Returns the turn's
// 0-based index within the session.
func (s *Session) BeginTurn(turnID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusInfo{State: Processing, TurnID: turnID, Phase: PhaseStarting}
	s.TurnIDs = append(s.TurnIDs, turnID)
	s.LastActivityAt = time.Now()
	return len(s.TurnIDs) - 1
}

// SetPhase updates the Processing phase without altering the turn id.
func (s *Session) SetPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.State == Processing {
		s.Status.Phase = phase
	}
}

// CompleteTurn flips the session back to Idle.
func (s *Session) CompleteTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusInfo{State: Idle}
	s.LastActivityAt = time.Now()
}

// CancelTurn is phase 1 of the two-phase cancel (§4.1): a synchronous,
// immediate flip to Idle so a new turn may start right away.
func (s *Session) CancelTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusInfo{State: Idle}
	s.LastActivityAt = time.Now()
}

// Fail transitions the session to Error{msg, recoverable}.
func (s *Session) Fail(msg string, recoverable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusInfo{State: ErrorState, ErrorMsg: msg, Recoverable: recoverable}
	s.LastActivityAt = time.Now()
}

// CurrentStatus returns a copy of the current status.
func (s *Session) CurrentStatus() StatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// AppendTurn appends a turn to history (append-only during a turn).
func (s *Session) AppendTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, turn)
	s.LastActivityAt = time.Now()
}

// HistorySnapshot returns a copy of the current history slice.
func (s *Session) HistorySnapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.History))
	copy(out, s.History)
	return out
}

// ReplaceHistory overwrites history, used by compression and rollback.
func (s *Session) ReplaceHistory(history []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = history
}

// TruncateTurnIDs truncates the session's turn_ids list to the given
// length (used by rollback_to_turn, §4.4).
func (s *Session) TruncateTurnIDs(length int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if length < len(s.TurnIDs) {
		s.TurnIDs = s.TurnIDs[:length]
	}
}

// TurnIDsSnapshot returns a copy of the ordered turn id list.
func (s *Session) TurnIDsSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.TurnIDs))
	copy(out, s.TurnIDs)
	return out
}

// ConvertHistoryToMessages converts history entries into LLM wire messages.
// Mirrors the reference agent's switch-over-turn-types conversion.
func ConvertHistoryToMessages(history []Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history))

	for _, turn := range history {
		switch t := turn.(type) {
		case SystemTurn:
			messages = append(messages, llm.SystemMessage(t.Content))

		case UserTurn:
			messages = append(messages, llm.UserMessage(t.Content))

		case AssistantTurn:
			var parts []llm.ContentPart
			if t.Reasoning != "" {
				parts = append(parts, llm.ContentPart{
					Kind:     llm.ContentThinking,
					Thinking: &llm.ThinkingData{Text: t.Reasoning, Signature: t.ThinkingSignature},
				})
			}
			if t.Content != "" {
				parts = append(parts, llm.TextPart(t.Content))
			}
			for _, tc := range t.ToolCalls {
				parts = append(parts, llm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
			}
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: parts})

		case ToolResultsTurn:
			for _, result := range t.Results {
				messages = append(messages, llm.ToolResultMessage(result.ToolCallID, result.Content, result.IsError))
			}
		}
	}

	return messages
}

// DetectLoop checks whether the most recent windowSize tool-call signatures
// form a repeating pattern of length 1, 2, or 3. Grounded on the reference
// agent's DetectLoop/ExtractToolCallSignatures.
func DetectLoop(history []Turn, windowSize int) bool {
	signatures := ExtractToolCallSignatures(history, windowSize)
	if len(signatures) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := signatures[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if signatures[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
			if !allMatch {
				break
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

// ExtractToolCallSignatures collects the last `count` tool-call signatures
// ("name:sha256(args)[:8]") from AssistantTurn entries, in chronological
// order.
func ExtractToolCallSignatures(history []Turn, count int) []string {
	var signatures []string

	for i := len(history) - 1; i >= 0 && len(signatures) < count; i-- {
		if at, ok := history[i].(AssistantTurn); ok {
			for j := len(at.ToolCalls) - 1; j >= 0; j-- {
				tc := at.ToolCalls[j]
				hash := sha256.Sum256(tc.Arguments)
				signatures = append(signatures, fmt.Sprintf("%s:%x", tc.Name, hash[:8]))
			}
		}
	}

	for i, j := 0, len(signatures)-1; i < j; i, j = i+1, j-1 {
		signatures[i], signatures[j] = signatures[j], signatures[i]
	}

	if len(signatures) > count {
		signatures = signatures[len(signatures)-count:]
	}
	return signatures
}
