// ABOUTME: Agent Registry: a thread-safe table of agents partitioned into
// ABOUTME: Mode/SubAgent/Hidden, grounded on agent/subagents.go's handle bookkeeping.
package registry

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
)

// Partition classifies an agent's role in the front-end surface.
type Partition string

const (
	// Mode agents are user-selectable (e.g. chosen from a picker).
	Mode Partition = "mode"
	// SubAgent agents are Task-tool targets, invoked by a tool call.
	SubAgent Partition = "sub_agent"
	// Hidden agents are internal and never offered to a user directly.
	Hidden Partition = "hidden"
)

// defaultModelID is the fallback binding when an agent has none of its own.
const defaultModelID = "primary"

// Agent binds a system-prompt template, a default tool allow-list, and a
// model-id resolver to a stable name (GLOSSARY: "Agent").
type Agent struct {
	ID                   string
	Partition            Partition
	Description          string
	SystemPromptTemplate string
	DefaultTools         []string
	ModelID              string // empty means fall back to defaultModelID
	BuiltIn              bool
}

// Registry is the single RwLock-guarded agent table described in §5's
// shared-resource policy.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	rules  []RuleFile
}

// NewRegistry creates an empty registry. Callers normally follow this with
// RegisterBuiltin calls for each built-in Mode/SubAgent/Hidden agent.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// RegisterBuiltin adds a built-in agent. Built-in agents can never be
// removed once registered (enforced by LoadCustomSubagents and Remove).
func (r *Registry) RegisterBuiltin(a Agent) {
	a.BuiltIn = true
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = &a
}

// GetAgent looks up an agent by id. It is O(1) and recovers from any panic
// during the lookup, returning (nil, false) instead of crashing the caller —
// the Go analogue of the poisoned-lock recovery called for in §5.
func (r *Registry) GetAgent(id string) (agent *Agent, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			agent, ok = nil, false
		}
	}()
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, found := r.agents[id]
	if !found {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// GetAgentTools returns the tool list bound to agentID: for modes, the
// mode's configured list (or the default); for subagents, the agent's
// default list. There is no separate "configured override" store in this
// rewrite, so both branches resolve to DefaultTools.
func (r *Registry) GetAgentTools(agentID string) ([]string, error) {
	a, ok := r.GetAgent(agentID)
	if !ok {
		return nil, fmt.Errorf("agent %q not found", agentID)
	}
	return a.DefaultTools, nil
}

// GetModelIDForAgent returns the bound model id, falling back to "primary"
// when the agent declares none.
func (r *Registry) GetModelIDForAgent(agentID string) (string, error) {
	a, ok := r.GetAgent(agentID)
	if !ok {
		return "", fmt.Errorf("agent %q not found", agentID)
	}
	if a.ModelID == "" {
		return defaultModelID, nil
	}
	return a.ModelID, nil
}

// Remove deletes a non-built-in agent. Built-in agents can never be removed.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.agents[id]
	if !ok {
		return nil
	}
	if existing.BuiltIn {
		return fmt.Errorf("agent %q is built-in and cannot be removed", id)
	}
	delete(r.agents, id)
	return nil
}

// KnownToolChecker reports whether a tool name is registered in the live
// tool registry, used to validate custom subagent files.
type KnownToolChecker func(name string) bool

// KnownModelChecker reports whether a model id is recognized.
type KnownModelChecker func(modelID string) bool

// LoadCustomSubagents replaces every non-built-in entry in the registry with
// freshly parsed agent files discovered under workspaceRoot, validating each
// file's tools and model against the live tool registry (§4.9, §6).
// Unknown tools are dropped with a logged warning; an unknown model falls
// back to "primary". Returns the ids that were loaded.
func (r *Registry) LoadCustomSubagents(workspaceRoot string, knownTool KnownToolChecker, knownModel KnownModelChecker) ([]string, error) {
	files, err := discoverAgentFiles(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("discover agent files: %w", err)
	}

	loaded := make([]*Agent, 0, len(files))
	for _, path := range files {
		def, err := parseAgentFile(path)
		if err != nil {
			log.Printf("registry: skipping custom subagent %s: %v", path, err)
			continue
		}

		tools := def.Tools
		if knownTool != nil {
			filtered := tools[:0]
			for _, t := range tools {
				if knownTool(t) {
					filtered = append(filtered, t)
				} else {
					log.Printf("registry: custom subagent %q references unknown tool %q, dropping it", def.Name, t)
				}
			}
			tools = filtered
		}

		model := def.Model
		if knownModel != nil && model != "" && !knownModel(model) {
			log.Printf("registry: custom subagent %q references unknown model %q, falling back to %q", def.Name, model, defaultModelID)
			model = defaultModelID
		}

		if def.Enabled != nil && !*def.Enabled {
			continue
		}

		loaded = append(loaded, &Agent{
			ID:                   def.Name,
			Partition:            SubAgent,
			Description:          def.Description,
			SystemPromptTemplate: def.Body,
			DefaultTools:         tools,
			ModelID:              model,
			BuiltIn:              false,
		})
	}

	ruleFiles, err := DiscoverRuleFiles(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("discover rule files: %w", err)
	}
	rules := make([]RuleFile, 0, len(ruleFiles))
	for _, path := range ruleFiles {
		rule, err := ParseRuleFile(path)
		if err != nil {
			log.Printf("registry: skipping rule file %s: %v", path, err)
			continue
		}
		rules = append(rules, *rule)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.agents {
		if !a.BuiltIn {
			delete(r.agents, id)
		}
	}
	ids := make([]string, 0, len(loaded))
	for _, a := range loaded {
		r.agents[a.ID] = a
		ids = append(ids, a.ID)
	}
	r.rules = rules
	return ids, nil
}

// Rules returns every rule file loaded by the last LoadCustomSubagents call
// whose ApplyType is "always" or "intelligent" -- these are unconditionally
// relevant to the system prompt regardless of which tool calls follow.
func (r *Registry) Rules() []RuleFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RuleFile, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.ApplyType == ApplyAlways || rule.ApplyType == ApplyIntelligent {
			out = append(out, rule)
		}
	}
	return out
}

// MatchingRules returns every specific_files rule whose globs match path,
// in addition to the always/intelligent rules Rules() already returns --
// together these are what the system-prompt builder injects for a turn
// touching path (§6 "Custom subagent file format").
func (r *Registry) MatchingRules(path string) []RuleFile {
	out := r.Rules()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.ApplyType != ApplySpecificFiles {
			continue
		}
		for _, pattern := range rule.Globs {
			if matched, _ := filepath.Match(pattern, path); matched {
				out = append(out, rule)
				break
			}
		}
	}
	return out
}

// Names returns every registered agent id, built-in and custom.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for id := range r.agents {
		names = append(names, id)
	}
	return names
}
