// ABOUTME: Wires the Coordinator and its collaborators together for one CLI
// ABOUTME: invocation, adapted from mammoth's buildPipelineServer assembly.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaykit/relay/coordinator"
	"github.com/relaykit/relay/engine"
	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/persistence"
	"github.com/relaykit/relay/registry"
	"github.com/relaykit/relay/session"
	"github.com/relaykit/relay/tools"
	"github.com/relaykit/relay/toolpipeline"
	"github.com/relaykit/relay/workspace"
)

// runtime bundles everything one CLI invocation needs to drive a single
// session through the Coordinator.
type runtime struct {
	coord    *coordinator.Coordinator
	sessions *coordinator.SessionManager
	router   *events.Router
	reg      *registry.Registry
	sess     *session.Session
}

// defaultAliases maps the agent registry's model aliases to concrete vendor
// model ids, overridable via RELAY_PRIMARY_MODEL / RELAY_FAST_MODEL so a
// deployment can pin a specific snapshot without touching code.
func defaultAliases() map[string]string {
	primary := os.Getenv("RELAY_PRIMARY_MODEL")
	if primary == "" {
		primary = "claude-sonnet-4-5"
	}
	fast := os.Getenv("RELAY_FAST_MODEL")
	if fast == "" {
		fast = "claude-sonnet-4-5"
	}
	return map[string]string{"primary": primary, "fast": fast}
}

// buildClient assembles an llm.Client from whatever provider API keys are
// present in the environment. Each provider is backed by llm.NewVendorAdapter
// (the mux multi-vendor client, or OpenAICompatClient for an OpenAI-compatible
// endpoint with a custom base URL), wrapped in an llm.AliasAdapter so
// agent.ModelID values of "primary"/"fast" resolve to a concrete model before
// a request reaches the vendor SDK.
func buildClient() (*llm.Client, error) {
	aliases := defaultAliases()
	providers := []struct {
		envVar     string
		name       string
		baseEnvVar string
	}{
		{envVar: "ANTHROPIC_API_KEY", name: "anthropic", baseEnvVar: "ANTHROPIC_BASE_URL"},
		{envVar: "OPENAI_API_KEY", name: "openai", baseEnvVar: "OPENAI_BASE_URL"},
		{envVar: "GEMINI_API_KEY", name: "gemini", baseEnvVar: "GEMINI_BASE_URL"},
	}

	var opts []llm.ClientOption
	found := false

	for _, p := range providers {
		key := os.Getenv(p.envVar)
		if key == "" {
			continue
		}
		adapter, err := llm.NewVendorAdapter(p.name, key, os.Getenv(p.baseEnvVar))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not configure provider %q: %v\n", p.name, err)
			continue
		}
		opts = append(opts, llm.WithProvider(p.name, llm.NewAliasAdapter(adapter, aliases)))
		found = true
	}

	if !found {
		return nil, fmt.Errorf("no LLM API key found; set one of ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY")
	}
	if provider := os.Getenv("RELAY_DEFAULT_PROVIDER"); provider != "" {
		opts = append(opts, llm.WithDefaultProvider(provider))
	}

	return llm.NewClient(opts...), nil
}

// fastSummarizer adapts llm.Client into session.Summarizer, always pinning
// the request to the "fast" model alias per §4.4 step 4 / §6.
type fastSummarizer struct {
	client *llm.Client
}

func (f *fastSummarizer) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	req.Model = "fast"
	return f.client.Complete(ctx, req)
}

// knownToolChecker adapts a toolpipeline.Registry into a
// registry.KnownToolChecker for LoadCustomSubagents' validation pass.
func knownToolChecker(tr *toolpipeline.Registry) registry.KnownToolChecker {
	return func(name string) bool { return tr.Get(name) != nil }
}

// knownModelChecker adapts the model catalog into a
// registry.KnownModelChecker, additionally accepting the "primary"/"fast"
// aliases every built-in agent binds to.
func knownModelChecker() registry.KnownModelChecker {
	catalog := llm.DefaultCatalog()
	return func(modelID string) bool {
		if modelID == "primary" || modelID == "fast" {
			return true
		}
		return catalog.GetModelInfo(modelID) != nil
	}
}

// buildRuntime assembles a Coordinator bound to one workspace and one
// session (created fresh, or resumed when sessionID is non-empty), backed
// by dataDir for session persistence and snapshot storage. The toolpipeline
// registry's write_file/edit_file entries are wrapped with the resumed
// session's own snapshot.Manager, so the registry can only be built once
// that session exists.
func buildRuntime(dataDir, workspaceRoot, agentType, sessionID string) (*runtime, error) {
	client, err := buildClient()
	if err != nil {
		return nil, err
	}

	snapshotRoot := filepath.Join(dataDir, "snapshots")
	sessionRoot := filepath.Join(dataDir, "sessions-state")
	sessions := coordinator.NewSessionManager(sessionRoot, snapshotRoot, 30*time.Minute, 50)

	if idx, err := persistence.OpenIndex(filepath.Join(dataDir, "sessions.sqlite3")); err == nil {
		if err := persistence.Rebuild(idx, sessionRoot); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not rebuild session index: %v\n", err)
		}
		sessions.SetIndex(idx)
	} else {
		fmt.Fprintf(os.Stderr, "warning: session index unavailable, falling back to directory scans: %v\n", err)
	}

	var sess *session.Session
	if sessionID != "" {
		sess, _, _, err = sessions.Get(sessionID)
		if err != nil {
			return nil, fmt.Errorf("resume session %s: %w", sessionID, err)
		}
	} else {
		sess, err = sessions.Create(agentType, session.DefaultConfig(), workspaceRoot)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	_, _, snapManager, err := sessions.Get(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot manager for session %s: %w", sess.ID, err)
	}

	router := events.NewRouter()
	toolRegistry := toolpipeline.NewRegistry()
	tools.RegisterWithSnapshots(toolRegistry, snapManager)

	reg := registry.NewBuiltinRegistry()
	if _, err := reg.LoadCustomSubagents(workspaceRoot, knownToolChecker(toolRegistry), knownModelChecker()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load custom subagents: %v\n", err)
	}

	if cmdline := os.Getenv("RELAY_MCP_SERVER"); cmdline != "" {
		parts := strings.Fields(cmdline)
		cfg := tools.MCPServerConfig{Name: "default", Command: parts[0], Args: parts[1:]}
		if err := tools.RegisterMCPServer(context.Background(), toolRegistry, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not connect to MCP server %q: %v\n", cmdline, err)
		}
	}

	pipeline := toolpipeline.NewPipeline(toolRegistry, router)
	executor := engine.NewExecutor(client, pipeline, router)
	eng := engine.NewEngine(executor, router, &fastSummarizer{client: client})

	env := workspace.NewLocal(workspaceRoot)

	coord := coordinator.New(coordinator.Deps{
		Sessions:       sessions,
		Registry:       reg,
		ToolRegistry:   toolRegistry,
		Pipeline:       pipeline,
		Engine:         eng,
		Router:         router,
		Env:            env,
		TitleGenerator: &fastSummarizer{client: client},
	})

	tools.RegisterTask(toolRegistry, coord)

	return &runtime{coord: coord, sessions: sessions, router: router, reg: reg, sess: sess}, nil
}
