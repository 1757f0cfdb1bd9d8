// ABOUTME: CLI entrypoint for relay: chat, exec, sessions, config, and
// ABOUTME: health subcommands, adapted from mammoth's flag-dispatch main.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/relaykit/relay/coordinator"
	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/persistence"
)

var version = "dev"

func main() {
	loadDotEnvAuto()

	if len(os.Args) < 2 {
		printHelp(os.Stdout, version)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "-h", "--help", "help":
		printHelp(os.Stdout, version)
		os.Exit(0)
	case "-v", "--version":
		fmt.Printf("relay %s\n", version)
		os.Exit(0)
	case "chat":
		os.Exit(runChat(os.Args[2:]))
	case "exec":
		os.Exit(runExec(os.Args[2:]))
	case "sessions":
		os.Exit(runSessions(os.Args[2:]))
	case "config":
		os.Exit(runConfigCmd(os.Args[2:]))
	case "health":
		os.Exit(runHealthCmd(os.Args[2:]))
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printHelp(os.Stderr, version)
		os.Exit(1)
	}
}

// commonFlags are the flags shared by chat and exec.
type commonFlags struct {
	agent     string
	workspace string
	sessionID string
	dataDir   string
}

func bindCommonFlags(fs *flag.FlagSet, cf *commonFlags) {
	fs.StringVar(&cf.agent, "agent", "default", "Agent type to run")
	fs.StringVar(&cf.workspace, "workspace", ".", "Workspace root directory")
	fs.StringVar(&cf.sessionID, "session", "", "Resume an existing session by id")
	fs.StringVar(&cf.dataDir, "data-dir", "", "Data directory override (default: $XDG_DATA_HOME/relay)")
}

func resolveDataDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return defaultDataDir()
}

// runChat starts an interactive REPL session over one workspace/agent pair.
func runChat(args []string) int {
	var cf commonFlags
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	bindCommonFlags(fs, &cf)
	fs.Usage = func() { printHelp(os.Stderr, version) }
	if err := fs.Parse(args); err != nil {
		return exitFromFlagErr(err)
	}

	dataDir, err := resolveDataDir(cf.dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	rt, err := buildRuntime(dataDir, cf.workspace, cf.agent, cf.sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Printf("session %s (agent=%s, workspace=%s)\n", rt.sess.ID, cf.agent, cf.workspace)
	fmt.Println("Type your message and press enter. Ctrl-D or :quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == ":quit" || line == ":exit" {
			break
		}

		code := runOneTurn(rt, line, false, "", false, cf)
		if code == 2 {
			return 2
		}
	}
	return 0
}

// runExec runs a single message to completion and exits.
func runExec(args []string) int {
	patchArgs, patchRequested, patchPath := extractOptionalValueFlag(args, "--output-patch")

	var cf commonFlags
	var jsonOut bool
	var confirm bool
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	bindCommonFlags(fs, &cf)
	fs.BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON output")
	fs.BoolVar(&confirm, "confirm", false, "Prompt before running tools that mutate the workspace")
	fs.Usage = func() { printHelp(os.Stderr, version) }
	if err := fs.Parse(patchArgs); err != nil {
		return exitFromFlagErr(err)
	}

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "error: exec requires a message")
		return 1
	}
	message := strings.Join(fs.Args(), " ")

	dataDir, err := resolveDataDir(cf.dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	rt, err := buildRuntime(dataDir, cf.workspace, cf.agent, cf.sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return runOneTurn(rt, message, jsonOut, patchPath, patchRequested, cf, withConfirm(confirm))
}

type execOption func(*execState)

type execState struct {
	confirm bool
}

func withConfirm(v bool) execOption {
	return func(s *execState) { s.confirm = v }
}

// runOneTurn drives a single dialog turn to completion, rendering its
// events, and returns the process exit code (0 success, 1 failure, 2
// cancelled).
func runOneTurn(rt *runtime, message string, jsonOut bool, patchPath string, patchRequested bool, cf commonFlags, opts ...execOption) int {
	st := &execState{confirm: true}
	for _, o := range opts {
		o(st)
	}

	turnID := uuid.NewString()
	sub := rt.router.SubscribeExternal(rt.sess.ID)
	defer rt.router.Unsubscribe(rt.sess.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\ncancelling...")
			_ = rt.coord.CancelDialogTurn(rt.sess.ID, turnID)
		case <-ctx.Done():
		}
	}()

	if err := rt.coord.StartDialogTurn(ctx, coordinator.StartTurnInput{
		SessionID: rt.sess.ID, UserInput: message, TurnID: turnID, AgentType: cf.agent,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	result := consumeTurnEvents(rt, sub, turnID, jsonOut, st.confirm)
	cancel()

	if patchRequested {
		writePatch(rt, patchPath)
	}

	if jsonOut {
		data, _ := json.Marshal(result)
		fmt.Println(string(data))
	}

	switch result.State {
	case "cancelled":
		return 2
	case "completed":
		return 0
	default:
		return 1
	}
}

type turnResult struct {
	State    string `json:"state"`
	Text     string `json:"text,omitempty"`
	Error    string `json:"error,omitempty"`
	Rounds   int    `json:"rounds,omitempty"`
	Tools    int    `json:"tools,omitempty"`
}

// consumeTurnEvents reads off the router until the turn in question reports
// terminal state, printing human-readable progress unless jsonOut is set.
func consumeTurnEvents(rt *runtime, sub <-chan events.Event, turnID string, jsonOut, confirmPrompt bool) turnResult {
	var text strings.Builder

	for ev := range sub {
		if ev.TurnID != turnID {
			continue
		}

		switch ev.Kind {
		case events.TextChunk:
			if chunk, _ := ev.Data["text"].(string); chunk != "" {
				text.WriteString(chunk)
				if !jsonOut {
					fmt.Print(chunk)
				}
			}
		case events.ToolCallStart:
			if !jsonOut {
				name, _ := ev.Data["tool_name"].(string)
				fmt.Fprintf(os.Stderr, "\n[tool] %s\n", name)
			}
		case events.ToolConfirmationRequested:
			toolID, _ := ev.Data["tool_id"].(string)
			handleConfirmation(rt, toolID, confirmPrompt)
		case events.Error:
			errMsg, _ := ev.Data["error"].(string)
			return turnResult{State: "failed", Error: errMsg, Text: text.String()}
		case events.DialogTurnCancelled:
			return turnResult{State: "cancelled", Text: text.String()}
		case events.DialogTurnFailed:
			errMsg, _ := ev.Data["error"].(string)
			return turnResult{State: "failed", Error: errMsg, Text: text.String()}
		case events.DialogTurnCompleted:
			if !jsonOut {
				fmt.Println()
			}
			rounds, _ := ev.Data["rounds"].(int)
			tools, _ := ev.Data["tools"].(int)
			return turnResult{State: "completed", Rounds: rounds, Tools: tools, Text: text.String()}
		}
	}
	return turnResult{State: "failed", Error: "event stream closed unexpectedly", Text: text.String()}
}

func handleConfirmation(rt *runtime, toolID string, prompt bool) {
	if toolID == "" {
		return
	}
	if !prompt {
		_ = rt.coord.ConfirmTool(toolID, nil)
		return
	}

	fmt.Fprintf(os.Stderr, "allow tool call %s? [y/N] ", toolID)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	if line == "y" || line == "yes" {
		_ = rt.coord.ConfirmTool(toolID, nil)
		return
	}
	_ = rt.coord.RejectTool(toolID, "rejected by operator")
}

// writePatch renders a unified diff of every file the session mutated and
// writes it to patchPath, or stdout when patchPath is empty.
func writePatch(rt *runtime, patchPath string) {
	sessions := rt.sessions
	_, _, manager, err := sessions.Get(rt.sess.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load snapshot manager: %v\n", err)
		return
	}

	seen := make(map[string]bool)
	var out strings.Builder
	for _, op := range manager.OperationsSnapshot() {
		if seen[op.FilePath] {
			continue
		}
		seen[op.FilePath] = true

		diff, err := manager.GetFileDiff(op.FilePath, "")
		if err != nil {
			continue
		}
		out.WriteString(unifiedDiff(op.FilePath, diff.Original, diff.Modified))
	}

	if out.Len() == 0 {
		return
	}
	if patchPath == "" {
		fmt.Print(out.String())
		return
	}
	if err := os.WriteFile(patchPath, []byte(out.String()), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not write patch file: %v\n", err)
	}
}

// extractOptionalValueFlag pulls --name or --name=value out of args,
// supporting the optional-value syntax flag.FlagSet cannot express on its
// own. It returns the remaining args plus whether the flag was present and
// its value (empty when bare).
func extractOptionalValueFlag(args []string, name string) (remaining []string, present bool, value string) {
	for _, a := range args {
		switch {
		case a == name:
			present = true
		case strings.HasPrefix(a, name+"="):
			present = true
			value = strings.TrimPrefix(a, name+"=")
		default:
			remaining = append(remaining, a)
		}
	}
	return remaining, present, value
}

func exitFromFlagErr(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 2
}

// runSessions dispatches `relay sessions {list, show, delete}`.
func runSessions(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: relay sessions {list, show <id|last>, delete <id>}")
		return 1
	}

	dataDir, err := resolveDataDir("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	baseDir := dataDir + "/sessions-state"

	switch args[0] {
	case "list":
		return sessionsList(baseDir)
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: relay sessions show <id|last>")
			return 1
		}
		return sessionsShow(baseDir, args[1])
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: relay sessions delete <id>")
			return 1
		}
		return sessionsDelete(dataDir, baseDir, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown sessions subcommand: %s\n", args[0])
		return 1
	}
}

func sessionsList(baseDir string) int {
	metas, err := persistence.ListSessions(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(metas) == 0 {
		fmt.Println("no sessions found.")
		return 0
	}
	for _, m := range metas {
		fmt.Printf("%s  agent=%-10s  turns=%-4d  last_activity=%s\n", m.SessionID, m.AgentType, len(m.TurnIDs), m.LastActivityAt)
	}
	return 0
}

func resolveSessionRef(baseDir, ref string) (string, error) {
	if ref != "last" {
		return ref, nil
	}
	metas, err := persistence.ListSessions(baseDir)
	if err != nil {
		return "", err
	}
	if len(metas) == 0 {
		return "", fmt.Errorf("no sessions found")
	}
	return metas[0].SessionID, nil
}

func sessionsShow(baseDir, ref string) int {
	id, err := resolveSessionRef(baseDir, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	store, err := persistence.Open(baseDir, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	meta, err := store.LoadMetadata()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	data, _ := json.MarshalIndent(meta, "", "  ")
	fmt.Println(string(data))
	return 0
}

func sessionsDelete(dataDir, baseDir, ref string) int {
	id, err := resolveSessionRef(baseDir, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := persistence.DeleteSession(baseDir, id); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("deleted session %s\n", id)
	return 0
}

func runConfigCmd(args []string) int {
	if len(args) == 0 {
		return runConfigShow()
	}
	switch args[0] {
	case "show":
		return runConfigShow()
	case "edit":
		return runConfigEdit()
	case "reset":
		return runConfigReset()
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand: %s\n", args[0])
		return 1
	}
}

func runHealthCmd(args []string) int {
	dataDir, err := resolveDataDir("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return runHealth(dataDir)
}
