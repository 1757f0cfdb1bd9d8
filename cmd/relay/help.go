// ABOUTME: Help display for the relay CLI: usage patterns, subcommands, and
// ABOUTME: environment status, adapted from mammoth's printHelp.
package main

import (
	"fmt"
	"io"
	"os"
)

// printHelp writes a formatted help message to w.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "relay %s — AI-agent orchestration runtime\n\n", ver)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  relay chat [--agent default] [--workspace .] [--session <id>]")
	fmt.Fprintln(w, "  relay exec <message> [--agent default] [--workspace .] [--session <id>] [--json] [--output-patch[=path]] [--confirm]")
	fmt.Fprintln(w, "  relay sessions list")
	fmt.Fprintln(w, "  relay sessions show <id|last>")
	fmt.Fprintln(w, "  relay sessions delete <id>")
	fmt.Fprintln(w, "  relay config show")
	fmt.Fprintln(w, "  relay config edit")
	fmt.Fprintln(w, "  relay config reset")
	fmt.Fprintln(w, "  relay health")
	fmt.Fprintln(w, "  relay serve [--addr 127.0.0.1:8787] [--agent default] [--workspace .] [--session <id>]")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  --agent <id>          Agent to run (default, plan, or a custom subagent id)")
	fmt.Fprintln(w, "  --workspace <dir>     Workspace root tools operate against (default: current directory)")
	fmt.Fprintln(w, "  --session <id>        Resume an existing session instead of starting a new one")
	fmt.Fprintln(w, "  --json                exec: print the final result as JSON instead of plain text")
	fmt.Fprintln(w, "  --output-patch[=path] exec: write a unified diff of every file mutation (stdout if no path)")
	fmt.Fprintln(w, "  --confirm             exec: require interactive confirmation before each tool call that needs permission")
	fmt.Fprintln(w, "  --data-dir <dir>      Override the default session/snapshot storage directory")
	fmt.Fprintln(w, "  --version             Print version and exit")
	fmt.Fprintln(w, "  --help                Show this help")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Exit codes: 0 success, 1 failure, 2 cancelled.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  ANTHROPIC_API_KEY     %s\n", envStatus("ANTHROPIC_API_KEY"))
	fmt.Fprintf(w, "  OPENAI_API_KEY        %s\n", envStatus("OPENAI_API_KEY"))
	fmt.Fprintf(w, "  GEMINI_API_KEY        %s\n", envStatus("GEMINI_API_KEY"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  At least one API key is required for chat/exec.")
}

// envStatus returns "[set]" if the named environment variable is non-empty,
// or "[not set]" otherwise.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "[set]"
	}
	return "[not set]"
}
