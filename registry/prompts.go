// ABOUTME: Resolves an Agent's SystemPromptTemplate name to prompt text and
// ABOUTME: layers in workspace rule files, grounded on agent/profiles.go's
// ABOUTME: BuildSystemPrompt/buildEnvironmentContext/buildProjectDocsSection.
package registry

import "strings"

// builtinPrompts maps a built-in agent's SystemPromptTemplate name to its
// literal system prompt text.
var builtinPrompts = map[string]string{
	"default": "You are a coding assistant. You help users write, debug, and modify code by " +
		"reading files, editing them, running shell commands, and searching codebases.\n\n" +
		"Make targeted, minimal changes rather than rewriting entire files. Read a file " +
		"before editing it. Prefer editing existing files over creating new ones.",
	"plan": "You are in planning mode: explore the workspace with read_file, grep, and glob to " +
		"understand the codebase and propose an approach, but do not modify any files.",
	"subagent-general": "You are a subagent spawned to carry out one scoped task. Complete it and " +
		"call done with a concise summary of what you found or changed.",
	"compression-summarizer": "Summarize the dialog turns below into a compact digest that preserves " +
		"every decision, file path, and open question a continuation would need.",
	"title-generator": "Generate a short, human-readable title (at most eight words) for a session " +
		"given its first user turn. Respond with the title only.",
}

// ResolveSystemPrompt returns the literal prompt text for agent, falling
// back to the template name itself for a custom subagent (whose
// SystemPromptTemplate is already its parsed markdown body, not a name).
func ResolveSystemPrompt(agent *Agent) string {
	if text, ok := builtinPrompts[agent.SystemPromptTemplate]; ok {
		return text
	}
	return agent.SystemPromptTemplate
}

// RenderSystemPrompt resolves agent's prompt text and appends any workspace
// rule files relevant to it, the way agent/steering.go layers project docs
// onto a profile's base prompt.
func RenderSystemPrompt(agent *Agent, rules []RuleFile) string {
	base := ResolveSystemPrompt(agent)
	if len(rules) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n## Project Rules\n\n")
	for _, rule := range rules {
		b.WriteString(rule.Body)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
