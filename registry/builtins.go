// ABOUTME: Built-in Mode/SubAgent/Hidden agents, grounded on the three
// ABOUTME: provider profiles and the generic subagent loop in agent/subagents.go.
package registry

// defaultCoreTools mirrors RegisterCoreTools' set (read_file, write_file,
// edit_file, shell, grep, glob).
var defaultCoreTools = []string{"read_file", "write_file", "edit_file", "shell", "grep", "glob"}

// defaultModeTools adds the Task-tool to the core set for user-selectable
// Mode agents. SubAgent agents don't get it, so max_subagent_depth's
// default of 1 holds without needing a runtime depth counter.
var defaultModeTools = append(append([]string{}, defaultCoreTools...), "task")

// NewBuiltinRegistry returns a Registry pre-populated with the built-in
// Mode/SubAgent/Hidden agents. Removal of these entries is forbidden; only
// LoadCustomSubagents' custom layer may be replaced.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()

	r.RegisterBuiltin(Agent{
		ID:                   "default",
		Partition:            Mode,
		Description:          "General-purpose coding agent for interactive dialog turns.",
		SystemPromptTemplate: "default",
		DefaultTools:         defaultModeTools,
		ModelID:              "primary",
	})

	r.RegisterBuiltin(Agent{
		ID:                   "plan",
		Partition:            Mode,
		Description:          "Read-only planning mode: explores the workspace without mutating it.",
		SystemPromptTemplate: "plan",
		DefaultTools:         []string{"read_file", "grep", "glob"},
		ModelID:              "primary",
	})

	r.RegisterBuiltin(Agent{
		ID:                   "general",
		Partition:            SubAgent,
		Description:          "General-purpose subagent spawned by the task tool for scoped tasks.",
		SystemPromptTemplate: "subagent-general",
		DefaultTools:         defaultCoreTools,
		ModelID:              "fast",
	})

	r.RegisterBuiltin(Agent{
		ID:                   "compression-summarizer",
		Partition:            Hidden,
		Description:          "Summarizes older turns during context compression.",
		SystemPromptTemplate: "compression-summarizer",
		DefaultTools:         nil,
		ModelID:              "fast",
	})

	r.RegisterBuiltin(Agent{
		ID:                   "title-generator",
		Partition:            Hidden,
		Description:          "Generates a short session title from the first user turn.",
		SystemPromptTemplate: "title-generator",
		DefaultTools:         nil,
		ModelID:              "fast",
	})

	return r
}
