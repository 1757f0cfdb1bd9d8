// ABOUTME: Parses frontmatter-tagged markdown agent and rule files from a
// ABOUTME: workspace, grounded on the skills parser's splitFrontmatter pattern.
package registry

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// agentFile is the YAML frontmatter of a custom subagent markdown file
// (§6's "Custom subagent file format"): required name/description/tools/model,
// optional enabled.
type agentFile struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	ToolsRaw    yaml.Node `yaml:"tools"`
	Model       string    `yaml:"model"`
	Enabled     *bool     `yaml:"enabled"`

	Tools []string `yaml:"-"`
	Body  string   `yaml:"-"`
}

// ApplyType governs when a rule file's contents are injected (§6).
type ApplyType string

const (
	ApplyAlways        ApplyType = "always"
	ApplyIntelligent   ApplyType = "intelligent"
	ApplySpecificFiles ApplyType = "specific_files"
	ApplyManual        ApplyType = "manual"
)

// RuleFile is a parsed .mdc rule file.
type RuleFile struct {
	ApplyType ApplyType
	Globs     []string
	Body      string
}

// discoverAgentFiles finds every custom subagent markdown file under
// workspaceRoot/.relay/agents/.
func discoverAgentFiles(workspaceRoot string) ([]string, error) {
	dir := filepath.Join(workspaceRoot, ".relay", "agents")
	return globMarkdown(dir)
}

// DiscoverRuleFiles finds every rule file under workspaceRoot/.relay/rules/.
func DiscoverRuleFiles(workspaceRoot string) ([]string, error) {
	dir := filepath.Join(workspaceRoot, ".relay", "rules")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mdc") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

func globMarkdown(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// parseAgentFile parses one custom subagent markdown file.
func parseAgentFile(path string) (*agentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	front, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var def agentFile
	if err := yaml.Unmarshal(front, &def); err != nil {
		return nil, fmt.Errorf("%s: parse frontmatter: %w", path, err)
	}

	if def.Name == "" {
		return nil, fmt.Errorf("%s: missing required field 'name'", path)
	}
	if def.Description == "" {
		return nil, fmt.Errorf("%s: missing required field 'description'", path)
	}
	if def.Model == "" {
		return nil, fmt.Errorf("%s: missing required field 'model'", path)
	}

	tools, err := decodeToolsField(def.ToolsRaw)
	if err != nil {
		return nil, fmt.Errorf("%s: tools field: %w", path, err)
	}
	def.Tools = tools
	def.Body = strings.TrimSpace(string(body))

	return &def, nil
}

// decodeToolsField accepts the `tools` frontmatter key as either a YAML
// sequence or a single comma-separated string (§6: "tools (csv or list)").
func decodeToolsField(node yaml.Node) ([]string, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, err
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported tools field shape")
	}
}

// ParseRuleFile parses a .mdc rule file's frontmatter and body.
func ParseRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	front, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var raw struct {
		ApplyType string   `yaml:"apply_type"`
		Globs     []string `yaml:"globs"`
	}
	if err := yaml.Unmarshal(front, &raw); err != nil {
		return nil, fmt.Errorf("%s: parse frontmatter: %w", path, err)
	}

	applyType := ApplyType(raw.ApplyType)
	switch applyType {
	case ApplyAlways, ApplyIntelligent, ApplySpecificFiles, ApplyManual:
	case "":
		applyType = ApplyManual
	default:
		return nil, fmt.Errorf("%s: unknown apply_type %q", path, raw.ApplyType)
	}

	return &RuleFile{
		ApplyType: applyType,
		Globs:     raw.Globs,
		Body:      strings.TrimSpace(string(body)),
	}, nil
}

// splitFrontmatter separates the leading "---"-delimited YAML block from the
// markdown body that follows it.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	return []byte(strings.Join(frontLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}
