// ABOUTME: `relay health` -- a quick environment/storage sanity check, akin
// ABOUTME: to mammoth's detectBackend warning but surfaced as its own subcommand.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func runHealth(dataDir string) int {
	ok := true

	keys := []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"}
	anyKey := false
	for _, k := range keys {
		status := envStatus(k)
		fmt.Printf("%-20s %s\n", k, status)
		if status == "[set]" {
			anyKey = true
		}
	}
	if !anyKey {
		fmt.Println("no LLM API key found -- chat/exec will fail")
		ok = false
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Printf("data dir %-10s error: %v\n", dataDir, err)
		ok = false
	} else {
		probe := filepath.Join(dataDir, ".health-check")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			fmt.Printf("data dir %-10s not writable: %v\n", dataDir, err)
			ok = false
		} else {
			os.Remove(probe)
			fmt.Printf("data dir %-10s writable\n", dataDir)
		}
	}

	if ok {
		fmt.Println("relay is healthy.")
		return 0
	}
	return 1
}
