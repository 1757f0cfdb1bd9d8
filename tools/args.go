// ABOUTME: Argument extraction helpers shared by every tool, grounded on
// ABOUTME: agent/tools_core.go's getStringArg/getIntArg/getBoolArg family.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/relaykit/relay/workspace"
)

func getStringArg(args map[string]any, key string, required bool) (string, error) {
	val, ok := args[key]
	if !ok || val == nil {
		if required {
			return "", fmt.Errorf("missing required parameter: %s", key)
		}
		return "", nil
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, val)
	}
	return s, nil
}

func getIntArg(args map[string]any, key string, defaultVal int) (int, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal, nil
	}
	switch v := val.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %s must be an integer: %w", key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %s must be a number, got %T", key, val)
	}
}

func getBoolArg(args map[string]any, key string, defaultVal bool) (bool, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal, nil
	}
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %s must be a boolean, got %T", key, val)
	}
	return b, nil
}

// envFrom resolves the workspace.Environment carried generically in ExecContext.
func envFrom(raw any) (workspace.Environment, error) {
	e, ok := raw.(workspace.Environment)
	if !ok || e == nil {
		return nil, fmt.Errorf("tool execution context has no workspace environment bound")
	}
	return e, nil
}
