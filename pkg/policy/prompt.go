package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// Argument keys whose values name a location the call touches.
var locationKeys = map[string]bool{
	"path": true, "file": true, "file_path": true, "filename": true,
	"dir": true, "directory": true, "cwd": true, "target": true,
	"source": true, "destination": true, "dest": true, "url": true,
}

const maxPromptValue = 200

// RenderConfirmationPrompt describes a pending call for a human.
func RenderConfirmationPrompt(req toolexecutor.ActionRequest, desc toolexecutor.ToolDescriptor) string {
	var b strings.Builder

	origin := desc.Origin
	if origin == "" {
		origin = toolexecutor.OriginLocal
	}
	fmt.Fprintf(&b, "Tool: %s (%s)\n", desc.Name, origin)
	if desc.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", desc.Description)
	}

	keys := make([]string, 0, len(req.Arguments))
	for k := range req.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) > 0 {
		b.WriteString("Arguments:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, renderValue(req.Arguments[k]))
		}
	}

	if locations := AffectedLocations(req); len(locations) > 0 {
		b.WriteString("Affects:\n")
		for _, loc := range locations {
			fmt.Fprintf(&b, "  %s\n", loc)
		}
	}
	if cmd, ok := req.Arguments["command"].(string); ok && cmd != "" {
		fmt.Fprintf(&b, "Runs: %s\n", cmd)
	}

	b.WriteString("Allow this action?")
	return b.String()
}

// AffectedLocations returns the paths and URLs named by the call's arguments.
func AffectedLocations(req toolexecutor.ActionRequest) []string {
	seen := map[string]bool{}
	var out []string
	for k, v := range req.Arguments {
		if !locationKeys[strings.ToLower(k)] {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func renderValue(v interface{}) string {
	var s string
	switch val := v.(type) {
	case string:
		s = fmt.Sprintf("%q", val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprintf("%v", val)
		} else {
			s = string(data)
		}
	}
	if len(s) > maxPromptValue {
		s = s[:maxPromptValue] + "..."
	}
	return s
}
