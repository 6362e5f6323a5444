package memory

import (
	"context"
	"fmt"

	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// SaveMemoryToolName is the tool the model uses to persist a fact.
const SaveMemoryToolName = "save_memory"

// ToolDescriptor returns the save_memory tool. It writes the global memory
// file, so it is mutating.
func (p *ProjectMemory) ToolDescriptor() toolexecutor.ToolDescriptor {
	return toolexecutor.ToolDescriptor{
		Name:        SaveMemoryToolName,
		Description: "Remember a fact across sessions by appending it to the global memory file.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "fact", Type: "string", Description: "The fact to remember, as a short statement", Required: true},
			{Name: "category", Type: "string", Description: "Optional grouping such as preference or project"},
		},
		Mutability: toolexecutor.Mutating,
		Origin:     toolexecutor.OriginLocal,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			fact, _ := params["fact"].(string)
			category, _ := params["category"].(string)
			if err := p.Remember(category, fact); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Remembered: %s", fact), nil
		},
	}
}
