// Package toolexecutor holds the tool catalog and dispatches tool calls.
//
// Invariants:
// - Tool names are unique across local and remote origins; a collision is a
//   registration error.
// - Arguments are schema-validated before a handler runs; a mismatch never
//   reaches the handler.
// - Every dispatch yields exactly one ActionResult for its ActionRequest.
// - Catalog swaps for a remote origin happen under the write lock, so a
//   dispatch sees either the old or the new catalog, never a mix.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry()
//	_ = reg.Register(toolexecutor.ToolDescriptor{
//		Name:        "echo",
//		Description: "Echo input",
//		Mutability:  toolexecutor.ReadOnly,
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//			return params["text"], nil
//		},
//	})
//	res := reg.Dispatch(ctx, toolexecutor.ActionRequest{ID: "1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}})
package toolexecutor
