package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string, mut Mutability, calls *int32) ToolDescriptor {
	return ToolDescriptor{
		Name:        name,
		Description: "Echo the text argument",
		Mutability:  mut,
		Parameters: []ToolParameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			{Name: "times", Type: "integer", Description: "Repeat count"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			if calls != nil {
				atomic.AddInt32(calls, 1)
			}
			return params["text"], nil
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	t.Run("should register and look up a tool", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("echo", ReadOnly, nil)))

		desc, err := reg.Lookup("echo")
		require.NoError(t, err)
		assert.Equal(t, "echo", desc.Name)
		assert.Equal(t, OriginLocal, desc.Origin)
		assert.True(t, desc.IsReadOnly())
	})

	t.Run("should default mutability to mutating", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("echo", "", nil)))

		desc, err := reg.Lookup("echo")
		require.NoError(t, err)
		assert.Equal(t, Mutating, desc.Mutability)
	})

	t.Run("should reject duplicate names", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("echo", ReadOnly, nil)))

		err := reg.Register(echoTool("echo", Mutating, nil))
		assert.True(t, errors.Is(err, ErrDuplicateToolName))
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("should reject invalid descriptors", func(t *testing.T) {
		reg := NewRegistry()

		noHandler := echoTool("a", ReadOnly, nil)
		noHandler.Handler = nil

		badType := echoTool("b", ReadOnly, nil)
		badType.Parameters = []ToolParameter{{Name: "x", Type: "date"}}

		dupParam := echoTool("c", ReadOnly, nil)
		dupParam.Parameters = []ToolParameter{{Name: "x", Type: "string"}, {Name: "x", Type: "string"}}

		noDesc := echoTool("d", ReadOnly, nil)
		noDesc.Description = ""

		for _, desc := range []ToolDescriptor{noHandler, badType, dupParam, noDesc, echoTool("has space", ReadOnly, nil)} {
			err := reg.Register(desc)
			assert.True(t, errors.Is(err, ErrInvalidTool), "expected invalid tool for %q, got %v", desc.Name, err)
		}
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("lookup of unknown tool", func(t *testing.T) {
		_, err := NewRegistry().Lookup("missing")
		assert.True(t, errors.Is(err, ErrToolNotFound))
	})
}

func TestRegistry_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("should return handler output", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("echo", ReadOnly, nil)))

		res := reg.Dispatch(ctx, ActionRequest{ID: "c1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}})
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, "c1", res.CallID)
		assert.Equal(t, "hi", res.Output)
		assert.False(t, res.IsError())
	})

	t.Run("schema mismatch never invokes the handler", func(t *testing.T) {
		var calls int32
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("echo", ReadOnly, &calls)))

		cases := map[string]map[string]interface{}{
			"missing required": {},
			"wrong type":       {"text": 42},
			"unknown argument": {"text": "hi", "extra": true},
			"non-integer":      {"text": "hi", "times": 1.5},
			"nil arguments":    nil,
		}
		for name, args := range cases {
			t.Run(name, func(t *testing.T) {
				res := reg.Dispatch(ctx, ActionRequest{ID: "c", Name: "echo", Arguments: args})
				assert.Equal(t, StatusError, res.Status)
				assert.Equal(t, KindSchemaMismatch, res.ErrorKind)
			})
		}
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})

	t.Run("integral float satisfies integer", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("echo", ReadOnly, nil)))
		res := reg.Dispatch(ctx, ActionRequest{ID: "c", Name: "echo", Arguments: map[string]interface{}{"text": "x", "times": float64(2)}})
		assert.Equal(t, StatusSuccess, res.Status)
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := NewRegistry().Dispatch(ctx, ActionRequest{ID: "c", Name: "nope"})
		assert.Equal(t, StatusError, res.Status)
		assert.Equal(t, KindNotFound, res.ErrorKind)
	})

	t.Run("handler error is a tool execution error", func(t *testing.T) {
		reg := NewRegistry()
		desc := echoTool("fail", Mutating, nil)
		desc.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("disk full")
		}
		require.NoError(t, reg.Register(desc))

		res := reg.Dispatch(ctx, ActionRequest{ID: "c", Name: "fail", Arguments: map[string]interface{}{"text": "x"}})
		assert.Equal(t, StatusError, res.Status)
		assert.Equal(t, KindToolExecution, res.ErrorKind)
		assert.Equal(t, "disk full", res.Error)
		assert.Contains(t, res.Content(), "ToolExecutionError")
	})

	t.Run("handler panic is contained", func(t *testing.T) {
		reg := NewRegistry()
		desc := echoTool("boom", Mutating, nil)
		desc.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("nil map")
		}
		require.NoError(t, reg.Register(desc))

		res := reg.Dispatch(ctx, ActionRequest{ID: "c", Name: "boom", Arguments: map[string]interface{}{"text": "x"}})
		assert.Equal(t, KindToolExecution, res.ErrorKind)
		assert.Contains(t, res.Error, "panicked")
	})

	t.Run("slow handler times out", func(t *testing.T) {
		reg := NewRegistry(WithDefaultTimeout(30 * time.Millisecond))
		desc := echoTool("slow", ReadOnly, nil)
		desc.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "late", nil
			}
		}
		require.NoError(t, reg.Register(desc))

		start := time.Now()
		res := reg.Dispatch(ctx, ActionRequest{ID: "c", Name: "slow", Arguments: map[string]interface{}{"text": "x"}})
		assert.Equal(t, StatusTimeout, res.Status)
		assert.Equal(t, KindTimeout, res.ErrorKind)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("per-tool timeout overrides the default", func(t *testing.T) {
		reg := NewRegistry(WithDefaultTimeout(10 * time.Millisecond))
		desc := echoTool("patient", ReadOnly, nil)
		desc.Timeout = time.Second
		desc.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			time.Sleep(50 * time.Millisecond)
			return "done", nil
		}
		require.NoError(t, reg.Register(desc))

		res := reg.Dispatch(ctx, ActionRequest{ID: "c", Name: "patient", Arguments: map[string]interface{}{"text": "x"}})
		assert.Equal(t, StatusSuccess, res.Status)
	})

	t.Run("long output is truncated", func(t *testing.T) {
		reg := NewRegistry(WithMaxOutputBytes(8))
		require.NoError(t, reg.Register(echoTool("echo", ReadOnly, nil)))

		res := reg.Dispatch(ctx, ActionRequest{ID: "c", Name: "echo", Arguments: map[string]interface{}{"text": strings.Repeat("a", 20)}})
		assert.Equal(t, StatusSuccess, res.Status)
		assert.True(t, res.Truncated)
		assert.Equal(t, "aaaaaaaa", res.Output)
		assert.Contains(t, res.Content(), "[output truncated]")
	})

	t.Run("structured output is rendered as json", func(t *testing.T) {
		reg := NewRegistry()
		desc := echoTool("stat", ReadOnly, nil)
		desc.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"size": 3}, nil
		}
		require.NoError(t, reg.Register(desc))

		res := reg.Dispatch(ctx, ActionRequest{ID: "c", Name: "stat", Arguments: map[string]interface{}{"text": "x"}})
		assert.JSONEq(t, `{"size":3}`, res.Output)
	})

	t.Run("handler sees the call id", func(t *testing.T) {
		reg := NewRegistry()
		var seen string
		desc := echoTool("who", ReadOnly, nil)
		desc.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			seen = ExecContextFromContext(ctx).CallID
			return "", nil
		}
		require.NoError(t, reg.Register(desc))

		reg.Dispatch(ctx, ActionRequest{ID: "call-7", Name: "who", Arguments: map[string]interface{}{"text": "x"}})
		assert.Equal(t, "call-7", seen)
	})
}

func TestRegistry_DispatchDescriptor(t *testing.T) {
	t.Run("should run the given descriptor after a catalog swap", func(t *testing.T) {
		reg := NewRegistry()
		var before, after int32
		origin := RemoteOrigin("srv")
		require.NoError(t, reg.ReplaceOrigin(origin, []ToolDescriptor{echoTool("mcp__srv__echo", ReadOnly, &before)}))

		desc, err := reg.Lookup("mcp__srv__echo")
		require.NoError(t, err)

		swapped := echoTool("mcp__srv__echo", Mutating, &after)
		require.NoError(t, reg.ReplaceOrigin(origin, []ToolDescriptor{swapped}))

		res := reg.DispatchDescriptor(context.Background(), desc, ActionRequest{
			ID: "1", Name: "mcp__srv__echo", Arguments: map[string]interface{}{"text": "hi"},
		})
		assert.Equal(t, StatusSuccess, res.Status, res.Error)
		assert.Equal(t, "hi", res.Output)
		assert.Equal(t, int32(1), atomic.LoadInt32(&before))
		assert.Equal(t, int32(0), atomic.LoadInt32(&after))
	})

	t.Run("should validate arguments against the descriptor schema", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("echo", ReadOnly, nil)))
		desc, err := reg.Lookup("echo")
		require.NoError(t, err)

		res := reg.DispatchDescriptor(context.Background(), desc, ActionRequest{ID: "1", Name: "echo"})
		assert.Equal(t, StatusError, res.Status)
		assert.Equal(t, KindSchemaMismatch, res.ErrorKind)
	})

	t.Run("should reject a request for another tool", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("echo", ReadOnly, nil)))
		desc, err := reg.Lookup("echo")
		require.NoError(t, err)

		res := reg.DispatchDescriptor(context.Background(), desc, ActionRequest{
			ID: "1", Name: "shout", Arguments: map[string]interface{}{"text": "hi"},
		})
		assert.Equal(t, KindNotFound, res.ErrorKind)
	})
}

func TestRegistry_Visible(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("a", ReadOnly, nil)))
	require.NoError(t, reg.Register(echoTool("b", Mutating, nil)))
	pinned := echoTool("activate_skill", ReadOnly, nil)
	pinned.AlwaysVisible = true
	require.NoError(t, reg.Register(pinned))

	names := func(descs []ToolDescriptor) []string {
		out := make([]string, 0, len(descs))
		for _, d := range descs {
			out = append(out, d.Name)
		}
		return out
	}

	assert.Equal(t, []string{"a", "activate_skill", "b"}, names(reg.Visible(nil)))
	assert.Equal(t, []string{"activate_skill", "b"}, names(reg.Visible([]string{"b"})))
	assert.Equal(t, []string{"activate_skill"}, names(reg.Visible([]string{})))

	assert.True(t, reg.IsVisible("a", nil))
	assert.False(t, reg.IsVisible("a", []string{"b"}))
	assert.True(t, reg.IsVisible("activate_skill", []string{"b"}))
	assert.False(t, reg.IsVisible("missing", nil))
}

func TestRegistry_ReplaceOrigin(t *testing.T) {
	origin := RemoteOrigin("files")

	t.Run("should swap the whole origin", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("local", ReadOnly, nil)))
		require.NoError(t, reg.ReplaceOrigin(origin, []ToolDescriptor{echoTool("r1", ReadOnly, nil), echoTool("r2", ReadOnly, nil)}))
		require.NoError(t, reg.ReplaceOrigin(origin, []ToolDescriptor{echoTool("r3", ReadOnly, nil)}))

		_, err := reg.Lookup("r1")
		assert.True(t, errors.Is(err, ErrToolNotFound))
		desc, err := reg.Lookup("r3")
		require.NoError(t, err)
		assert.Equal(t, origin, desc.Origin)
		assert.Equal(t, "files", desc.Origin.ServerID())
		assert.Equal(t, 2, reg.Len())
	})

	t.Run("collision leaves the catalog untouched", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("shared", ReadOnly, nil)))
		require.NoError(t, reg.ReplaceOrigin(origin, []ToolDescriptor{echoTool("r1", ReadOnly, nil)}))

		err := reg.ReplaceOrigin(origin, []ToolDescriptor{echoTool("r2", ReadOnly, nil), echoTool("shared", ReadOnly, nil)})
		assert.True(t, errors.Is(err, ErrDuplicateToolName))

		_, err = reg.Lookup("r1")
		assert.NoError(t, err)
		_, err = reg.Lookup("r2")
		assert.Error(t, err)
	})

	t.Run("remove origin prunes only that origin", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("local", ReadOnly, nil)))
		require.NoError(t, reg.ReplaceOrigin(origin, []ToolDescriptor{echoTool("r1", ReadOnly, nil), echoTool("r2", ReadOnly, nil)}))

		assert.Equal(t, 2, reg.RemoveOrigin(origin))
		assert.Equal(t, 1, reg.Len())
		assert.Equal(t, 0, reg.RemoveOrigin(origin))
	})

	t.Run("dispatch during swaps always sees a whole catalog", func(t *testing.T) {
		reg := NewRegistry()
		set := func(version int) []ToolDescriptor {
			desc := echoTool("remote_echo", ReadOnly, nil)
			desc.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return fmt.Sprintf("v%d", version), nil
			}
			return []ToolDescriptor{desc}
		}
		require.NoError(t, reg.ReplaceOrigin(origin, set(0)))

		var wg sync.WaitGroup
		stop := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				_ = reg.ReplaceOrigin(origin, set(i))
			}
		}()

		for i := 0; i < 200; i++ {
			res := reg.Dispatch(context.Background(), ActionRequest{ID: "c", Name: "remote_echo", Arguments: map[string]interface{}{"text": "x"}})
			require.Equal(t, StatusSuccess, res.Status, res.Error)
		}
		close(stop)
		wg.Wait()
	})
}

func TestOrigin(t *testing.T) {
	assert.False(t, OriginLocal.IsRemote())
	assert.Equal(t, "", OriginLocal.ServerID())
	assert.True(t, RemoteOrigin("git").IsRemote())
	assert.Equal(t, Origin("remote:git"), RemoteOrigin("git"))
}

func TestActionResultContent(t *testing.T) {
	req := ActionRequest{ID: "1", Name: "delete_file"}
	assert.Equal(t, "Denied: read-only mode", DeniedResult(req, "read-only mode").Content())
	assert.Equal(t, "Timeout: slow", ActionResult{Status: StatusTimeout, Error: "slow"}.Content())
	assert.Equal(t, "Error (NotFound): x", ErrorResult(req, KindNotFound, errors.New("x")).Content())
}
