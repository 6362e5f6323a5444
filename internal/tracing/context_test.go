package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewRunID(), NewRunID())
}

func TestNewRunContext(t *testing.T) {
	t.Run("assigns trace and run ids", func(t *testing.T) {
		ctx := NewRunContext(context.Background(), "sess-1")

		tc := FromContext(ctx)
		assert.NotEmpty(t, tc.TraceID)
		assert.NotEmpty(t, tc.RunID)
		assert.Equal(t, "sess-1", tc.SessionID)
	})

	t.Run("keeps an existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-abc")
		ctx = NewRunContext(ctx, "sess-2")
		assert.Equal(t, "trace-abc", GetTraceID(ctx))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithSessionID(context.Background(), "sess-9")
	ctx = WithCallID(ctx, "call-1")
	l := LoggerFromContext(ctx, base)
	l.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"session_id":"sess-9"`)
	assert.Contains(t, buf.String(), `"call_id":"call-1"`)
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(NewRunContext(context.Background(), "sess-3"))
	cancel()

	detached := Detach(parent)
	require.NoError(t, detached.Err())
	assert.Equal(t, "sess-3", GetSessionID(detached))
	assert.Equal(t, GetRunID(parent), GetRunID(detached))
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "nanoclaw.test", "op")
	defer EndSpan(span, nil)
	assert.NotNil(t, ctx)
}
