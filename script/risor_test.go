package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRisorEngineCompileAndEvaluate(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorEngine(map[string]any{"x": 0})

	compiled, err := engine.Compile(ctx, `x + 1`)
	require.NoError(t, err)

	value, err := compiled.Evaluate(ctx, map[string]any{"x": 41})
	require.NoError(t, err)
	require.Equal(t, int64(42), value.Value())
	require.True(t, value.IsTruthy())
}

func TestRisorEngineCompileError(t *testing.T) {
	engine := NewRisorEngine(nil)
	_, err := engine.Compile(context.Background(), `func {`)
	require.Error(t, err)
}

func TestRisorValueConversion(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorEngine(nil)

	t.Run("string", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, `"hello"`)
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, "hello", value.Value())
		require.Equal(t, "hello", value.String())
	})

	t.Run("map", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, `{"action": "complete", "n": 2}`)
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, nil)
		require.NoError(t, err)
		result, ok := value.Value().(map[string]any)
		require.True(t, ok)
		require.Equal(t, "complete", result["action"])
		require.Equal(t, int64(2), result["n"])
	})

	t.Run("list", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, `["a", "b"]`)
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, []any{"a", "b"}, value.Value())
	})

	t.Run("falsy values", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, `""`)
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, nil)
		require.NoError(t, err)
		require.False(t, value.IsTruthy())
	})
}
