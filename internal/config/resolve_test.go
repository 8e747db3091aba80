package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapLoader serves documents from memory, keyed by ref.
type mapLoader map[string]Node

func (l mapLoader) Load(_ context.Context, ref string) (Node, error) {
	doc, ok := l[ref]
	if !ok {
		return nil, fmt.Errorf("no such document %q", ref)
	}
	return doc.Clone(), nil
}

func TestResolveExpandsInheritance(t *testing.T) {
	loader := mapLoader{
		"base.yaml": {
			"run": Node{"seed": int64(7), "max_steps": int64(100)},
		},
	}
	doc := Node{
		"inherit": "base.yaml",
		"run":     Node{"max_steps": int64(500)},
	}

	got, err := Resolve(context.Background(), loader, doc)
	require.NoError(t, err)

	want := Node{
		"run": Node{"seed": int64(7), "max_steps": int64(500)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("resolved tree mismatch (-want +got):\n%s", diff)
	}
	_, hasMarker := got[InheritKey]
	assert.False(t, hasMarker, "inherit marker must not survive resolution")
}

func TestResolveMultipleParentsPrecedence(t *testing.T) {
	loader := mapLoader{
		"a.yaml": {"k": "a", "only_a": true},
		"b.yaml": {"k": "b"},
	}
	doc := Node{"inherit": []any{"a.yaml", "b.yaml"}}

	got, err := Resolve(context.Background(), loader, doc)
	require.NoError(t, err)
	// Later parents win over earlier, child wins over all.
	assert.Equal(t, "b", got["k"])
	assert.Equal(t, true, got["only_a"])
}

func TestResolveIdempotent(t *testing.T) {
	loader := mapLoader{
		"base.yaml": {"run": Node{"seed": int64(7)}},
	}
	doc := Node{
		"inherit":  "base.yaml",
		"backbone": Node{"type": "mlp", "args": Node{"width": int64(32)}},
	}

	once, err := Resolve(context.Background(), loader, doc)
	require.NoError(t, err)
	twice, err := Resolve(context.Background(), loader, once)
	require.NoError(t, err)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("resolve is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestResolveCycleDetected(t *testing.T) {
	loader := mapLoader{
		"a.yaml": {"inherit": "b.yaml"},
		"b.yaml": {"inherit": "a.yaml"},
	}
	doc := Node{"inherit": "a.yaml"}

	_, err := Resolve(context.Background(), loader, doc)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindCycle, cfgErr.Kind)
}

func TestResolveSelfCycleDetected(t *testing.T) {
	loader := mapLoader{
		"a.yaml": {"inherit": "a.yaml"},
	}
	doc := Node{"inherit": "a.yaml"}

	_, err := Resolve(context.Background(), loader, doc)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindCycle, cfgErr.Kind)
}

func TestResolveRejectsBadModuleLeaf(t *testing.T) {
	t.Run("non-string type", func(t *testing.T) {
		doc := Node{"backbone": Node{"type": int64(3)}}
		_, err := Resolve(context.Background(), nil, doc)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, KindType, cfgErr.Kind)
	})

	t.Run("non-mapping args", func(t *testing.T) {
		doc := Node{"backbone": Node{"type": "mlp", "args": "wat"}}
		_, err := Resolve(context.Background(), nil, doc)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, KindType, cfgErr.Kind)
	})
}

func TestResolveMissingParentIsParseError(t *testing.T) {
	doc := Node{"inherit": "nope.yaml"}
	_, err := Resolve(context.Background(), mapLoader{}, doc)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, KindParse, cfgErr.Kind)
}
