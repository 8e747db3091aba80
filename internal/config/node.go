package config

import "fmt"

// Node is one level of the configuration tree: a mapping from string keys to
// scalars (string, bool, int64, float64), lists ([]any), or nested Nodes.
// Adapters normalize their parse output into this shape before anything else
// sees it.
type Node map[string]any

// Clone returns a deep copy of the node. Merge and Resolve never mutate
// their inputs; they clone instead.
func (n Node) Clone() Node {
	if n == nil {
		return nil
	}
	out := make(Node, len(n))
	for k, v := range n {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Node:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}

// Child returns the nested node under key, if present and a node.
func (n Node) Child(key string) (Node, bool) {
	child, ok := n[key].(Node)
	return child, ok
}

// String returns the string value under key, if present and a string.
func (n Node) String(key string) (string, bool) {
	s, ok := n[key].(string)
	return s, ok
}

// Strings returns the value under key coerced to a []string. A bare string
// is returned as a one-element slice.
func (n Node) Strings(key string) ([]string, bool) {
	switch v := n[key].(type) {
	case string:
		return []string{v}, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// List returns the list value under key, if present and a list.
func (n Node) List(key string) ([]any, bool) {
	l, ok := n[key].([]any)
	return l, ok
}

// Normalize converts the output of a format-specific parser (maps keyed by
// string or any, raw int sizes, nested slices) into the canonical Node shape.
// It fails when a mapping key is not a string.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(Node, len(val))
		for k, e := range val {
			ne, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = ne
		}
		return out, nil
	case map[any]any:
		out := make(Node, len(val))
		for k, e := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string mapping key %v", k)
			}
			ne, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", ks, err)
			}
			out[ks] = ne
		}
		return out, nil
	case Node:
		return val.Clone(), nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			ne, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = ne
		}
		return out, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint:
		return int64(val), nil
	case uint64:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case nil, string, bool, int64, float64:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported configuration value type %T", v)
	}
}

// NormalizeNode is Normalize restricted to a top-level mapping.
func NormalizeNode(v any) (Node, error) {
	nv, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	n, ok := nv.(Node)
	if !ok {
		return nil, fmt.Errorf("document root must be a mapping, got %T", nv)
	}
	return n, nil
}
