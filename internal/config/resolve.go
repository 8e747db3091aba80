package config

import (
	"context"
	"fmt"
)

// InheritKey marks a document-level inheritance reference: a string or list
// of strings naming parent documents, applied lowest-precedence first. The
// marker is consumed by Resolve and never survives into a resolved tree.
const InheritKey = "inherit"

// Resolve expands inheritance markers in a document and validates module
// reference leaves. The result contains no markers, so resolving an
// already-resolved tree returns an identical tree. Resolution is pure: the
// input is never mutated.
func Resolve(ctx context.Context, loader Loader, doc Node) (Node, error) {
	r := &resolver{loader: loader, visiting: map[string]bool{}}
	out, err := r.resolveDoc(ctx, doc, "")
	if err != nil {
		return nil, err
	}
	if err := validateTree(out, ""); err != nil {
		return nil, err
	}
	return out, nil
}

type resolver struct {
	loader   Loader
	visiting map[string]bool
}

func (r *resolver) resolveDoc(ctx context.Context, doc Node, ref string) (Node, error) {
	parents, hasInherit := doc.Strings(InheritKey)
	if _, present := doc[InheritKey]; present && !hasInherit {
		return nil, errType(InheritKey, "inherit must be a string or a list of strings")
	}
	if !hasInherit {
		return doc.Clone(), nil
	}

	merged := Node{}
	for _, parent := range parents {
		if r.visiting[parent] {
			return nil, &ConfigError{
				Kind: KindCycle,
				Path: InheritKey,
				Msg:  fmt.Sprintf("cyclic inheritance through %q", parent),
			}
		}
		if r.loader == nil {
			return nil, &ConfigError{
				Kind: KindInvalid,
				Path: InheritKey,
				Msg:  fmt.Sprintf("document inherits %q but no loader is available", parent),
			}
		}
		r.visiting[parent] = true
		parentDoc, err := r.loader.Load(ctx, parent)
		if err != nil {
			return nil, &ConfigError{Kind: KindParse, Path: InheritKey, Msg: fmt.Sprintf("loading parent %q", parent), Err: err}
		}
		resolvedParent, err := r.resolveDoc(ctx, parentDoc, parent)
		if err != nil {
			return nil, err
		}
		delete(r.visiting, parent)
		merged = Merge(merged, resolvedParent)
	}

	child := doc.Clone()
	delete(child, InheritKey)
	return Merge(merged, child), nil
}

// validateTree checks module reference leaves: any node carrying a "type"
// key must name the type as a non-empty string, and its "args", if present,
// must be a nested node.
func validateTree(v any, path string) error {
	switch val := v.(type) {
	case Node:
		if raw, present := val["type"]; present {
			t, ok := raw.(string)
			if !ok {
				return errType(join(path, "type"), fmt.Sprintf("type name must be a string, got %T", raw))
			}
			if t == "" {
				return &ConfigError{Kind: KindInvalid, Path: join(path, "type"), Msg: "empty type name"}
			}
			if rawArgs, hasArgs := val["args"]; hasArgs {
				if _, ok := rawArgs.(Node); !ok {
					return errType(join(path, "args"), fmt.Sprintf("args must be a mapping, got %T", rawArgs))
				}
			}
		}
		for k, e := range val {
			if err := validateTree(e, join(path, k)); err != nil {
				return err
			}
		}
	case []any:
		for i, e := range val {
			if err := validateTree(e, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
