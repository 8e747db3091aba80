// Package config defines the format-agnostic configuration model and the
// operations that turn layered configuration documents into one resolved tree.
//
// A configuration is a tree of Node values. Documents are parsed by a
// format-specific Loader (YAML in this package, HCL in internal/hcladapter)
// into the same Node shape, merged with a documented later-wins precedence,
// and resolved: inheritance markers are expanded, cycles are rejected, and
// the result is a fixpoint of Resolve. All of this is pure transformation;
// nothing here touches the registry or the runner.
package config
