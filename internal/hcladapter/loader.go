// Package hcladapter loads HCL configuration documents into the
// format-agnostic config.Node model, as an alternate front-end next to YAML.
// Documents use the attribute-bag form: every top-level attribute becomes a
// key in the node tree.
package hcladapter

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/perceptgo/internal/config"
)

// Loader implements config.Loader for .hcl documents.
type Loader struct {
	fsys billy.Filesystem
}

// New returns a loader reading from the given filesystem.
func New(fsys billy.Filesystem) *Loader {
	return &Loader{fsys: fsys}
}

// Load implements config.Loader. A ref naming a directory loads every .hcl
// file inside it, merged in lexical order.
func (l *Loader) Load(ctx context.Context, ref string) (config.Node, error) {
	if info, err := l.fsys.Stat(ref); err == nil && info.IsDir() {
		return l.loadDir(ctx, ref)
	}
	raw, err := util.ReadFile(l.fsys, ref)
	if err != nil {
		return nil, &config.ConfigError{Kind: config.KindParse, Msg: fmt.Sprintf("reading %q", ref), Err: err}
	}
	return Parse(raw, ref)
}

func (l *Loader) loadDir(ctx context.Context, dir string) (config.Node, error) {
	entries, err := l.fsys.ReadDir(dir)
	if err != nil {
		return nil, &config.ConfigError{Kind: config.KindParse, Msg: fmt.Sprintf("reading %q", dir), Err: err}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(path.Ext(e.Name())) == ".hcl" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, &config.ConfigError{Kind: config.KindParse, Msg: fmt.Sprintf("no HCL fragments in %q", dir)}
	}
	sort.Strings(names)
	var merged config.Node
	for _, name := range names {
		doc, err := l.Load(ctx, path.Join(dir, name))
		if err != nil {
			return nil, err
		}
		merged = config.Merge(merged, doc)
	}
	return merged, nil
}

// Parse parses one HCL document into the canonical Node shape.
func Parse(raw []byte, ref string) (config.Node, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(raw, ref)
	if diags.HasErrors() {
		return nil, &config.ConfigError{Kind: config.KindParse, Msg: fmt.Sprintf("parsing %q", ref), Err: diags}
	}

	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, &config.ConfigError{Kind: config.KindParse, Msg: fmt.Sprintf("reading attributes of %q", ref), Err: diags}
	}

	doc := make(map[string]any, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, &config.ConfigError{Kind: config.KindParse, Path: name, Msg: fmt.Sprintf("evaluating %q", ref), Err: diags}
		}
		goVal, err := ctyToGo(val)
		if err != nil {
			return nil, &config.ConfigError{Kind: config.KindParse, Path: name, Msg: "converting value", Err: err}
		}
		doc[name] = goVal
	}

	node, err := config.NormalizeNode(doc)
	if err != nil {
		return nil, &config.ConfigError{Kind: config.KindParse, Msg: fmt.Sprintf("normalizing %q", ref), Err: err}
	}
	return node, nil
}
