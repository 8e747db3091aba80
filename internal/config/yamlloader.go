package config

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"
)

// YAMLLoader loads YAML documents from a filesystem. Inherit references are
// paths relative to the filesystem root.
type YAMLLoader struct {
	fsys billy.Filesystem
}

// NewYAMLLoader returns a loader reading from the given filesystem
// (osfs in production, memfs in tests).
func NewYAMLLoader(fsys billy.Filesystem) *YAMLLoader {
	return &YAMLLoader{fsys: fsys}
}

// Load implements Loader. A ref naming a directory loads every .yaml/.yml
// file inside it, merged in lexical order.
func (l *YAMLLoader) Load(ctx context.Context, ref string) (Node, error) {
	if info, err := l.fsys.Stat(ref); err == nil && info.IsDir() {
		return l.loadDir(ctx, ref)
	}
	raw, err := util.ReadFile(l.fsys, ref)
	if err != nil {
		return nil, &ConfigError{Kind: KindParse, Msg: fmt.Sprintf("reading %q", ref), Err: err}
	}
	return ParseYAML(raw, ref)
}

func (l *YAMLLoader) loadDir(ctx context.Context, dir string) (Node, error) {
	entries, err := l.fsys.ReadDir(dir)
	if err != nil {
		return nil, &ConfigError{Kind: KindParse, Msg: fmt.Sprintf("reading %q", dir), Err: err}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(path.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, &ConfigError{Kind: KindParse, Msg: fmt.Sprintf("no YAML fragments in %q", dir)}
	}
	sort.Strings(names)
	var merged Node
	for _, name := range names {
		doc, err := l.Load(ctx, path.Join(dir, name))
		if err != nil {
			return nil, err
		}
		merged = Merge(merged, doc)
	}
	return merged, nil
}

// ParseYAML parses one YAML document into the canonical Node shape.
func ParseYAML(raw []byte, ref string) (Node, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &ConfigError{Kind: KindParse, Msg: fmt.Sprintf("parsing %q", ref), Err: err}
	}
	node, err := NormalizeNode(doc)
	if err != nil {
		return nil, &ConfigError{Kind: KindParse, Msg: fmt.Sprintf("normalizing %q", ref), Err: err}
	}
	return node, nil
}
