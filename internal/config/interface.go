package config

import "context"

// Loader is the interface for a format-specific configuration loader. It
// reads and parses one document into the format-agnostic Node shape; it does
// not merge and it does not resolve.
type Loader interface {
	// Load reads the document identified by ref, which is also the name
	// used by inherit markers in other documents.
	Load(ctx context.Context, ref string) (Node, error)
}

// LoadLayers loads base plus override fragments through one loader and
// resolves the merged result. Fragments are applied in the given order,
// later fragments winning on key conflict.
func LoadLayers(ctx context.Context, loader Loader, refs ...string) (Node, error) {
	var merged Node
	for _, ref := range refs {
		doc, err := loader.Load(ctx, ref)
		if err != nil {
			return nil, err
		}
		resolved, err := Resolve(ctx, loader, doc)
		if err != nil {
			return nil, err
		}
		merged = Merge(merged, resolved)
	}
	if merged == nil {
		merged = Node{}
	}
	return merged, nil
}
