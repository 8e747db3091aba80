package config

// Merge combines two trees with later-wins precedence: for a key present in
// both, nested nodes merge recursively and everything else (scalars and
// lists) is replaced wholesale by the override. Neither input is mutated.
//
// List replacement is deliberate. Appending or splicing override lists would
// make the effective task set depend on fragment ordering in a way nobody can
// audit from a single document.
func Merge(base, override Node) Node {
	if base == nil {
		return override.Clone()
	}
	out := base.Clone()
	for k, ov := range override {
		bv, exists := out[k]
		bn, baseIsNode := bv.(Node)
		on, overrideIsNode := ov.(Node)
		if exists && baseIsNode && overrideIsNode {
			out[k] = Merge(bn, on)
			continue
		}
		out[k] = cloneValue(ov)
	}
	return out
}

// MergeLayers folds fragments in order, later fragments winning.
func MergeLayers(layers ...Node) Node {
	var out Node
	for _, l := range layers {
		out = Merge(out, l)
	}
	return out
}
