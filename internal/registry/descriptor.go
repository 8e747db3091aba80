package registry

import (
	"fmt"

	"github.com/vk/perceptgo/internal/config"
)

// Descriptor is an immutable reference to a registered type plus its
// arguments, extracted from a resolved configuration leaf of the shape
// {type: string, args: mapping}. It is produced by the resolver side and
// consumed, never mutated, by Build.
type Descriptor struct {
	Category string
	Type     string
	Args     config.Node
}

// DescriptorFromNode extracts a descriptor from a configuration leaf.
func DescriptorFromNode(category string, n config.Node) (Descriptor, error) {
	typeName, ok := n.String("type")
	if !ok || typeName == "" {
		return Descriptor{}, &config.ConfigError{
			Kind: config.KindMissing,
			Path: category + ".type",
			Msg:  "module reference requires a type name",
		}
	}
	var args config.Node
	if raw, present := n["args"]; present {
		args, ok = raw.(config.Node)
		if !ok {
			return Descriptor{}, &config.ConfigError{
				Kind: config.KindType,
				Path: category + ".args",
				Msg:  fmt.Sprintf("args must be a mapping, got %T", raw),
			}
		}
		args = args.Clone()
	}
	return Descriptor{Category: category, Type: typeName, Args: args}, nil
}
