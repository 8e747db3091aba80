package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodeTarget struct {
	Name     string        `cfg:"name"`
	Workers  int           `cfg:"workers"`
	LR       float64       `cfg:"lr"`
	Verbose  bool          `cfg:"verbose,optional"`
	Timeout  time.Duration `cfg:"timeout,optional"`
	Tags     []string      `cfg:"tags,optional"`
	Weights  []float64     `cfg:"weights,optional"`
	Extra    Node          `cfg:"extra,optional"`
	internal string
}

func TestDecodeBasicKinds(t *testing.T) {
	n := Node{
		"name":    "det",
		"workers": int64(4),
		"lr":      0.1,
		"verbose": true,
		"timeout": "30s",
		"tags":    []any{"a", "b"},
		"weights": []any{1.0, int64(2)},
		"extra":   Node{"k": "v"},
	}

	var out decodeTarget
	require.NoError(t, Decode(n, &out))
	assert.Equal(t, "det", out.Name)
	assert.Equal(t, 4, out.Workers)
	assert.Equal(t, 0.1, out.LR)
	assert.True(t, out.Verbose)
	assert.Equal(t, 30*time.Second, out.Timeout)
	assert.Equal(t, []string{"a", "b"}, out.Tags)
	assert.Equal(t, []float64{1, 2}, out.Weights)
	assert.Equal(t, Node{"k": "v"}, out.Extra)
	assert.Empty(t, out.internal)
}

func TestDecodeIntAcceptsIntegralFloat(t *testing.T) {
	var out struct {
		N int `cfg:"n"`
	}
	require.NoError(t, Decode(Node{"n": 8.0}, &out))
	assert.Equal(t, 8, out.N)

	err := Decode(Node{"n": 8.5}, &out)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindType, cfgErr.Kind)
}

func TestDecodeMissingRequired(t *testing.T) {
	var out decodeTarget
	err := Decode(Node{"name": "det", "workers": int64(1)}, &out)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindMissing, cfgErr.Kind)
	assert.Equal(t, "lr", cfgErr.Path)
}

func TestDecodeKeepsPresetDefaults(t *testing.T) {
	out := decodeTarget{Workers: 2, Timeout: time.Minute}
	n := Node{"name": "x", "workers": int64(2), "lr": 0.5}
	require.NoError(t, Decode(n, &out))
	assert.Equal(t, time.Minute, out.Timeout, "optional field keeps preset default")
}

func TestDecodeNestedStruct(t *testing.T) {
	type inner struct {
		Interval int `cfg:"interval"`
	}
	var out struct {
		Checkpoint inner  `cfg:"checkpoint"`
		Ptr        *inner `cfg:"ptr,optional"`
	}
	n := Node{
		"checkpoint": Node{"interval": int64(500)},
		"ptr":        Node{"interval": int64(9)},
	}
	require.NoError(t, Decode(n, &out))
	assert.Equal(t, 500, out.Checkpoint.Interval)
	require.NotNil(t, out.Ptr)
	assert.Equal(t, 9, out.Ptr.Interval)
}

func TestDecodeMapOfFloats(t *testing.T) {
	var out struct {
		Weights map[string]float64 `cfg:"weights"`
	}
	n := Node{"weights": Node{"det": 1.0, "cls": 0.5}}
	require.NoError(t, Decode(n, &out))
	assert.Equal(t, map[string]float64{"det": 1.0, "cls": 0.5}, out.Weights)
}
