// Package checkpoint persists and restores Training State as versioned,
// immutable records. A record is a msgpack document: a manifest (schema
// version, task-set hash, step, run id) followed by the serialized state.
// Readers reject manifests they do not recognize before touching the state,
// so an incompatible resume fails before any worker starts.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vk/perceptgo/internal/config"
)

// SchemaVersion is the record layout version this build reads and writes.
const SchemaVersion = 1

// Manifest identifies a record and the run shape that produced it.
type Manifest struct {
	SchemaVersion int       `msgpack:"schema_version"`
	TaskHash      string    `msgpack:"task_hash"`
	GlobalStep    int64     `msgpack:"global_step"`
	RunID         string    `msgpack:"run_id"`
	CreatedAt     time.Time `msgpack:"created_at"`
}

// State is the serialized Training State. Params and Optimizer are ordered
// by the composite model's stable parameter order; the scheduler phase is
// derived from GlobalStep on restore, so only named scalar extras are kept.
type State struct {
	Epoch      int                `msgpack:"epoch"`
	GlobalStep int64              `msgpack:"global_step"`
	Seed       int64              `msgpack:"seed"`
	Params     [][]float64        `msgpack:"params"`
	Optimizer  [][]float64        `msgpack:"optimizer"`
	Scheduler  map[string]float64 `msgpack:"scheduler"`
}

// Record is one durable snapshot.
type Record struct {
	Manifest Manifest `msgpack:"manifest"`
	State    State    `msgpack:"state"`
}

// TaskSignature is the identifying configuration of one task, hashed into
// the manifest.
type TaskSignature struct {
	ID     string
	Config config.Node
}

// HashTasks computes the task-set hash: SHA-256 over the canonical form of
// all task signatures, sorted by id. Two runs agree on the hash iff they
// declare the same tasks with the same identifying config.
func HashTasks(sigs []TaskSignature) string {
	sorted := append([]TaskSignature(nil), sigs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, sig := range sorted {
		fmt.Fprintf(h, "task=%s\n", sig.ID)
		writeCanonical(h, sig.Config)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeCanonical serializes a node with sorted keys so the hash is
// independent of map iteration order.
func writeCanonical(w interface{ Write([]byte) (int, error) }, v any) {
	switch val := v.(type) {
	case config.Node:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprint(w, "{")
		for _, k := range keys {
			fmt.Fprintf(w, "%s:", k)
			writeCanonical(w, val[k])
			fmt.Fprint(w, ";")
		}
		fmt.Fprint(w, "}")
	case []any:
		fmt.Fprint(w, "[")
		for _, e := range val {
			writeCanonical(w, e)
			fmt.Fprint(w, ";")
		}
		fmt.Fprint(w, "]")
	case string:
		fmt.Fprintf(w, "%q", val)
	default:
		fmt.Fprintf(w, "%v", val)
	}
}

// Validate checks a manifest against the version this build understands and
// the task set the current configuration declares.
func Validate(m Manifest, wantTaskHash string) error {
	if m.SchemaVersion != SchemaVersion {
		return &IncompatibleCheckpointError{
			Reason: fmt.Sprintf("schema version %d not supported (want %d)", m.SchemaVersion, SchemaVersion),
		}
	}
	if !strings.EqualFold(m.TaskHash, wantTaskHash) {
		return &IncompatibleCheckpointError{
			Reason: fmt.Sprintf("task set hash %.12s does not match current configuration %.12s", m.TaskHash, wantTaskHash),
		}
	}
	return nil
}
