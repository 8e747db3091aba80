package checkpoint

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/perceptgo/internal/config"
)

func threeTasks() []TaskSignature {
	return []TaskSignature{
		{ID: "det", Config: config.Node{"head": config.Node{"type": "box_head"}}},
		{ID: "cls", Config: config.Node{"head": config.Node{"type": "linear"}}},
		{ID: "seg", Config: config.Node{"head": config.Node{"type": "pixel"}}},
	}
}

func TestHashTasksOrderIndependent(t *testing.T) {
	sigs := threeTasks()
	reversed := []TaskSignature{sigs[2], sigs[1], sigs[0]}
	assert.Equal(t, HashTasks(sigs), HashTasks(reversed))
}

func TestHashTasksSensitiveToConfig(t *testing.T) {
	a := HashTasks(threeTasks())

	changed := threeTasks()
	changed[0].Config = config.Node{"head": config.Node{"type": "other"}}
	assert.NotEqual(t, a, HashTasks(changed))

	dropped := threeTasks()[:2]
	assert.NotEqual(t, a, HashTasks(dropped))
}

// A checkpoint from a 3-task run resumed against a config declaring only
// 2 tasks must be rejected.
func TestValidateTaskSetMismatch(t *testing.T) {
	threeHash := HashTasks(threeTasks())
	twoHash := HashTasks(threeTasks()[:2])

	m := Manifest{SchemaVersion: SchemaVersion, TaskHash: threeHash}
	require.NoError(t, Validate(m, threeHash))

	err := Validate(m, twoHash)
	var incompatible *IncompatibleCheckpointError
	require.ErrorAs(t, err, &incompatible)
}

func TestValidateSchemaVersion(t *testing.T) {
	m := Manifest{SchemaVersion: SchemaVersion + 1, TaskHash: "x"}
	var incompatible *IncompatibleCheckpointError
	require.ErrorAs(t, Validate(m, "x"), &incompatible)
}

func testRecord(step int64) *Record {
	return &Record{
		Manifest: Manifest{
			SchemaVersion: SchemaVersion,
			TaskHash:      "abc",
			GlobalStep:    step,
			RunID:         "run-1",
		},
		State: State{
			Epoch:      2,
			GlobalStep: step,
			Seed:       7,
			Params:     [][]float64{{1, 2}, {3}},
			Optimizer:  [][]float64{{0.1, 0.2}, {0.3}},
			Scheduler:  map[string]float64{"last_lr": 0.01},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(memfs.New(), "ckpt", false)

	ref, err := s.Write(testRecord(500))
	require.NoError(t, err)
	assert.Equal(t, "step-000000000500.ckpt", ref)

	rec, err := s.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, testRecord(500), rec)
}

func TestStoreSupersedesNotOverwrites(t *testing.T) {
	s := NewStore(memfs.New(), "ckpt", false)

	_, err := s.Write(testRecord(100))
	require.NoError(t, err)
	_, err = s.Write(testRecord(200))
	require.NoError(t, err)

	refs, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"step-000000000100.ckpt", "step-000000000200.ckpt"}, refs)

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, "step-000000000200.ckpt", latest)

	// Writing the same step twice would mutate an immutable record.
	_, err = s.Write(testRecord(200))
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
}

func TestStoreKeepLatestPrunes(t *testing.T) {
	s := NewStore(memfs.New(), "ckpt", true)

	_, err := s.Write(testRecord(100))
	require.NoError(t, err)
	_, err = s.Write(testRecord(200))
	require.NoError(t, err)

	refs, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"step-000000000200.ckpt"}, refs)
}

func TestStoreReadRejectsUnknownSchema(t *testing.T) {
	s := NewStore(memfs.New(), "ckpt", false)
	rec := testRecord(1)
	rec.Manifest.SchemaVersion = 99
	ref, err := s.Write(rec)
	require.NoError(t, err)

	_, err = s.Read(ref)
	var incompatible *IncompatibleCheckpointError
	require.ErrorAs(t, err, &incompatible)
}

func TestStoreEmpty(t *testing.T) {
	s := NewStore(memfs.New(), "ckpt", false)
	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Empty(t, latest)

	_, err = s.Read("step-000000000001.ckpt")
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
}
