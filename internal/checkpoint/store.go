package checkpoint

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/vmihailenco/msgpack/v5"
)

// Store reads and writes checkpoint records under one directory of a
// filesystem (osfs in production, memfs in tests). Records are written to a
// temporary name and renamed into place, never rewritten; later records
// supersede earlier ones unless KeepLatest prunes them.
type Store struct {
	fsys       billy.Filesystem
	dir        string
	keepLatest bool
}

// NewStore creates a store rooted at dir. With keepLatest, a successful
// write prunes every superseded record.
func NewStore(fsys billy.Filesystem, dir string, keepLatest bool) *Store {
	return &Store{fsys: fsys, dir: dir, keepLatest: keepLatest}
}

func refName(step int64) string {
	return fmt.Sprintf("step-%012d.ckpt", step)
}

// Write persists a record and returns its reference.
func (s *Store) Write(rec *Record) (string, error) {
	ref := refName(rec.Manifest.GlobalStep)
	full := path.Join(s.dir, ref)

	if err := s.fsys.MkdirAll(s.dir, 0o755); err != nil {
		return "", &StorageError{Op: "mkdir", Ref: s.dir, Err: err}
	}
	if _, err := s.fsys.Stat(full); err == nil {
		return "", &StorageError{Op: "write", Ref: ref, Err: os.ErrExist}
	}

	raw, err := msgpack.Marshal(rec)
	if err != nil {
		return "", &StorageError{Op: "encode", Ref: ref, Err: err}
	}

	tmp := full + ".tmp"
	if err := util.WriteFile(s.fsys, tmp, raw, 0o644); err != nil {
		return "", &StorageError{Op: "write", Ref: ref, Err: err}
	}
	if err := s.fsys.Rename(tmp, full); err != nil {
		return "", &StorageError{Op: "rename", Ref: ref, Err: err}
	}

	if s.keepLatest {
		s.prune(ref)
	}
	return ref, nil
}

// prune removes every record other than keep. Pruning is best-effort: a
// failed removal never fails the write that superseded it.
func (s *Store) prune(keep string) {
	refs, err := s.List()
	if err != nil {
		return
	}
	for _, ref := range refs {
		if ref != keep {
			_ = s.fsys.Remove(path.Join(s.dir, ref))
		}
	}
}

// Read loads a record by reference and rejects unknown schema versions.
// Task-set compatibility is the caller's check, via Validate, because only
// the caller knows the current configuration's hash.
func (s *Store) Read(ref string) (*Record, error) {
	raw, err := util.ReadFile(s.fsys, path.Join(s.dir, ref))
	if err != nil {
		return nil, &StorageError{Op: "read", Ref: ref, Err: err}
	}
	var rec Record
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, &StorageError{Op: "decode", Ref: ref, Err: err}
	}
	if rec.Manifest.SchemaVersion != SchemaVersion {
		return nil, &IncompatibleCheckpointError{
			Ref:    ref,
			Reason: fmt.Sprintf("schema version %d not supported (want %d)", rec.Manifest.SchemaVersion, SchemaVersion),
		}
	}
	return &rec, nil
}

// List returns every record reference in step order.
func (s *Store) List() ([]string, error) {
	entries, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list", Ref: s.dir, Err: err}
	}
	var refs []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "step-") && strings.HasSuffix(name, ".ckpt") {
			refs = append(refs, name)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// Latest returns the reference of the most recent record, or "" when the
// store is empty.
func (s *Store) Latest() (string, error) {
	refs, err := s.List()
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "", nil
	}
	return refs[len(refs)-1], nil
}
