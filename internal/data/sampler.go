package data

import (
	"hash/fnv"
	"math/rand"
)

// Shard returns worker's slice of the epoch-(seed)-deterministic permutation
// of n dataset indices, dealt round-robin across workers.
//
// Partition policy: shards are exact and uneven. Sizes differ by at most
// one, no index is dropped and none is padded in, so the union of all
// workers' shards is the full permutation exactly once per epoch. 103
// samples over 4 workers shard as 26/26/26/25.
func Shard(n int, seed int64, epoch, worker, workers int) []int {
	if workers <= 0 || worker < 0 || worker >= workers {
		panic("data: worker index out of range")
	}
	perm := rand.New(rand.NewSource(epochSeed(seed, epoch))).Perm(n)
	shard := make([]int, 0, (n+workers-1)/workers)
	for i := worker; i < n; i += workers {
		shard = append(shard, perm[i])
	}
	return shard
}

// epochSeed derives the shared per-epoch shuffle seed. Every worker computes
// the same value, so all workers see the same permutation before dealing.
func epochSeed(seed int64, epoch int) int64 {
	h := fnv.New64a()
	writeInt64(h, seed)
	writeInt64(h, int64(epoch))
	return int64(h.Sum64())
}

// StreamSeed derives the augmentation seed for one (task, epoch, worker)
// stream from the run seed. Checkpoints persist only the run seed; every
// stream seed is recomputed on resume.
func StreamSeed(seed int64, taskID string, epoch, worker int) int64 {
	h := fnv.New64a()
	writeInt64(h, seed)
	_, _ = h.Write([]byte(taskID))
	writeInt64(h, int64(epoch))
	writeInt64(h, int64(worker))
	return int64(h.Sum64())
}

func writeInt64(h interface{ Write([]byte) (int, error) }, v int64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	_, _ = h.Write(buf[:])
}
