// Package data implements the per-task input pipeline: dataset access,
// deterministic sharding across workers, reproducible augmentation, and
// collation of per-sample tensors into the per-step multi-task Batch.
//
// Everything downstream relies on two properties proved in this package's
// tests: for a given seed and epoch the union of worker shards is the full
// dataset exactly once (uneven shard sizes differ by at most one; nothing is
// dropped or padded), and augmentation depends only on the derived stream
// seed, never on wall clock or iteration order.
package data
