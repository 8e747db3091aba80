// Package registry provides the central "glue" for the plugin system.
//
// The Registry maps (category, type name) pairs from configuration documents
// to compiled Go factories: datasets, transforms, backbones, heads, losses,
// optimizers, schedulers and metrics all arrive through the same table. It is
// populated once at startup, before any worker runs, and sealed; after that
// it is read-only and safe for concurrent use without locking.
//
// Registration is an explicit build-time call per module, so a missing or
// misdeclared component surfaces when the object graph is built, not
// mid-run.
package registry
