// Package manager is the public entry point of the cache: a Manager checks the
// memory tier synchronously, then runs a disk lookup and, on a miss, a
// de-duplicated remote fetch. Final results are delivered through a
// Dispatcher so every asynchronous callback runs on one delivery context.
//
// Each Manager is an owned instance configured through Options; there is no
// package-level singleton, so independently configured caches can coexist.
package manager
