// Package fetch de-duplicates cache-miss downloads by key and runs them on a
// bounded worker pool with two priority classes.
//
// A Coordinator keeps one Pending per in-flight key. The first caller for a
// key creates it and decides when to Schedule it (typically after a disk
// lookup missed); later callers attach as waiters and share the single result.
// Waiters cancel cooperatively: when the last one cancels before the fetch
// started, the Pending is abandoned and never runs.
package fetch
