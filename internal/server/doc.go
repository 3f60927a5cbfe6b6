// Package server hosts the Fiber HTTP service, the request middleware chain and
// the source registry that maps a Host header to a configured source. Each
// source owns its own manager.Manager, built from config at startup, so every
// source has independent memory, disk and download limits.
package server
