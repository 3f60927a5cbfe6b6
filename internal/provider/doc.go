// Package provider contains the resource.Provider implementations backed by
// HTTP upstreams, together with the shared upstream client and the retrying
// Fetcher they use.
package provider
