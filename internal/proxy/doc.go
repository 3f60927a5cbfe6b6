// Package proxy turns HTTP GET requests into manager requests for the source
// resolved by the server router and writes the delivered resource back.
package proxy
