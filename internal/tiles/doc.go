// Package tiles serves slippy-map tiles through a manager.Manager. Tiles are
// addressed by zoom/x/y in the Web-Mercator scheme, and can also be looked up
// from a latitude/longitude pair.
package tiles
