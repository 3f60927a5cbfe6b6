package tiles

import (
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
)

const (
	// MaxZoom 是支持的最大缩放级别。
	MaxZoom = 22
	// maxLatitude 是 Web-Mercator 投影可表示的纬度上限。
	maxLatitude = 85.05112878
)

// ErrInvalidTile 表示坐标超出该缩放级别的范围。
var ErrInvalidTile = errors.New("invalid tile coordinates")

// Tile 是一个 slippy-map 瓦片坐标。
type Tile struct {
	Zoom int
	X    int
	Y    int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.X, t.Y)
}

// Validate 检查缩放级别与坐标范围。
func (t Tile) Validate() error {
	if t.Zoom < 0 || t.Zoom > MaxZoom {
		return fmt.Errorf("%w: zoom %d", ErrInvalidTile, t.Zoom)
	}
	n := 1 << t.Zoom
	if t.X < 0 || t.X >= n || t.Y < 0 || t.Y >= n {
		return fmt.Errorf("%w: %s", ErrInvalidTile, t)
	}
	return nil
}

// FromLatLon 返回包含该经纬度的瓦片；纬度被限制在投影范围内，经度按 360° 取模。
func FromLatLon(zoom int, lat, lon float64) (Tile, error) {
	if zoom < 0 || zoom > MaxZoom {
		return Tile{}, fmt.Errorf("%w: zoom %d", ErrInvalidTile, zoom)
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return Tile{}, fmt.Errorf("%w: lat/lon must be finite", ErrInvalidTile)
	}
	lat = math.Max(-maxLatitude, math.Min(maxLatitude, lat))
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	lon -= 180

	n := float64(int(1) << zoom)
	latRad := lat * math.Pi / 180
	x := int(math.Floor((lon + 180) / 360 * n))
	y := int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n))

	last := int(n) - 1
	return Tile{Zoom: zoom, X: clamp(x, 0, last), Y: clamp(y, 0, last)}, nil
}

// ParsePath 解析 "z/x/y" 或 "z/x/y.png" 形式的请求路径。
func ParsePath(raw string) (Tile, error) {
	trimmed := strings.Trim(raw, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 3 {
		return Tile{}, fmt.Errorf("%w: path %q", ErrInvalidTile, raw)
	}
	parts[2] = strings.TrimSuffix(parts[2], path.Ext(parts[2]))

	var values [3]int
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return Tile{}, fmt.Errorf("%w: path %q", ErrInvalidTile, raw)
		}
		values[i] = v
	}
	tile := Tile{Zoom: values[0], X: values[1], Y: values[2]}
	if err := tile.Validate(); err != nil {
		return Tile{}, err
	}
	return tile, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
