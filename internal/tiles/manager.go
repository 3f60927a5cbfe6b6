package tiles

import (
	"github.com/any-hub/any-cache/internal/manager"
	"github.com/any-hub/any-cache/internal/resource"
)

// Manager 为瓦片请求提供带坐标的回调。
type Manager struct {
	*manager.Manager
}

// NewManager 包装一个以 Provider 为数据源的 manager.Manager。
func NewManager(m *manager.Manager) *Manager {
	return &Manager{Manager: m}
}

// Tile 请求指定坐标的瓦片；回调只接收最终结果，失败时 res 为 nil。
func (m *Manager) Tile(zoom, x, y int, cb func(res *resource.Resource, tile Tile)) (*manager.Token, error) {
	tile := Tile{Zoom: zoom, X: x, Y: y}
	if err := tile.Validate(); err != nil {
		return nil, err
	}
	return m.Request(tile, nil, func(r manager.Result) {
		if cb != nil {
			cb(r.Resource, tile)
		}
	})
}

// TileAt 请求包含该经纬度的瓦片，回调带回原始经纬度。
func (m *Manager) TileAt(zoom int, lat, lon float64, cb func(res *resource.Resource, zoom int, lat, lon float64)) (*manager.Token, error) {
	tile, err := FromLatLon(zoom, lat, lon)
	if err != nil {
		return nil, err
	}
	return m.Request(tile, nil, func(r manager.Result) {
		if cb != nil {
			cb(r.Resource, zoom, lat, lon)
		}
	})
}
