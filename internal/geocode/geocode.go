package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

// Resolver turns a street address into coordinates. The computation lives in
// an external geocoding service; this package is only the client for it.
type Resolver interface {
	Resolve(ctx context.Context, address string) (models.Coord, error)
}

var ErrNoResult = errors.New("geocode: no result for address")

// HTTPResolver queries a Nominatim-compatible /search endpoint.
type HTTPResolver struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPResolver(endpoint string) *HTTPResolver {
	return &HTTPResolver{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (r *HTTPResolver) Resolve(ctx context.Context, address string) (models.Coord, error) {
	u := fmt.Sprintf("%s/search?format=json&limit=1&q=%s", r.Endpoint, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Coord{}, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return models.Coord{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Coord{}, fmt.Errorf("geocode: status %d", resp.StatusCode)
	}
	var out []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Coord{}, err
	}
	if len(out) == 0 {
		return models.Coord{}, ErrNoResult
	}
	lat, err := strconv.ParseFloat(out[0].Lat, 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("geocode: bad lat: %w", err)
	}
	lon, err := strconv.ParseFloat(out[0].Lon, 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("geocode: bad lon: %w", err)
	}
	return models.Coord{Lat: lat, Lon: lon}, nil
}

// Cache is a tiny in-memory TTL cache for address lookups.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	c  models.Coord
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) Get(address string) (models.Coord, bool) {
	c.mu.RLock()
	e, ok := c.store[address]
	c.mu.RUnlock()
	if !ok {
		return models.Coord{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, address)
		c.mu.Unlock()
		return models.Coord{}, false
	}
	return e.c, true
}

func (c *Cache) Set(address string, coord models.Coord) {
	c.mu.Lock()
	c.store[address] = cacheEntry{c: coord, ts: time.Now()}
	c.mu.Unlock()
}

// CachedResolver fronts a Resolver with the TTL cache. Addresses repeat a
// lot in practice: popular pickup points, market stalls, depots.
type CachedResolver struct {
	Inner Resolver
	Cache *Cache
}

func (r *CachedResolver) Resolve(ctx context.Context, address string) (models.Coord, error) {
	if c, ok := r.Cache.Get(address); ok {
		return c, nil
	}
	c, err := r.Inner.Resolve(ctx, address)
	if err != nil {
		return models.Coord{}, err
	}
	r.Cache.Set(address, c)
	return c, nil
}

// FillCoords resolves any missing pickup/dropoff coordinates on the order in
// place. Already-geocoded places are left alone.
func FillCoords(ctx context.Context, r Resolver, o *models.Order) error {
	if !o.Pickup.Geocoded() {
		c, err := r.Resolve(ctx, o.Pickup.Address)
		if err != nil {
			return fmt.Errorf("pickup: %w", err)
		}
		o.Pickup.Coord = c
	}
	if !o.Dropoff.Geocoded() {
		c, err := r.Resolve(ctx, o.Dropoff.Address)
		if err != nil {
			return fmt.Errorf("dropoff: %w", err)
		}
		o.Dropoff.Coord = c
	}
	return nil
}
