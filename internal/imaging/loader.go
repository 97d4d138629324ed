package imaging

import (
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

// Cache is a thread-safe bounded key/value cache.
//
// When the cache is full, the oldest entry (by insertion) is evicted. A
// capacity of zero or less means unbounded. Cache is used for decoded
// background images and for render results keyed on raster identity, where
// new identities replace old ones rather than invalidating them.
//
// # Example Usage
//
//	cache := imaging.NewCache[string, image.Image](8)
//	img, err := cache.GetOrLoad(path, func() (image.Image, error) {
//	    return imaging.Open(path)
//	})
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	capacity int
	entries  map[K]V
	order    []K
}

// NewCache creates an empty cache holding at most capacity entries.
func NewCache[K comparable, V any](capacity int) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: capacity,
		entries:  make(map[K]V),
	}
}

// Get returns the cached value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put stores a value, evicting the oldest entry when the cache is full.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = value
	for c.capacity > 0 && len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Errors are not cached. Concurrent misses may call load more than once.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Put(key, v)
	return v, nil
}

// Evict removes a key. Missing keys are ignored.
func (c *Cache[K, V]) Evict(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// EvictFunc removes every key for which match returns true.
func (c *Cache[K, V]) EvictFunc(match func(K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	for _, k := range c.order {
		if match(k) {
			delete(c.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]V)
	c.order = nil
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ImageCache caches decoded images by path.
type ImageCache = Cache[string, image.Image]

// NewImageCache creates an image cache holding at most capacity images.
func NewImageCache(capacity int) *ImageCache {
	return NewCache[string, image.Image](capacity)
}

// LoadImage returns the decoded image at path, reading it through cache when
// cache is non-nil.
//
// Supported formats are those registered with disintegration/imaging: PNG,
// JPEG, GIF, TIFF and BMP. The image is cached using the exact path string
// provided.
func LoadImage(cache *ImageCache, path string) (image.Image, error) {
	load := func() (image.Image, error) {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load image: %w", err)
		}
		return img, nil
	}
	if cache == nil {
		return load()
	}
	return cache.GetOrLoad(path, load)
}

// ImageInfo contains metadata about a loaded image file.
type ImageInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the format detected from the file extension, or "unknown".
	Format string `json:"format"`

	// FileSizeBytes is the size of the image file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// LoadImageInfo loads an image and returns its dimensions and format.
//
// Parameters:
//   - cache: The image cache to use for loading. May be nil.
//   - path: Path to the image file.
//
// Returns:
//   - *ImageInfo: Metadata about the image.
//   - error: Non-nil if the image cannot be loaded or the file cannot be stat'd.
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	img, err := LoadImage(cache, path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	format := "unknown"
	if f, err := imaging.FormatFromFilename(path); err == nil {
		format = strings.ToLower(f.String())
	}

	bounds := img.Bounds()
	return &ImageInfo{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Format:        format,
		FileSizeBytes: stat.Size(),
	}, nil
}
