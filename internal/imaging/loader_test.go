package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// createTestImage creates a simple test image file and returns its path.
// The caller is responsible for removing the file.
func createTestImage(t *testing.T, width, height int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	tmpFile, err := os.CreateTemp("", "test-image-*.png")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer tmpFile.Close()

	if err := png.Encode(tmpFile, img); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to encode image: %v", err)
	}

	return tmpFile.Name()
}

func TestCache_PutGet(t *testing.T) {
	cache := NewCache[string, int](0)
	cache.Put("a", 1)
	cache.Put("b", 2)

	if v, ok := cache.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a): got %d, %v; want 1, true", v, ok)
	}
	if _, ok := cache.Get("missing"); ok {
		t.Error("Get should miss for unknown key")
	}
	if cache.Len() != 2 {
		t.Errorf("Len: got %d, want 2", cache.Len())
	}
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := NewCache[int, string](2)
	cache.Put(1, "one")
	cache.Put(2, "two")
	cache.Put(1, "uno") // update does not change insertion order
	cache.Put(3, "three")

	if _, ok := cache.Get(1); ok {
		t.Error("oldest entry should have been evicted")
	}
	if v, _ := cache.Get(3); v != "three" {
		t.Errorf("Get(3): got %q, want three", v)
	}
	if cache.Len() != 2 {
		t.Errorf("Len: got %d, want 2", cache.Len())
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	cache := NewCache[string, int](4)
	calls := 0
	load := func() (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := cache.GetOrLoad("k", load)
		if err != nil || v != 42 {
			t.Fatalf("GetOrLoad: got %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("load called %d times, want 1", calls)
	}

	_, err := cache.GetOrLoad("bad", func() (int, error) { return 0, errors.New("boom") })
	if err == nil {
		t.Error("GetOrLoad should return the load error")
	}
	if _, ok := cache.Get("bad"); ok {
		t.Error("errors must not be cached")
	}
}

func TestCache_EvictAndEvictFunc(t *testing.T) {
	cache := NewCache[string, int](0)
	for i := 0; i < 5; i++ {
		cache.Put(fmt.Sprintf("r1/%d", i), i)
	}
	cache.Put("r2/0", 9)

	cache.Evict("r1/0")
	cache.Evict("nonexistent")
	if cache.Len() != 5 {
		t.Errorf("Len after Evict: got %d, want 5", cache.Len())
	}

	cache.EvictFunc(func(k string) bool { return filepath.Dir(k) == "r1" })
	if cache.Len() != 1 {
		t.Errorf("Len after EvictFunc: got %d, want 1", cache.Len())
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Clear did not empty cache: %d entries remain", cache.Len())
	}
}

func TestLoadImage_Cached(t *testing.T) {
	cache := NewImageCache(4)
	imgPath := createTestImage(t, 100, 100, color.RGBA{255, 0, 0, 255})
	defer os.Remove(imgPath)

	img1, err := LoadImage(cache, imgPath)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	bounds := img1.Bounds()
	if bounds.Dx() != 100 || bounds.Dy() != 100 {
		t.Errorf("unexpected dimensions: got %dx%d, want 100x100", bounds.Dx(), bounds.Dy())
	}

	img2, err := LoadImage(cache, imgPath)
	if err != nil {
		t.Fatalf("second LoadImage failed: %v", err)
	}
	if img1 != img2 {
		t.Error("second LoadImage did not return cached image")
	}
}

func TestLoadImage_Errors(t *testing.T) {
	if _, err := LoadImage(nil, "/nonexistent/path/to/image.png"); err == nil {
		t.Error("LoadImage should fail for non-existent file")
	}

	tmpFile, err := os.CreateTemp("", "invalid-image-*.png")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.WriteString("not an image")
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	if _, err := LoadImage(NewImageCache(1), tmpFile.Name()); err == nil {
		t.Error("LoadImage should fail for invalid image data")
	}
}

func TestLoadImage_ConcurrentAccess(t *testing.T) {
	cache := NewImageCache(2)
	imgPath := createTestImage(t, 50, 50, color.RGBA{128, 128, 128, 255})
	defer os.Remove(imgPath)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := LoadImage(cache, imgPath); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent LoadImage error: %v", err)
	}
}

func TestLoadImageInfo(t *testing.T) {
	imgPath := createTestImage(t, 200, 150, color.RGBA{255, 128, 64, 255})
	defer os.Remove(imgPath)

	info, err := LoadImageInfo(NewImageCache(1), imgPath)
	if err != nil {
		t.Fatalf("LoadImageInfo failed: %v", err)
	}
	if info.Width != 200 {
		t.Errorf("Width: got %d, want 200", info.Width)
	}
	if info.Height != 150 {
		t.Errorf("Height: got %d, want 150", info.Height)
	}
	if info.Format != "png" {
		t.Errorf("Format: got %s, want png", info.Format)
	}
	if info.FileSizeBytes <= 0 {
		t.Error("FileSizeBytes should be positive")
	}
}

func TestLoadImageInfo_FormatDetection(t *testing.T) {
	tests := []struct {
		ext    string
		format string
	}{
		{".png", "png"},
		{".jpg", "jpeg"},
		{".jpeg", "jpeg"},
		{".gif", "gif"},
		{".xyz", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			tmpPath := filepath.Join(t.TempDir(), "test-format"+tt.ext)

			// A valid PNG regardless of extension; decoding sniffs content.
			img := image.NewRGBA(image.Rect(0, 0, 10, 10))
			f, err := os.Create(tmpPath)
			if err != nil {
				t.Fatalf("failed to create file: %v", err)
			}
			png.Encode(f, img)
			f.Close()

			info, err := LoadImageInfo(nil, tmpPath)
			if err != nil {
				t.Fatalf("LoadImageInfo failed: %v", err)
			}
			if info.Format != tt.format {
				t.Errorf("Format for %s: got %s, want %s", tt.ext, info.Format, tt.format)
			}
		})
	}
}
