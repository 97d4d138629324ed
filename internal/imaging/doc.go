// Package imaging provides the image plumbing behind density map rendering.
//
// It covers loading background images, bounded caching, color ramps,
// cropping and scaling, overlays, coordinate grids and PNG encoding for
// clients. All operations work with standard Go image.Image types and use a
// coordinate system where (0,0) is at the top-left corner, X increases
// rightward, and Y increases downward.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, (x1,y1) is inclusive (top-left), (x2,y2) is exclusive (bottom-right)
//
// Density maps are rendered at a downsample of the full image. GridOverlay
// takes a label scale so grids over a rendering can be labelled in
// full-resolution pixels.
//
// # Color Ramps
//
// A ColorRamp interpolates its stops in CIE L*a*b* (go-colorful) and bakes
// the result into a 256-entry lookup table. RampByName accepts the built-in
// names (see RampNames) or a hex color, which yields a single-hue ramp from
// black.
//
// # Thread Safety
//
// Cache and ColorRamp are safe for concurrent use. Individual image
// operations are stateless and can be called concurrently.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Regions outside image bounds or empty regions
//   - Unknown ramp names and malformed hex colors
//   - File I/O errors during image loading and saving
//   - Encoding errors during image output
package imaging
