// Package render turns density rasters into images.
//
// Renderer colors one channel through a color ramp, with alpha driven by a
// mask channel (the trailing all-objects channel by default). Display ranges
// can be fixed or computed from a full-raster scan memoized in a MinMaxCache.
// Rendered tiles are cached by raster ID, region and display settings.
//
// ExportChannels writes channels as 16-bit grayscale PNGs with a JSON
// sidecar; SaveRendered writes a colored rendering, optionally upscaled to
// image resolution and composited over a background image.
package render
