// Package densitymap converts classified objects into multi-channel rasters of
// local object density.
//
// A density map is described by a Spec (object population, density classes,
// kernel radius and shape, output pixel size and normalization) and built by
// a Builder over an ImageData, whose Index supplies the objects. The result is
// an immutable Raster with one channel per density class, plus a trailing
// all-objects channel when the map is percent-normalized.
//
// # Kernels
//
// Every output pixel accumulates a weight for each object within the kernel
// support, measured from the pixel center:
//
//   - Box: weight 1 when the distance is at most the radius
//   - Gaussian: exp(-d²/2σ²) with σ = radius/2, truncated at 8σ
//
// Distances are in calibrated units (image pixels × ImageData.PixelSize).
//
// # Normalization
//
//   - Raw: the accumulated count
//   - Percent: 100 × density/all, 0 where the all-objects count is 0
//   - GaussianWeighted: the Gaussian-weighted count
//   - AreaNormalized: the count divided by the kernel area
//
// # Tiling and Determinism
//
// The output grid is split into tiles that are computed in parallel. Each
// tile queries the index with its image bound padded by the kernel support
// and sums objects in ascending ID order, so the result does not depend on
// the tile size or worker count.
//
// # Errors
//
// Build returns ErrInvalidSpec, ErrDataUnavailable or ErrCancelled without a
// raster. A tile that fails for any other reason is left at zero and
// reported through Raster.FailedTiles.
package densitymap
