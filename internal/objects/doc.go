// Package objects models the classified objects a density map is computed from.
//
// Objects are detections, cells, tiles or annotations with a geometry in
// full-resolution image pixel coordinates, an optional hierarchical
// classification (components separated by ":", e.g. "Tumor: Positive") and a
// plane (z-slice and timepoint).
//
// # Coordinate System
//
// All geometries use image pixel coordinates with (0,0) at the top-left
// corner, X increasing rightward and Y increasing downward.
//
// # Hierarchy
//
// Hierarchy is an in-memory, concurrency-safe object store that implements
// Index, the spatial query contract the density map builder consumes. Every
// mutation publishes an Event to subscribers so that dependent density maps
// can be rebuilt. Object IDs are assigned in insertion order and query results
// are always sorted by ID, which gives accumulation a reproducible order.
//
// # Selection
//
// ObjectType and ClassFilter are closed enumerations that resolve to a
// Predicate once, when a density map spec is resolved.
//
// # GeoJSON
//
// ReadGeoJSON and WriteGeoJSON exchange objects in the GeoJSON layout used by
// common bioimage tools: a FeatureCollection (or bare feature array) whose
// features carry "objectType" and "classification" properties.
package objects
