// Package kmeans implements centroid-based clustering over dense float64
// matrices.
//
// A run samples k initial centroids from the dataset (uniformly, with
// replacement), then alternates an assignment step and an update step until
// the centroid movement drops below a tolerance or the iteration bound is
// reached. Each iteration reads the previous centroid set and writes a new
// one; the two buffers are swapped between iterations.
//
// Movement is reduced with a configurable Comparator. The default,
// MinMovement, stops as soon as any single coordinate moved less than the
// tolerance. MaxMovement requires every coordinate to settle.
package kmeans
