// Package payload decodes the image frames referenced by stream records into
// fixed-shape sample arrays.
package payload
