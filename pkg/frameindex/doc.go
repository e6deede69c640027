// Package frameindex builds a timestamp index for a directory of image frames.
//
// The index has the same text format as the rgb.txt and depth.txt files of
// RGB-D datasets, so it can be fed straight into the association step.
package frameindex
