// Package stream loads timestamped records from delimited text sources.
//
// A source holds one record per line: a floating-point timestamp in seconds
// followed by arbitrary fields, for example a pose (tx ty tz qx qy qz qw) or
// the path of an image frame.
package stream
