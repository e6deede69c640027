// Package archive writes named numeric arrays to a single file, either as a
// numpy .npz archive or as a SQLite database.
package archive
