// Package associate aligns independently sampled streams by nearest
// timestamp.
//
// One stream is the base. Every other stream is matched against it within a
// tolerance, and only base records matched in every stream are kept.
package associate
