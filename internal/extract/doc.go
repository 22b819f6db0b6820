// Package extract turns decoded page payloads into store records.
//
// Extractors never touch the store. They read the registry to assign ids and
// return records in insertion order, parents before the junctions that point
// at them. A structural problem in the payload is returned as an error for
// the caller to log against the section being extracted.
package extract
