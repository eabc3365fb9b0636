// Package rtree implements a two-dimensional R-tree mapping rectangles to
// payloads, for answering window queries over large geospatial datasets.
//
// RTree holds the whole tree in memory. Serialize freezes an RTree into a
// byte stream made of a header, a node table and one data block per leaf,
// the blocks being encoded by a pluggable, versioned Serializer. Deserialize
// opens such a stream and answers queries by reading only the nodes and
// blocks a query touches, so images larger than memory remain queryable.
//
// Neither variant supports deletion or concurrent writers.
package rtree
