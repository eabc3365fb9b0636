// Package codec provides rtree.Serializer implementations for the data blocks
// of stream images.
//
// Every serializer reports a stable version string which is stored in the
// image header. Changing an encoding, or wrapping it in compression, changes
// the version string, and images written under another version are refused
// rather than misread.
package codec
