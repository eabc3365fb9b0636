package rtree

// Serializer encodes the payloads of one leaf into a data block and decodes
// them back.
//
// VersionString identifies the encoding. It is written into the stream header
// and a stream is only ever read by a serializer reporting the same version,
// so any change to the encoding must come with a new version string.
//
// Deserialize(Serialize(p, r)) must reproduce the (payload, rectangle) pairs
// of p and r. Implementations must be safe for concurrent use.
type Serializer[T any] interface {
	VersionString() string
	Serialize(payloads []T, rects []Rect) ([]byte, error)
	Deserialize(data []byte) ([]T, []Rect, error)
}
