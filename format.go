package rtree

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const (
	// MagicNumber identifies stream images (ASCII: "RTS1").
	MagicNumber = 0x31535452
	// FormatVersion is the current layout of header and node table.
	FormatVersion = 1
)

const (
	preambleSize   = 8  // magic, format version, version string length
	headerTailSize = 48 // fixed fields after the version string

	recordPrefixSize = 1 + 32 + 4 // flag, rect, first uint32
	leafRecordSize   = recordPrefixSize + 4 + 8 + 4
)

// header is the first section of a stream image. Offsets are absolute
// positions within the image.
type header struct {
	Version    string
	MinEntries uint32
	MaxEntries uint32
	Height     uint32
	Count      uint64
	NodeCount  uint32
	RootOffset uint64
	DataOffset uint64
	Size       uint64
}

func (h *header) size() int {
	return preambleSize + len(h.Version) + headerTailSize
}

func (h *header) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, MagicNumber)
	b = binary.LittleEndian.AppendUint16(b, FormatVersion)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(h.Version)))
	b = append(b, h.Version...)
	b = binary.LittleEndian.AppendUint32(b, h.MinEntries)
	b = binary.LittleEndian.AppendUint32(b, h.MaxEntries)
	b = binary.LittleEndian.AppendUint32(b, h.Height)
	b = binary.LittleEndian.AppendUint64(b, h.Count)
	b = binary.LittleEndian.AppendUint32(b, h.NodeCount)
	b = binary.LittleEndian.AppendUint64(b, h.RootOffset)
	b = binary.LittleEndian.AppendUint64(b, h.DataOffset)
	b = binary.LittleEndian.AppendUint64(b, h.Size)
	return b
}

// readHeader parses and validates the header of an image of the given size.
// The version string is checked against want before anything after it is
// read.
func readHeader(r io.ReaderAt, size int64, want string) (header, error) {
	var h header

	pre := make([]byte, preambleSize)
	if err := readFull(r, size, 0, pre); err != nil {
		return h, err
	}
	if magic := binary.LittleEndian.Uint32(pre[0:]); magic != MagicNumber {
		return h, formatErr(0, nil, "invalid magic number 0x%08x", magic)
	}
	if v := binary.LittleEndian.Uint16(pre[4:]); v != FormatVersion {
		return h, formatErr(4, nil, "unsupported format version %d", v)
	}

	version := make([]byte, binary.LittleEndian.Uint16(pre[6:]))
	if err := readFull(r, size, preambleSize, version); err != nil {
		return h, err
	}
	h.Version = string(version)
	if h.Version != want {
		return h, &UnsupportedVersionError{Expected: want, Actual: h.Version}
	}

	tailOff := int64(preambleSize + len(version))
	tail := make([]byte, headerTailSize)
	if err := readFull(r, size, tailOff, tail); err != nil {
		return h, err
	}
	h.MinEntries = binary.LittleEndian.Uint32(tail[0:])
	h.MaxEntries = binary.LittleEndian.Uint32(tail[4:])
	h.Height = binary.LittleEndian.Uint32(tail[8:])
	h.Count = binary.LittleEndian.Uint64(tail[12:])
	h.NodeCount = binary.LittleEndian.Uint32(tail[20:])
	h.RootOffset = binary.LittleEndian.Uint64(tail[24:])
	h.DataOffset = binary.LittleEndian.Uint64(tail[32:])
	h.Size = binary.LittleEndian.Uint64(tail[40:])

	tableOff := uint64(h.size())
	switch {
	case h.Size != uint64(size):
		return h, formatErr(tailOff+40, nil, "image size %d does not match stream size %d", h.Size, size)
	case h.MaxEntries < 2 || h.MinEntries < 1 || h.MinEntries > h.MaxEntries/2:
		return h, formatErr(tailOff, nil, "invalid node bounds [%d, %d]", h.MinEntries, h.MaxEntries)
	case h.DataOffset < tableOff || h.DataOffset > h.Size:
		return h, formatErr(tailOff+32, nil, "data offset %d out of range", h.DataOffset)
	case (h.NodeCount == 0) != (h.Count == 0) || (h.NodeCount == 0) != (h.Height == 0):
		return h, formatErr(tailOff+8, nil, "inconsistent counts: %d entries, %d nodes, height %d", h.Count, h.NodeCount, h.Height)
	case h.NodeCount > 0 && !inTable(h.RootOffset, recordPrefixSize, tableOff, h.DataOffset):
		return h, formatErr(tailOff+24, nil, "root offset %d out of range", h.RootOffset)
	}
	return h, nil
}

// nodeRecord is one entry of the node table.
type nodeRecord struct {
	leaf bool
	rect Rect

	// Leaf nodes.
	blockOffset uint64
	blockLength uint32
	entryCount  uint32
	checksum    uint32

	// Internal nodes.
	children []uint64
}

func (n *nodeRecord) size() int {
	if n.leaf {
		return leafRecordSize
	}
	return recordPrefixSize + 8*len(n.children)
}

func (n *nodeRecord) appendTo(b []byte) []byte {
	if n.leaf {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(n.rect.MinX))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(n.rect.MinY))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(n.rect.MaxX))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(n.rect.MaxY))
	if n.leaf {
		b = binary.LittleEndian.AppendUint32(b, n.entryCount)
		b = binary.LittleEndian.AppendUint64(b, n.blockOffset)
		b = binary.LittleEndian.AppendUint32(b, n.blockLength)
		b = binary.LittleEndian.AppendUint32(b, n.checksum)
		return b
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(len(n.children)))
	for _, c := range n.children {
		b = binary.LittleEndian.AppendUint64(b, c)
	}
	return b
}

// readNode decodes the record at off. Records live between the header and
// the data section; maxChildren bounds the record length before it is read.
func readNode(r io.ReaderAt, h *header, off uint64) (nodeRecord, error) {
	var n nodeRecord
	if !inTable(off, recordPrefixSize, uint64(h.size()), h.DataOffset) {
		return n, formatErr(clampOffset(off), nil, "node offset %d out of range", off)
	}

	prefix := make([]byte, recordPrefixSize)
	if err := readFull(r, int64(h.Size), int64(off), prefix); err != nil {
		return n, err
	}
	switch prefix[0] {
	case 0:
	case 1:
		n.leaf = true
	default:
		return n, formatErr(int64(off), nil, "invalid node flag %d", prefix[0])
	}
	n.rect = Rect{
		MinX: math.Float64frombits(binary.LittleEndian.Uint64(prefix[1:])),
		MinY: math.Float64frombits(binary.LittleEndian.Uint64(prefix[9:])),
		MaxX: math.Float64frombits(binary.LittleEndian.Uint64(prefix[17:])),
		MaxY: math.Float64frombits(binary.LittleEndian.Uint64(prefix[25:])),
	}
	count := binary.LittleEndian.Uint32(prefix[33:])
	if count == 0 || count > h.MaxEntries {
		return n, formatErr(int64(off), nil, "entry count %d outside [1, %d]", count, h.MaxEntries)
	}

	var rest []byte
	if n.leaf {
		n.entryCount = count
		rest = make([]byte, leafRecordSize-recordPrefixSize)
	} else {
		rest = make([]byte, 8*count)
	}
	restOff := off + recordPrefixSize
	if !inTable(restOff, uint64(len(rest)), uint64(h.size()), h.DataOffset) {
		return n, formatErr(int64(off), nil, "node record overruns node table")
	}
	if err := readFull(r, int64(h.Size), int64(restOff), rest); err != nil {
		return n, err
	}

	if n.leaf {
		n.blockOffset = binary.LittleEndian.Uint64(rest[0:])
		n.blockLength = binary.LittleEndian.Uint32(rest[8:])
		n.checksum = binary.LittleEndian.Uint32(rest[12:])
		return n, nil
	}
	n.children = make([]uint64, count)
	for i := range n.children {
		n.children[i] = binary.LittleEndian.Uint64(rest[8*i:])
	}
	return n, nil
}

// readFull reads len(buf) bytes at off, reporting short images as a
// FormatError and passing other I/O failures through.
func readFull(r io.ReaderAt, size, off int64, buf []byte) error {
	if off < 0 {
		return formatErr(off, nil, "negative offset")
	}
	if off > size || size-off < int64(len(buf)) {
		return formatErr(off, io.ErrUnexpectedEOF, "truncated stream")
	}
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return formatErr(off, io.ErrUnexpectedEOF, "truncated stream")
	}
	return err
}

// inTable reports whether the n bytes at off lie within [start, end). It
// never adds to off, so offsets near the top of the uint64 range cannot wrap.
func inTable(off, n, start, end uint64) bool {
	return off >= start && off <= end && end-off >= n
}

// clampOffset converts a stored offset for error reporting.
func clampOffset(off uint64) int64 {
	if off > math.MaxInt64 {
		return -1
	}
	return int64(off)
}
