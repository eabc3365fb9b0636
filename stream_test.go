package rtree_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtree "github.com/john862003/ui"
	"github.com/john862003/ui/codec"
)

func randomRect(rnd *rand.Rand) rtree.Rect {
	x1, x2 := rnd.Float64(), rnd.Float64()
	y1, y2 := rnd.Float64(), rnd.Float64()
	return rtree.NewRect(x1, y1, x2, y2)
}

func buildRandomTree(t *testing.T, count int) *rtree.RTree[string] {
	t.Helper()
	rnd := rand.New(rand.NewSource(66707770))
	tree := rtree.New[string]()
	for i := 0; i < count; i++ {
		require.NoError(t, tree.Add(randomRect(rnd), strconv.Itoa(i)))
	}
	return tree
}

func serialize[T any](t *testing.T, tree *rtree.RTree[T], s rtree.Serializer[T]) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, rtree.Serialize(&buf, tree, s))
	return buf.Bytes()
}

func open[T any](t *testing.T, image []byte, s rtree.Serializer[T]) *rtree.StreamIndex[T] {
	t.Helper()
	x, err := rtree.Deserialize(bytes.NewReader(image), int64(len(image)), s)
	require.NoError(t, err)
	return x
}

func TestStreamSmallFixture(t *testing.T) {
	rect1 := rtree.Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}
	rect2 := rtree.Rect{MinX: 4, MinY: 0, MaxX: 6, MaxY: 2}
	rect3 := rtree.Rect{MinX: 0, MinY: 4, MaxX: 2, MaxY: 6}
	rect4 := rtree.Rect{MinX: 4, MinY: 4, MaxX: 6, MaxY: 6}
	rect5 := rtree.Rect{MinX: 1, MinY: 1, MaxX: 3, MaxY: 3}

	policy, err := rtree.NewInsertionPolicy(1, 4)
	require.NoError(t, err)
	b := rtree.NewStreamBuilder[string](codec.Strings{}, rtree.WithInsertionPolicy(policy))

	tags := func(r rtree.Rect) []string {
		return []string{r.String() + "1", r.String() + "2", r.String() + "3", r.String() + "4"}
	}
	for _, r := range []rtree.Rect{rect1, rect2, rect3, rect4} {
		for _, tag := range tags(r) {
			require.NoError(t, b.Add(r, tag))
		}
	}
	require.NoError(t, b.Add(rect5, rect5.String()))
	assert.Len(t, slices.Collect(b.Get(rect1)), 5)

	var buf bytes.Buffer
	require.NoError(t, b.Finalize(&buf))
	assert.True(t, b.Frozen())
	require.ErrorIs(t, b.Add(rect1, "late"), rtree.ErrFrozen)
	require.ErrorIs(t, b.Finalize(io.Discard), rtree.ErrFrozen)
	assert.Equal(t, 17, b.Count())

	x := open[string](t, buf.Bytes(), codec.Strings{})
	assert.Equal(t, 17, x.Count())
	assert.Equal(t, "strings.v1", x.VersionString())
	assert.Equal(t, policy, x.Policy())

	for _, r := range []rtree.Rect{rect2, rect3, rect4} {
		got, err := x.Query(r)
		require.NoError(t, err)
		assert.ElementsMatch(t, tags(r), got)
	}
	got, err := x.Query(rect1)
	require.NoError(t, err)
	assert.ElementsMatch(t, append(tags(rect1), rect5.String()), got)

	bounds, ok, err := x.Bounds()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rtree.Rect{MinX: 0, MinY: 0, MaxX: 6, MaxY: 6}, bounds)
}

func TestStreamMatchesMemory(t *testing.T) {
	tree := buildRandomTree(t, 10000)

	for _, s := range []rtree.Serializer[string]{
		codec.Strings{},
		codec.JSON[string]{},
		codec.NewZSTD[string](codec.Strings{}),
		codec.NewLZ4[string](codec.JSON[string]{}),
	} {
		t.Run(s.VersionString(), func(t *testing.T) {
			x := open[string](t, serialize[string](t, tree, s), s)
			assert.Equal(t, tree.Count(), x.Count())
			assert.Equal(t, tree.Height(), x.Height())

			rnd := rand.New(rand.NewSource(42))
			for i := 0; i < 200; i++ {
				q := randomRect(rnd)
				got, err := x.Query(q)
				require.NoError(t, err)
				require.ElementsMatch(t, slices.Collect(tree.Get(q)), got, "query %v", q)
			}
		})
	}
}

type feature struct {
	ID   int64             `json:"id"`
	Tags map[string]string `json:"tags,omitempty"`
}

func TestStreamStructPayloads(t *testing.T) {
	tree := rtree.New[feature]()
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		f := feature{ID: int64(i)}
		if i%3 == 0 {
			f.Tags = map[string]string{"highway": "residential"}
		}
		require.NoError(t, tree.Add(randomRect(rnd), f))
	}
	s := codec.NewZSTD[feature](codec.JSON[feature]{})
	x := open[feature](t, serialize[feature](t, tree, s), s)

	for i := 0; i < 20; i++ {
		q := randomRect(rnd)
		got, err := x.Query(q)
		require.NoError(t, err)
		assert.ElementsMatch(t, slices.Collect(tree.Get(q)), got)
	}
}

func TestStreamEmpty(t *testing.T) {
	tree := rtree.New[string]()
	x := open[string](t, serialize[string](t, tree, codec.Strings{}), codec.Strings{})
	assert.Equal(t, 0, x.Count())
	assert.Equal(t, 0, x.Height())
	got, err := x.Query(rtree.Rect{MinX: -10, MinY: -10, MaxX: 10, MaxY: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
	_, ok, err := x.Bounds()
	require.NoError(t, err)
	assert.False(t, ok)
}

// recordingReaderAt remembers the furthest byte read.
type recordingReaderAt struct {
	r   io.ReaderAt
	mu  sync.Mutex
	end int64
}

func (r *recordingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	r.end = max(r.end, off+int64(len(p)))
	r.mu.Unlock()
	return r.r.ReadAt(p, off)
}

func TestStreamVersionGate(t *testing.T) {
	tree := buildRandomTree(t, 100)
	image := serialize[string](t, tree, codec.Strings{})

	for _, s := range []rtree.Serializer[string]{
		codec.JSON[string]{},
		codec.NewZSTD[string](codec.Strings{}),
		codec.NewLZ4[string](codec.Strings{}),
	} {
		t.Run(s.VersionString(), func(t *testing.T) {
			rec := &recordingReaderAt{r: bytes.NewReader(image)}
			_, err := rtree.Deserialize(rec, int64(len(image)), s)
			var uve *rtree.UnsupportedVersionError
			require.ErrorAs(t, err, &uve)
			assert.Equal(t, "strings.v1", uve.Actual)
			assert.Equal(t, s.VersionString(), uve.Expected)
			// Nothing past the version string is read.
			assert.LessOrEqual(t, rec.end, int64(8+len("strings.v1")))
		})
	}
}

func TestStreamFormatErrors(t *testing.T) {
	tree := buildRandomTree(t, 1000)
	image := serialize[string](t, tree, codec.Strings{})
	everything := rtree.Rect{MinX: -1, MinY: -1, MaxX: 2, MaxY: 2}
	tableOffset := 8 + len("strings.v1") + 48

	corrupt := func(f func(b []byte) []byte) []byte {
		return f(slices.Clone(image))
	}

	t.Run("open", func(t *testing.T) {
		for name, data := range map[string][]byte{
			"empty":         {},
			"bad magic":     corrupt(func(b []byte) []byte { b[0] ^= 0xff; return b }),
			"format":        corrupt(func(b []byte) []byte { b[4] = 9; return b }),
			"truncated":     image[:len(image)-1],
			"header only":   image[:tableOffset-4],
			"trailing data": append(slices.Clone(image), 0),
			"root offset wraps": corrupt(func(b []byte) []byte {
				binary.LittleEndian.PutUint64(b[tableOffset-24:], ^uint64(0)-15)
				return b
			}),
		} {
			t.Run(name, func(t *testing.T) {
				_, err := rtree.Deserialize[string](bytes.NewReader(data), int64(len(data)), codec.Strings{})
				var fe *rtree.FormatError
				require.ErrorAs(t, err, &fe)
			})
		}
	})

	t.Run("query", func(t *testing.T) {
		for name, data := range map[string][]byte{
			"node flag":     corrupt(func(b []byte) []byte { b[tableOffset] = 7; return b }),
			"node count":    corrupt(func(b []byte) []byte { b[tableOffset+33] = 0xff; b[tableOffset+34] = 0xff; return b }),
			"data checksum": corrupt(func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }),
			"root bounds": corrupt(func(b []byte) []byte {
				root := binary.LittleEndian.Uint64(b[tableOffset-24:])
				copy(b[root+17:root+25], b[root+1:root+9])
				return b
			}),
			"leaf bounds": corrupt(func(b []byte) []byte {
				copy(b[tableOffset+17:tableOffset+25], b[tableOffset+1:tableOffset+9])
				return b
			}),
		} {
			t.Run(name, func(t *testing.T) {
				x := open[string](t, data, codec.Strings{})
				_, err := x.Query(everything)
				var fe *rtree.FormatError
				require.ErrorAs(t, err, &fe)
			})
		}
	})
}

type failingSerializer struct {
	codec.Strings
	err error
}

func (f failingSerializer) Serialize([]string, []rtree.Rect) ([]byte, error) {
	return nil, f.err
}

func (f failingSerializer) Deserialize([]byte) ([]string, []rtree.Rect, error) {
	return nil, nil, f.err
}

func TestStreamSerializationError(t *testing.T) {
	boom := errors.New("boom")
	tree := buildRandomTree(t, 50)

	var buf bytes.Buffer
	err := rtree.Serialize[string](&buf, tree, failingSerializer{err: boom})
	var se *rtree.SerializationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "serialize", se.Op)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, buf.Len())

	// Same version string, so the image opens, but blocks cannot be decoded.
	image := serialize[string](t, tree, codec.Strings{})
	x := open[string](t, image, failingSerializer{err: boom})
	_, err = x.Query(rtree.Rect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "deserialize", se.Op)
	require.ErrorIs(t, err, boom)
}

func TestStreamQueryMany(t *testing.T) {
	tree := buildRandomTree(t, 2000)
	x := open[string](t, serialize[string](t, tree, codec.Strings{}), codec.Strings{})

	rnd := rand.New(rand.NewSource(9))
	qs := make([]rtree.Rect, 64)
	for i := range qs {
		qs[i] = randomRect(rnd)
	}

	results, err := x.QueryMany(context.Background(), qs, 8)
	require.NoError(t, err)
	require.Len(t, results, len(qs))
	for i, q := range qs {
		assert.ElementsMatch(t, slices.Collect(tree.Get(q)), results[i])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = x.QueryMany(ctx, qs, 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStreamGetStopsEarly(t *testing.T) {
	tree := buildRandomTree(t, 500)
	x := open[string](t, serialize[string](t, tree, codec.Strings{}), codec.Strings{})

	var n int
	for _, err := range x.Get(rtree.Rect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}) {
		require.NoError(t, err)
		n++
		if n == 5 {
			break
		}
	}
	assert.Equal(t, 5, n)
}

func TestReadIndex(t *testing.T) {
	tree := buildRandomTree(t, 300)
	image := serialize[string](t, tree, codec.Strings{})

	x, err := rtree.ReadIndex[string](io.MultiReader(bytes.NewReader(image)), codec.Strings{})
	require.NoError(t, err)
	q := rtree.Rect{MinX: 0.2, MinY: 0.2, MaxX: 0.4, MaxY: 0.4}
	got, err := x.Query(q)
	require.NoError(t, err)
	assert.ElementsMatch(t, slices.Collect(tree.Get(q)), got)
}

func TestSaveAndOpenFile(t *testing.T) {
	tree := buildRandomTree(t, 1000)
	path := filepath.Join(t.TempDir(), "features.rtree")
	require.NoError(t, rtree.SaveFile[string](path, tree, codec.NewLZ4[string](codec.Strings{})))

	x, err := rtree.OpenFile[string](path, codec.NewLZ4[string](codec.Strings{}))
	require.NoError(t, err)
	defer x.Close()

	rnd := rand.New(rand.NewSource(5))
	for i := 0; i < 50; i++ {
		q := randomRect(rnd)
		got, err := x.Query(q)
		require.NoError(t, err)
		assert.ElementsMatch(t, slices.Collect(tree.Get(q)), got)
	}

	_, err = rtree.OpenFile[string](path, codec.Strings{})
	var uve *rtree.UnsupportedVersionError
	require.ErrorAs(t, err, &uve)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0644), info.Mode().Perm())
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSaveFileReportsErrors(t *testing.T) {
	tree := buildRandomTree(t, 10)
	dir := t.TempDir()

	err := rtree.SaveFile[string](filepath.Join(dir, "missing", "features.rtree"), tree, codec.Strings{})
	require.ErrorIs(t, err, fs.ErrNotExist)

	path := filepath.Join(dir, "features.rtree")
	err = rtree.SaveFile[string](path, tree, failingSerializer{err: errors.New("boom")})
	var se *rtree.SerializationError
	require.ErrorAs(t, err, &se)
	_, err = os.Stat(path)
	require.ErrorIs(t, err, fs.ErrNotExist)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
