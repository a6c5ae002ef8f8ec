package copyout

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestReader(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, store *memoryStore){
		"rows without header":              testManifestWithoutHeader,
		"header row is skipped":            testManifestWithHeader,
		"reversed header is rejected":      testManifestReversedHeader,
		"single column row aborts":         testManifestSingleColumn,
		"three column row aborts":          testManifestThreeColumns,
		"empty key aborts":                 testManifestEmptyKey,
		"missing object":                   testManifestMissing,
		"re-reading yields the same items": testManifestIdempotent,
		"empty manifest":                   testManifestEmpty,
		"byte order mark before header":    testManifestBOMHeader,
		"byte order mark before first row": testManifestBOMRow,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newMemoryStore())
		})
	}
}

func testManifestWithoutHeader(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "b1,k1\nb1,k2\nb2,\"dir/with,comma.bam\"\n")

	items, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "manifest.csv"})
	require.NoError(t, err)
	assert.Equal(t, []CopyItem{
		{Bucket: "b1", Key: "k1"},
		{Bucket: "b1", Key: "k2"},
		{Bucket: "b2", Key: "dir/with,comma.bam"},
	}, items)
}

func testManifestWithHeader(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "Bucket,Key\nb1,k1\n")

	items, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "manifest.csv"})
	require.NoError(t, err)
	assert.Equal(t, []CopyItem{{Bucket: "b1", Key: "k1"}}, items)
}

func testManifestReversedHeader(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "key,bucket\nk1,b1\n")

	_, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "manifest.csv"})
	var fmtErr *ManifestFormatError
	require.ErrorAs(t, err, &fmtErr)
	assert.Equal(t, 1, fmtErr.Line)
}

func testManifestSingleColumn(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "b1,k1\nb1\nb2,k3\n")

	items, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "manifest.csv"})
	assert.Nil(t, items)
	var fmtErr *ManifestFormatError
	require.ErrorAs(t, err, &fmtErr)
	assert.Equal(t, 2, fmtErr.Line)
	assert.True(t, IsFatal(err))
}

func testManifestThreeColumns(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "b1,k1,extra\n")

	_, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "manifest.csv"})
	var fmtErr *ManifestFormatError
	require.ErrorAs(t, err, &fmtErr)
	assert.Contains(t, fmtErr.Error(), "found 3")
}

func testManifestEmptyKey(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "b1,k1\nb1,\n")

	_, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "manifest.csv"})
	var fmtErr *ManifestFormatError
	require.ErrorAs(t, err, &fmtErr)
	assert.Equal(t, 2, fmtErr.Line)
}

func testManifestMissing(t *testing.T, store *memoryStore) {
	_, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "nope.csv"})
	require.ErrorIs(t, err, ErrManifestNotFound)
	assert.True(t, IsFatal(err))
}

func testManifestIdempotent(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "bucket,key\nb1,k1\nb1,k2\nb2,k3\n")
	reader := NewManifestReader(store)
	loc := Location{Bucket: "src", Key: "manifest.csv"}

	first, err := reader.Read(context.Background(), loc)
	require.NoError(t, err)
	second, err := reader.Read(context.Background(), loc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), store.reads.Load())
}

func testManifestEmpty(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "bucket,key\n")

	items, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "manifest.csv"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestManifestScanner_StopsAtFirstError(t *testing.T) {
	scanner := NewManifestScanner(strings.NewReader("b1,k1\nbroken\nb2,k2\n"))

	require.True(t, scanner.Next())
	assert.Equal(t, CopyItem{Bucket: "b1", Key: "k1"}, scanner.Item())
	assert.False(t, scanner.Next())
	assert.False(t, scanner.Next())
	assert.Error(t, scanner.Err())
}

func testManifestBOMHeader(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "\ufeffbucket,key\nb1,k1\n")

	items, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "manifest.csv"})
	require.NoError(t, err)
	assert.Equal(t, []CopyItem{{Bucket: "b1", Key: "k1"}}, items)
}

func testManifestBOMRow(t *testing.T, store *memoryStore) {
	store.put("src", "manifest.csv", "\ufeffb1,k1\nb2,k2\n")

	items, err := NewManifestReader(store).Read(context.Background(), Location{Bucket: "src", Key: "manifest.csv"})
	require.NoError(t, err)
	assert.Equal(t, []CopyItem{{Bucket: "b1", Key: "k1"}, {Bucket: "b2", Key: "k2"}}, items)
}
