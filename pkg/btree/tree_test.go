package btree

import (
	"fmt"
	"testing"

	"cubdb/pkg/store"
)

func openTestTree(t *testing.T, order int) (*Tree, *store.Store) {
	t.Helper()
	path := t.TempDir() + "/test.cub"
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	tr, err := Open(s, order, nil)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}
	return tr, s
}

func TestInsertLookupRoundTrip(t *testing.T) {
	tr, _ := openTestTree(t, 4)

	tr, err := tr.Insert([]byte("apple"), []byte("red"), true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	tr, err = tr.Insert([]byte("banana"), []byte("yellow"), true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	value, found, err := tr.Lookup([]byte("apple"))
	if err != nil || !found || string(value) != "red" {
		t.Fatalf("Lookup(apple) = %q, %v, %v", value, found, err)
	}
	_, found, err = tr.Lookup([]byte("missing"))
	if err != nil || found {
		t.Fatalf("Lookup(missing) = found=%v err=%v, want not found", found, err)
	}
	if tr.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", tr.Size())
	}
}

func TestOverwriteKeepsSizeStable(t *testing.T) {
	tr, _ := openTestTree(t, 4)
	tr, err := tr.Insert([]byte("k"), []byte("v1"), true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	tr, err = tr.Insert([]byte("k"), []byte("v2"), true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if tr.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 after overwrite", tr.Size())
	}
	value, found, err := tr.Lookup([]byte("k"))
	if err != nil || !found || string(value) != "v2" {
		t.Fatalf("Lookup(k) = %q, %v, %v, want v2", value, found, err)
	}
}

func TestDeleteRemovesEntryAndBumpsDirtUnconditionally(t *testing.T) {
	tr, _ := openTestTree(t, 4)
	tr, err := tr.Insert([]byte("k"), []byte("v"), true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	dirtBefore := tr.Dirt()

	tr, err = tr.Delete([]byte("k"), true)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if tr.Dirt() != dirtBefore+1 {
		t.Fatalf("Dirt() = %d, want %d", tr.Dirt(), dirtBefore+1)
	}
	if tr.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", tr.Size())
	}
	_, found, err := tr.Lookup([]byte("k"))
	if err != nil || found {
		t.Fatalf("Lookup(k) after delete = found=%v err=%v", found, err)
	}

	// Deleting an absent key still bumps dirt, never size.
	dirtBefore = tr.Dirt()
	tr, err = tr.Delete([]byte("never-existed"), true)
	if err != nil {
		t.Fatalf("Delete(absent): %v", err)
	}
	if tr.Dirt() != dirtBefore+1 {
		t.Fatalf("Dirt() after no-op delete = %d, want %d", tr.Dirt(), dirtBefore+1)
	}
	if tr.Size() != 0 {
		t.Fatalf("Size() after no-op delete = %d, want 0", tr.Size())
	}
}

func TestMarkDeletedTombstonesWithoutRemovingStructurally(t *testing.T) {
	tr, _ := openTestTree(t, 4)
	tr, err := tr.Insert([]byte("k"), []byte("v"), true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	tr, err = tr.MarkDeleted([]byte("k"), true)
	if err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if tr.Size() != 0 {
		t.Fatalf("Size() after MarkDeleted = %d, want 0", tr.Size())
	}
	_, found, err := tr.Lookup([]byte("k"))
	if err != nil || found {
		t.Fatalf("Lookup(k) after MarkDeleted = found=%v err=%v", found, err)
	}

	tag, _, found, err := tr.LookupRaw([]byte("k"))
	if err != nil || !found {
		t.Fatalf("LookupRaw(k) = found=%v err=%v, want found", found, err)
	}
	if tag != store.TagDeleted {
		t.Fatalf("LookupRaw(k).tag = %v, want TagDeleted", tag)
	}
}

func TestMarkDeletedOnAbsentKeyLeavesSizeZero(t *testing.T) {
	tr, _ := openTestTree(t, 4)
	tr, err := tr.MarkDeleted([]byte("never-existed"), true)
	if err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if tr.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", tr.Size())
	}
}

func TestSplitsPreserveOrderingAcrossManyKeys(t *testing.T) {
	tr, _ := openTestTree(t, 4)
	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		value := []byte(fmt.Sprintf("value-%04d", i))
		var err error
		tr, err = tr.Insert(key, value, true)
		if err != nil {
			t.Fatalf("Insert(%s): %v", key, err)
		}
	}
	if tr.Size() != n {
		t.Fatalf("Size() = %d, want %d", tr.Size(), n)
	}

	cursor, err := tr.Range(nil, nil, false, false, false)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	defer cursor.Close()

	count := 0
	var prevKey string
	for cursor.Valid() {
		key := string(cursor.Key())
		if count > 0 && key <= prevKey {
			t.Fatalf("keys out of order: %q did not follow %q", key, prevKey)
		}
		prevKey = key
		count++
		cursor.Next()
	}
	if count != n {
		t.Fatalf("cursor visited %d entries, want %d", count, n)
	}
}

func TestRangeReverseVisitsDescending(t *testing.T) {
	tr, _ := openTestTree(t, 4)
	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		var err error
		tr, err = tr.Insert([]byte(k), []byte(k), true)
		if err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	cursor, err := tr.Range(nil, nil, false, false, true)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	defer cursor.Close()

	var got []string
	for cursor.Valid() {
		got = append(got, string(cursor.Key()))
		cursor.Next()
	}
	want := []string{"e", "d", "c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRangeBoundsAndExclusivity(t *testing.T) {
	tr, _ := openTestTree(t, 4)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		var err error
		tr, err = tr.Insert([]byte(k), []byte(k), true)
		if err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	cursor, err := tr.Range([]byte("b"), []byte("d"), true, false, false)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	defer cursor.Close()

	var got []string
	for cursor.Valid() {
		got = append(got, string(cursor.Key()))
		cursor.Next()
	}
	want := []string{"c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCursorSkipsTombstones(t *testing.T) {
	tr, _ := openTestTree(t, 4)
	for _, k := range []string{"a", "b", "c"} {
		var err error
		tr, err = tr.Insert([]byte(k), []byte(k), true)
		if err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}
	tr, err := tr.MarkDeleted([]byte("b"), true)
	if err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	cursor, err := tr.Range(nil, nil, false, false, false)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	defer cursor.Close()

	var got []string
	for cursor.Valid() {
		got = append(got, string(cursor.Key()))
		cursor.Next()
	}
	want := []string{"a", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestReopenRecoversLatestCommit(t *testing.T) {
	path := t.TempDir() + "/reopen.cub"
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	tr, err := Open(s, 4, nil)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}
	tr, err = tr.Insert([]byte("k"), []byte("v"), true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	wantRoot := tr.RootOffset()
	wantSize := tr.Size()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := store.Open(path)
	if err != nil {
		t.Fatalf("reopen store.Open: %v", err)
	}
	defer s2.Close()
	tr2, err := Open(s2, 4, nil)
	if err != nil {
		t.Fatalf("reopen btree.Open: %v", err)
	}
	if tr2.RootOffset() != wantRoot || tr2.Size() != wantSize {
		t.Fatalf("reopened tree root=%d size=%d, want root=%d size=%d",
			tr2.RootOffset(), tr2.Size(), wantRoot, wantSize)
	}
	value, found, err := tr2.Lookup([]byte("k"))
	if err != nil || !found || string(value) != "v" {
		t.Fatalf("Lookup(k) after reopen = %q, %v, %v", value, found, err)
	}
}

func TestDirtFactorMonotonicAtFixedSize(t *testing.T) {
	tr, _ := openTestTree(t, 4)
	tr, err := tr.Insert([]byte("k"), []byte("v1"), true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	first := tr.DirtFactor()
	tr, err = tr.Insert([]byte("k"), []byte("v2"), true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	second := tr.DirtFactor()
	if second <= first {
		t.Fatalf("DirtFactor() did not increase on overwrite: %v -> %v", first, second)
	}
}
