package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avoronin/potledger/internal/common"
	"github.com/avoronin/potledger/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fast argon2 parameters so tests do not burn CPU
var testKDF = cryptox.KDFParams{Time: 1, Memory: 1024, Threads: 1}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "ledger.db")
	return New(Options{Path: path, KDF: testKDF})
}

func TestInitAndUnlock_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))

	id, err := s.Insert("customers", Record{"name": "Ann", "currency": "USD"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	// reopen with a fresh handle
	s2 := New(Options{Path: s.Path(), KDF: testKDF})
	require.NoError(t, s2.Unlock([]byte("x")))

	rec, err := s2.Get("customers", 1)
	require.NoError(t, err)
	assert.Equal(t, "Ann", rec["name"])

	// sentinel table seeded at init
	sys, err := s2.Get(SystemTable, 1)
	require.NoError(t, err)
	assert.Equal(t, true, sys["initialized"])

	snap1, err := s.Snapshot()
	require.NoError(t, err)
	snap2, err := s2.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap1, snap2)
}

func TestUnlock_WrongSecret(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("right")))
	s.Lock()

	err := s.Unlock([]byte("wrong"))
	assert.ErrorIs(t, err, common.ErrWrongSecret)
	assert.False(t, s.Unlocked())
}

func TestUnlock_NotInitialized(t *testing.T) {
	s := newTestStore(t)
	err := s.Unlock([]byte("x"))
	assert.ErrorIs(t, err, common.ErrNotInitialized)
}

func TestInit_RefusesExistingStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))
	assert.Error(t, s.Init([]byte("x")))
}

func TestUnlock_EmptyFileIsFreshStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))
	s.Lock()

	// truncate the data file, keep the sidecar
	require.NoError(t, os.WriteFile(s.Path(), nil, 0o600))

	require.NoError(t, s.Unlock([]byte("x")))
	docs, err := s.All("customers")
	require.NoError(t, err)
	assert.Empty(t, docs)

	// the fresh store must be seeded like an initialized one, so writing
	// to it and reopening keeps working
	sys, err := s.Get(SystemTable, 1)
	require.NoError(t, err)
	assert.Equal(t, true, sys["initialized"])

	_, err = s.Insert("customers", Record{"name": "Ann"})
	require.NoError(t, err)
	s.Lock()

	require.NoError(t, s.Unlock([]byte("x")))
	rec, err := s.Get("customers", 1)
	require.NoError(t, err)
	assert.Equal(t, "Ann", rec["name"])
}

func TestUnlock_CorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))
	s.Lock()

	require.NoError(t, os.WriteFile(s.Path(), []byte("not base64 at all!!"), 0o600))
	err := s.Unlock([]byte("x"))
	assert.ErrorIs(t, err, common.ErrCorrupt)
}

func TestLockedOperationsFail(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))
	_, err := s.Insert("ledger_entries", Record{"amount": "1"})
	require.NoError(t, err)

	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	s.Lock()

	_, err = s.Insert("ledger_entries", Record{"amount": "2"})
	assert.ErrorIs(t, err, common.ErrLocked)
	_, err = s.All("ledger_entries")
	assert.ErrorIs(t, err, common.ErrLocked)
	_, err = s.Get("ledger_entries", 1)
	assert.ErrorIs(t, err, common.ErrLocked)
	_, err = s.Update("ledger_entries", []int64{1}, Record{"amount": "3"})
	assert.ErrorIs(t, err, common.ErrLocked)
	_, err = s.Remove("ledger_entries", 1)
	assert.ErrorIs(t, err, common.ErrLocked)
	_, err = s.Snapshot()
	assert.ErrorIs(t, err, common.ErrLocked)

	// locked calls must not touch the file
	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// repeated Lock is safe
	assert.NotPanics(t, s.Lock)
}

func TestAutoLockAfterIdle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s := New(Options{Path: path, KDF: testKDF, AutoLockTimeout: 30 * time.Millisecond})
	require.NoError(t, s.Init([]byte("x")))

	time.Sleep(60 * time.Millisecond)

	_, err := s.All("customers")
	assert.ErrorIs(t, err, common.ErrLocked)
	assert.False(t, s.Unlocked())

	// re-unlock recovers the session
	require.NoError(t, s.Unlock([]byte("x")))
	_, err = s.All("customers")
	assert.NoError(t, err)
}

func TestInsert_IDsMonotonic(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))

	id1, err := s.Insert("sales", Record{"n": 1})
	require.NoError(t, err)
	id2, err := s.Insert("sales", Record{"n": 2})
	require.NoError(t, err)
	assert.Equal(t, id1+1, id2)

	// removing the max row must not cause id reuse within the session
	_, err = s.Remove("sales", id2)
	require.NoError(t, err)
	id3, err := s.Insert("sales", Record{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, id2+1, id3)
}

func TestUpdateAndRemove(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))

	id, err := s.Insert("stores", Record{"name": "North", "currency": "EUR"})
	require.NoError(t, err)

	n, err := s.Update("stores", []int64{id}, Record{"name": "North-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.Get("stores", id)
	require.NoError(t, err)
	assert.Equal(t, "North-1", rec["name"])
	assert.Equal(t, "EUR", rec["currency"]) // merge, not replace

	n, err = s.Remove("stores", id, 999)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get("stores", id)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSearchFindAndWhere(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))

	for _, q := range []float64{5, 10, 15} {
		_, err := s.Insert("store_inventory", Record{"store_id": 1, "quantity": q})
		require.NoError(t, err)
	}

	low := func(d Doc) bool { return d.Fields["quantity"].(float64) < 12 }

	docs, err := s.Search("store_inventory", low)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	doc, err := s.Find("store_inventory", low)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.ID)

	n, err := s.UpdateWhere("store_inventory", low, Record{"quantity": 0})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.RemoveWhere("store_inventory", func(d Doc) bool {
		return d.Fields["quantity"].(float64) == 0
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReplace_OverwritesWholeRecord(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))

	id, err := s.Insert("expenses", Record{"amount": "50", "note": "hosting"})
	require.NoError(t, err)

	// merge-style Update cannot drop keys; Replace must
	_, err = s.Update("expenses", []int64{id}, Record{"fx_rate": "7"})
	require.NoError(t, err)

	require.NoError(t, s.Replace("expenses", id, Record{"amount": "50", "note": "hosting"}))

	rec, err := s.Get("expenses", id)
	require.NoError(t, err)
	assert.Equal(t, Record{"amount": "50", "note": "hosting"}, rec)

	err = s.Replace("expenses", 99, Record{"amount": "1"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRestore_KeepsIdentity(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))

	id, err := s.Insert("expenses", Record{"amount": "12.50"})
	require.NoError(t, err)
	rec, err := s.Get("expenses", id)
	require.NoError(t, err)

	_, err = s.Remove("expenses", id)
	require.NoError(t, err)

	require.NoError(t, s.Restore("expenses", id, rec))
	got, err := s.Get("expenses", id)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// restoring over a live id is rejected
	assert.Error(t, s.Restore("expenses", id, rec))

	// counter stays ahead of restored ids
	next, err := s.Insert("expenses", Record{"amount": "1"})
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestExportImportRaw(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))
	_, err := s.Insert("customers", Record{"name": "Bo"})
	require.NoError(t, err)

	raw, err := s.ExportRaw()
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	// wipe the customer, then restore from the exported blob
	_, err = s.Remove("customers", 1)
	require.NoError(t, err)

	require.NoError(t, s.ImportRaw(raw))
	assert.False(t, s.Unlocked(), "import must force a re-unlock")

	require.NoError(t, s.Unlock([]byte("x")))
	rec, err := s.Get("customers", 1)
	require.NoError(t, err)
	assert.Equal(t, "Bo", rec["name"])
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init([]byte("x")))
	_, err := s.Insert("customers", Record{"name": "Ann"})
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	snap["customers"][1]["name"] = "mutated"

	rec, err := s.Get("customers", 1)
	require.NoError(t, err)
	assert.Equal(t, "Ann", rec["name"])
}
