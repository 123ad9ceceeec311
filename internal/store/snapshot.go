package store

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Record is a single schemaless table row.
type Record = map[string]any

// Table maps record ids to records. Ids are store-assigned, unique within
// the table and monotonically increasing.
type Table = map[int64]Record

// Snapshot is the entire store content: table name -> id -> record.
// This whole structure is the unit of encryption and persistence.
type Snapshot = map[string]Table

// Doc pairs a record with its id, the way reads hand records back.
type Doc struct {
	ID     int64
	Fields Record
}

// SystemTable is the sentinel table seeded at init time. Its presence is a
// secondary sanity check after a successful decrypt; its absence on a
// non-empty store means the file is corrupt.
const SystemTable = "system"

// normalizeRecord passes a record through the JSON codec so the in-memory
// representation is always identical to what a reload from disk would
// produce (float64 numbers, string decimals, map[string]any nesting).
// Mutations and later reads therefore never disagree about value types.
func normalizeRecord(rec Record) (Record, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return out, nil
}

func cloneRecord(rec Record) Record {
	// records are already normalized, so the codec round-trip is lossless
	out, err := normalizeRecord(rec)
	if err != nil {
		// normalized records always re-marshal
		panic(err)
	}
	return out
}

func cloneSnapshot(data Snapshot) Snapshot {
	out := make(Snapshot, len(data))
	for name, tbl := range data {
		ct := make(Table, len(tbl))
		for id, rec := range tbl {
			ct[id] = cloneRecord(rec)
		}
		out[name] = ct
	}
	return out
}

func sortedDocs(tbl Table) []Doc {
	docs := make([]Doc, 0, len(tbl))
	for id, rec := range tbl {
		docs = append(docs, Doc{ID: id, Fields: cloneRecord(rec)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}
