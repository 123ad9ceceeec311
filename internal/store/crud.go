package store

import (
	"fmt"

	"github.com/avoronin/potledger/internal/common"
)

// Insert allocates the next id for table, stores the record and persists
// the snapshot. Ids are never reused within a session, even after removes.
func (s *Store) Insert(table string, rec Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return 0, err
	}

	norm, err := normalizeRecord(rec)
	if err != nil {
		return 0, err
	}

	id := s.nextID[table]
	if id == 0 {
		id = 1
	}

	err = s.mutate(func(data Snapshot) error {
		tbl, ok := data[table]
		if !ok {
			tbl = Table{}
			data[table] = tbl
		}
		tbl[id] = norm
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.nextID[table] = id + 1
	return id, nil
}

// Restore puts a record back under a previously allocated id. It exists for
// compensation paths that must undo a Remove without changing the row's
// identity. Restoring over a live id is an error.
func (s *Store) Restore(table string, id int64, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return err
	}

	norm, err := normalizeRecord(rec)
	if err != nil {
		return err
	}

	err = s.mutate(func(data Snapshot) error {
		tbl, ok := data[table]
		if !ok {
			tbl = Table{}
			data[table] = tbl
		}
		if _, exists := tbl[id]; exists {
			return fmt.Errorf("restore %s/%d: id already present", table, id)
		}
		tbl[id] = norm
		return nil
	})
	if err != nil {
		return err
	}

	if next := s.nextID[table]; id >= next {
		s.nextID[table] = id + 1
	}
	return nil
}

// Replace overwrites the whole record under an existing id and persists.
// Unlike Update it does not merge, so keys absent from rec are dropped;
// compensation paths use it to put a row back exactly as captured.
func (s *Store) Replace(table string, id int64, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return err
	}

	norm, err := normalizeRecord(rec)
	if err != nil {
		return err
	}

	return s.mutate(func(data Snapshot) error {
		tbl := data[table]
		if _, ok := tbl[id]; !ok {
			return fmt.Errorf("replace %s/%d: %w", table, id, common.ErrNotFound)
		}
		tbl[id] = norm
		return nil
	})
}

// Get returns the record with the given id, or common.ErrNotFound.
func (s *Store) Get(table string, id int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return nil, err
	}
	rec, ok := s.data[table][id]
	if !ok {
		return nil, fmt.Errorf("%s/%d: %w", table, id, common.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

// All returns every record in the table, ordered by id.
func (s *Store) All(table string) ([]Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return nil, err
	}
	return sortedDocs(s.data[table]), nil
}

// Search returns all records matching pred, ordered by id.
func (s *Store) Search(table string, pred func(Doc) bool) ([]Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return nil, err
	}
	var out []Doc
	for _, doc := range sortedDocs(s.data[table]) {
		if pred(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Find returns the first record (lowest id) matching pred, or
// common.ErrNotFound.
func (s *Store) Find(table string, pred func(Doc) bool) (*Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return nil, err
	}
	for _, doc := range sortedDocs(s.data[table]) {
		if pred(doc) {
			return &doc, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", table, common.ErrNotFound)
}

// Update merges patch into every record with one of the given ids and
// persists. Returns how many records were updated; ids that do not exist
// are skipped.
func (s *Store) Update(table string, ids []int64, patch Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return 0, err
	}

	norm, err := normalizeRecord(patch)
	if err != nil {
		return 0, err
	}

	count := 0
	err = s.mutate(func(data Snapshot) error {
		tbl := data[table]
		for _, id := range ids {
			rec, ok := tbl[id]
			if !ok {
				continue
			}
			for k, v := range norm {
				rec[k] = v
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateWhere merges patch into every record matching pred.
func (s *Store) UpdateWhere(table string, pred func(Doc) bool, patch Record) (int, error) {
	ids, err := s.matchingIDs(table, pred)
	if err != nil {
		return 0, err
	}
	return s.Update(table, ids, patch)
}

// Remove deletes the records with the given ids and persists. Missing ids
// are skipped; the count of actually removed records is returned.
func (s *Store) Remove(table string, ids ...int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return 0, err
	}

	count := 0
	err := s.mutate(func(data Snapshot) error {
		tbl := data[table]
		for _, id := range ids {
			if _, ok := tbl[id]; ok {
				delete(tbl, id)
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RemoveWhere deletes every record matching pred.
func (s *Store) RemoveWhere(table string, pred func(Doc) bool) (int, error) {
	ids, err := s.matchingIDs(table, pred)
	if err != nil {
		return 0, err
	}
	return s.Remove(table, ids...)
}

func (s *Store) matchingIDs(table string, pred func(Doc) bool) ([]int64, error) {
	docs, err := s.Search(table, pred)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}
