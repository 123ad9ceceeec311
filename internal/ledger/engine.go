package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/avoronin/potledger/internal/logging"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
)

// TableName is the store table holding all ledger entries.
const TableName = "ledger_entries"

// Engine appends entries to the encrypted store and derives balances from
// them. Balances are never stored; the entry list is the sole source of
// truth. Double-entry balancing is the caller's responsibility, not the
// engine's.
type Engine struct {
	store *store.Store
	log   logging.Logger
}

func NewEngine(s *store.Store, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNop()
	}
	return &Engine{store: s, log: log.With("component", "ledger")}
}

// Post appends one entry, filling the date and timestamp defaults when
// absent, and returns the new entry's id.
func (e *Engine) Post(ctx context.Context, entry Entry) (int64, error) {
	if entry.Date.IsZero() {
		entry.Date = Today()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	rec, err := entryToRecord(entry)
	if err != nil {
		return 0, err
	}
	id, err := e.store.Insert(TableName, rec)
	if err != nil {
		return 0, err
	}
	e.log.Debug(ctx, "entry posted",
		"id", id,
		"account_type", entry.AccountType,
		"account_id", entry.AccountID,
		"entry_type", entry.EntryType,
		"amount", entry.Amount,
		"related_id", entry.RelatedID,
	)
	return id, nil
}

// Delete removes a single entry by id. It exists for compensation paths
// that must undo exactly one post.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	n, err := e.store.Remove(TableName, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entry %d: not found", id)
	}
	e.log.Debug(ctx, "entry deleted", "id", id)
	return nil
}

// Restore puts a previously captured entry back under its original id.
// Compensation paths use it so an undone delete leaves the ledger exactly
// as it was, ids included.
func (e *Engine) Restore(ctx context.Context, entry Entry) error {
	rec, err := entryToRecord(entry)
	if err != nil {
		return err
	}
	if err := e.store.Restore(TableName, entry.ID, rec); err != nil {
		return err
	}
	e.log.Debug(ctx, "entry restored", "id", entry.ID)
	return nil
}

// DeleteByRelated removes every entry matching the (account, related id)
// triple and returns how many were removed. It is the compensation and
// correction primitive: all entries of one logical transaction on one
// account go at once, entries with other correlation ids stay untouched.
func (e *Engine) DeleteByRelated(ctx context.Context, acct Account, relatedID int64) (int, error) {
	if relatedID == 0 {
		return 0, errors.New("related id required")
	}
	n, err := e.store.RemoveWhere(TableName, func(d store.Doc) bool {
		entry, err := entryFromDoc(d)
		if err != nil {
			return false
		}
		return entry.Account() == acct && entry.RelatedID == relatedID
	})
	if err != nil {
		return 0, err
	}
	e.log.Debug(ctx, "entries deleted by correlation",
		"account_type", acct.Type, "account_id", acct.ID,
		"related_id", relatedID, "count", n)
	return n, nil
}

// ForAccount returns the account's entries, optionally limited to an
// inclusive day range, ascending by (date, timestamp). Entries with equal
// date and timestamp keep insertion order.
func (e *Engine) ForAccount(acct Account, r *DateRange) ([]Entry, error) {
	docs, err := e.store.All(TableName)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, d := range docs {
		entry, err := entryFromDoc(d)
		if err != nil {
			return nil, err
		}
		if entry.Account() != acct {
			continue
		}
		if r != nil && !r.Contains(entry.Date) {
			continue
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

// Balance returns the sum of all amounts ever posted to the account.
func (e *Engine) Balance(acct Account) (decimal.Decimal, error) {
	entries, err := e.ForAccount(acct, nil)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, entry := range entries {
		balance = balance.Add(entry.Amount)
	}
	return balance, nil
}

// AccountsByType returns every account of the given type that has entries,
// each with its sorted entry list. Used by the external report renderers.
func (e *Engine) AccountsByType(t AccountType) (map[string][]Entry, error) {
	docs, err := e.store.All(TableName)
	if err != nil {
		return nil, err
	}

	out := map[string][]Entry{}
	for _, d := range docs {
		entry, err := entryFromDoc(d)
		if err != nil {
			return nil, err
		}
		if entry.AccountType != t {
			continue
		}
		out[entry.AccountID] = append(out[entry.AccountID], entry)
	}
	for _, entries := range out {
		sortEntries(entries)
	}
	return out, nil
}

// sortEntries orders ascending by (date, timestamp), stable so equal keys
// keep insertion order.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

func entryToRecord(entry Entry) (store.Record, error) {
	b, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	var rec store.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal entry record: %w", err)
	}
	return rec, nil
}

func entryFromDoc(d store.Doc) (Entry, error) {
	b, err := json.Marshal(d.Fields)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal entry record: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		return Entry{}, fmt.Errorf("unmarshal entry %d: %w", d.ID, err)
	}
	entry.ID = d.ID
	return entry, nil
}
