package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/avoronin/potledger/internal/common"
	"github.com/avoronin/potledger/internal/cryptox"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKDF = cryptox.KDFParams{Time: 1, Memory: 1024, Threads: 1}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s := store.New(store.Options{
		Path: filepath.Join(t.TempDir(), "ledger.db"),
		KDF:  testKDF,
	})
	require.NoError(t, s.Init([]byte("x")))
	return NewEngine(s, nil), s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPost_AndBalances(t *testing.T) {
	// empty store, two sale entries correlated by related=7
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Post(ctx, Entry{
		AccountType: AccountOwner, AccountID: PotAccountID,
		EntryType: EntrySale, RelatedID: 7,
		Amount: dec("100"), Currency: "USD",
	})
	require.NoError(t, err)

	_, err = e.Post(ctx, Entry{
		AccountType: AccountPartner, AccountID: "3",
		EntryType: EntrySale, RelatedID: 7,
		Amount: dec("-100"), Currency: "USD",
	})
	require.NoError(t, err)

	pot, err := e.Balance(OwnerPot())
	require.NoError(t, err)
	assert.True(t, pot.Equal(dec("100")), "pot balance = %s", pot)

	partner, err := e.Balance(Account{Type: AccountPartner, ID: "3"})
	require.NoError(t, err)
	assert.True(t, partner.Equal(dec("-100")), "partner balance = %s", partner)

	// balance is always the sum over ForAccount
	entries, err := e.ForAccount(OwnerPot(), nil)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, entry := range entries {
		sum = sum.Add(entry.Amount)
	}
	assert.True(t, pot.Equal(sum))
}

func TestPost_FillsDefaults(t *testing.T) {
	e, _ := newTestEngine(t)

	id, err := e.Post(context.Background(), Entry{
		AccountType: AccountOwner, AccountID: PotAccountID,
		EntryType: EntryPotAdjustment, Amount: dec("5"), Currency: "USD",
	})
	require.NoError(t, err)

	entries, err := e.ForAccount(OwnerPot(), nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, Today(), entries[0].Date)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestForAccount_SortAndDateRange(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	acct := Account{Type: AccountCustomer, ID: "1"}

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	post := func(day Date, amount string) {
		t.Helper()
		_, err := e.Post(ctx, Entry{
			AccountType: acct.Type, AccountID: acct.ID,
			EntryType: EntryPayment, Amount: dec(amount), Currency: "USD",
			Date: day, Timestamp: ts,
		})
		require.NoError(t, err)
	}

	// inserted out of calendar order
	post(NewDate(2026, 8, 20), "2")
	post(NewDate(2026, 8, 10), "1")
	post(NewDate(2026, 8, 30), "3")
	// same (date, timestamp) as the first: must keep insertion order
	post(NewDate(2026, 8, 20), "4")

	entries, err := e.ForAccount(acct, nil)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.True(t, entries[0].Amount.Equal(dec("1")))
	assert.True(t, entries[1].Amount.Equal(dec("2")))
	assert.True(t, entries[2].Amount.Equal(dec("4")), "stable tie-break by insertion")
	assert.True(t, entries[3].Amount.Equal(dec("3")))

	// inclusive range on both ends
	r := &DateRange{From: NewDate(2026, 8, 10), To: NewDate(2026, 8, 20)}
	entries, err = e.ForAccount(acct, r)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// open-ended range
	entries, err = e.ForAccount(acct, &DateRange{From: NewDate(2026, 8, 21)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(dec("3")))
}

func TestDeleteByRelated_TargetsExactlyOneTransaction(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	acct := Account{Type: AccountPartner, ID: "3"}

	post := func(a Account, related int64, amount string) {
		t.Helper()
		_, err := e.Post(ctx, Entry{
			AccountType: a.Type, AccountID: a.ID,
			EntryType: EntrySale, RelatedID: related,
			Amount: dec(amount), Currency: "USD",
		})
		require.NoError(t, err)
	}

	post(acct, 7, "-100")
	post(acct, 7, "-50")
	post(acct, 8, "-25")                                 // same account, other transaction
	post(Account{Type: AccountPartner, ID: "4"}, 7, "1") // other account, same related
	post(OwnerPot(), 7, "100")

	n, err := e.DeleteByRelated(ctx, acct, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := e.ForAccount(acct, nil)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, int64(8), left[0].RelatedID)

	other, err := e.ForAccount(Account{Type: AccountPartner, ID: "4"}, nil)
	require.NoError(t, err)
	assert.Len(t, other, 1)

	pot, err := e.ForAccount(OwnerPot(), nil)
	require.NoError(t, err)
	assert.Len(t, pot, 1)

	// correlation id is mandatory
	_, err = e.DeleteByRelated(ctx, acct, 0)
	assert.Error(t, err)
}

func TestDelete_SingleEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Post(ctx, Entry{
		AccountType: AccountOwner, AccountID: PotAccountID,
		EntryType: EntryFee, Amount: dec("9"), Currency: "USD",
	})
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, id))
	assert.Error(t, e.Delete(ctx, id), "second delete finds nothing")

	balance, err := e.Balance(OwnerPot())
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestRestore_KeepsEntryIdentity(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Post(ctx, Entry{
		AccountType: AccountOwner, AccountID: PotAccountID,
		EntryType: EntryExpense, RelatedID: 4,
		Amount: dec("-5"), Currency: "USD",
	})
	require.NoError(t, err)

	entries, err := e.ForAccount(OwnerPot(), nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	captured := entries[0]

	require.NoError(t, e.Delete(ctx, id))
	require.NoError(t, e.Restore(ctx, captured))

	entries, err = e.ForAccount(OwnerPot(), nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, captured, entries[0], "same id, same fields")
}

func TestEngine_LockedStore(t *testing.T) {
	e, s := newTestEngine(t)
	s.Lock()

	_, err := e.Post(context.Background(), Entry{
		AccountType: AccountOwner, AccountID: PotAccountID,
		EntryType: EntryFee, Amount: dec("1"), Currency: "USD",
	})
	assert.ErrorIs(t, err, common.ErrLocked)

	_, err = e.Balance(OwnerPot())
	assert.ErrorIs(t, err, common.ErrLocked)
}

func TestAccountsByType(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, id := range []string{"1", "1", "2"} {
		_, err := e.Post(ctx, Entry{
			AccountType: AccountCustomer, AccountID: id,
			EntryType: EntryPayment, Amount: dec("10"), Currency: "USD",
		})
		require.NoError(t, err)
	}
	_, err := e.Post(ctx, Entry{
		AccountType: AccountOwner, AccountID: PotAccountID,
		EntryType: EntryPaymentRecv, Amount: dec("30"), Currency: "USD",
	})
	require.NoError(t, err)

	byAccount, err := e.AccountsByType(AccountCustomer)
	require.NoError(t, err)
	require.Len(t, byAccount, 2)
	assert.Len(t, byAccount["1"], 2)
	assert.Len(t, byAccount["2"], 1)
}
