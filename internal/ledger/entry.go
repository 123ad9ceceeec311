// Package ledger implements the append-only ledger: immutable entries,
// derived balances and the delete-by-correlation compensation primitive.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType addresses one of the ledger's account families. Accounts are
// never stored as rows; an (AccountType, ID) pair is just an address into
// the entry list.
type AccountType string

const (
	AccountCustomer         AccountType = "customer"
	AccountPartner          AccountType = "partner"
	AccountStore            AccountType = "store"
	AccountOwner            AccountType = "owner"
	AccountPartnerDividends AccountType = "partner_dividends"
)

// PotAccountID is the fixed id of the owner's aggregate cash account.
const PotAccountID = "POT"

// Account is a ledger address.
type Account struct {
	Type AccountType
	ID   string
}

// OwnerPot returns the owner's pot account address.
func OwnerPot() Account {
	return Account{Type: AccountOwner, ID: PotAccountID}
}

// EntryType tags what kind of event an entry records.
type EntryType string

const (
	EntrySale               EntryType = "sale"
	EntrySaleEdit           EntryType = "sale_edit"
	EntrySaleDelete         EntryType = "sale_delete"
	EntryPayment            EntryType = "payment"
	EntryPaymentRecv        EntryType = "payment_recv"
	EntryPayout             EntryType = "payout"
	EntryPayoutSent         EntryType = "payout_sent"
	EntryExpense            EntryType = "expense"
	EntryDividendCredit     EntryType = "dividend_credit"
	EntryDividendWithdrawal EntryType = "dividend_withdrawal"
	EntryFee                EntryType = "fee"
	EntryPotAdjustment      EntryType = "pot_adjustment"
	EntryStockIn            EntryType = "stockin"
)

// Entry is one immutable ledger record. Entries are never mutated in
// place: corrections are new entries, or a DeleteByRelated followed by a
// re-post under the same correlation id.
type Entry struct {
	// ID is assigned by the store on post.
	ID int64 `json:"-"`

	AccountType AccountType `json:"account_type"`
	AccountID   string      `json:"account_id"`
	EntryType   EntryType   `json:"entry_type"`

	// RelatedID correlates every entry and side record produced by one
	// logical business transaction. Zero means uncorrelated.
	RelatedID int64 `json:"related_id,omitempty"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Note     string          `json:"note,omitempty"`

	// Date is the calendar day the event belongs to; Timestamp is the
	// creation instant. Post fills both when absent.
	Date      Date      `json:"date"`
	Timestamp time.Time `json:"timestamp"`

	// Optional event detail.
	ItemID    int64            `json:"item_id,omitempty"`
	Quantity  int64            `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	StoreID   int64            `json:"store_id,omitempty"`
	FeePerc   *decimal.Decimal `json:"fee_perc,omitempty"`
	FeeAmt    *decimal.Decimal `json:"fee_amt,omitempty"`
	FxRate    *decimal.Decimal `json:"fx_rate,omitempty"`
	USDAmt    *decimal.Decimal `json:"usd_amt,omitempty"`
}

// Account returns the entry's ledger address.
func (e Entry) Account() Account {
	return Account{Type: e.AccountType, ID: e.AccountID}
}
