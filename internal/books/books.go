// Package books implements the compound business operations of the
// bookkeeping core: sales, payments, payouts, expenses, dividends and
// stock movements. Every operation that touches more than one table runs
// through the saga coordinator, so a failure mid-way always leaves the
// store as if the operation had never been attempted.
package books

import (
	"context"

	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/logging"
	"github.com/avoronin/potledger/internal/saga"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
)

// Store table names owned by this package.
const (
	TableCustomers        = "customers"
	TablePartners         = "partners"
	TableShops            = "stores"
	TableShopInventory    = "store_inventory"
	TablePartnerInventory = "partner_inventory"
	TableSales            = "sales"
	TablePartnerSales     = "partner_sales"
	TablePayments         = "payments"
	TablePayouts          = "payouts"
	TableExpenses         = "expenses"
	TableShopPayments     = "store_payments"
)

// Service exposes the bookkeeping operations over one encrypted store.
// The surrounding application must serialize mutating calls; see the store
// package comment.
type Service struct {
	store  *store.Store
	ledger *ledger.Engine
	saga   *saga.Coordinator
	log    logging.Logger

	// postEntry is how saga steps append ledger entries. It defaults to
	// the engine's Post; tests swap it in to inject posting failures.
	postEntry func(ctx context.Context, entry ledger.Entry) (int64, error)
}

func NewService(st *store.Store, log logging.Logger) *Service {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Service{
		store:  st,
		ledger: ledger.NewEngine(st, log),
		saga:   saga.NewCoordinator(log),
		log:    log.With("component", "books"),
	}
	s.postEntry = s.ledger.Post
	return s
}

// Ledger returns the underlying ledger engine for read-side consumers
// (reports, statements).
func (s *Service) Ledger() *ledger.Engine { return s.ledger }

// Store returns the underlying document store.
func (s *Service) Store() *store.Store { return s.store }

// record field accessors: records come back from the store JSON-normalized,
// so numbers are float64 and decimals are strings.

func recInt(rec store.Record, key string) int64 {
	f, _ := rec[key].(float64)
	return int64(f)
}

func recString(rec store.Record, key string) string {
	v, _ := rec[key].(string)
	return v
}

func recDec(rec store.Record, key string) decimal.Decimal {
	switch v := rec[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(v)
	default:
		return decimal.Zero
	}
}
