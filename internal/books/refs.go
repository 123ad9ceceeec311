package books

import (
	"strconv"

	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
)

// Customer is a buyer with a home currency.
type Customer struct {
	ID       int64
	Name     string
	Currency string
}

// Partner is a supplier/co-owner. Partners may carry a dividends account;
// DividendsBalance is a cached display value, the ledger stays the source
// of truth.
type Partner struct {
	ID               int64
	Name             string
	Currency         string
	HasDividends     bool
	DividendsBalance decimal.Decimal
}

// Shop is a physical store location (the "stores" table).
type Shop struct {
	ID       int64
	Name     string
	Currency string
}

func (s *Service) AddCustomer(name, currency string) (int64, error) {
	return s.store.Insert(TableCustomers, store.Record{"name": name, "currency": currency})
}

func (s *Service) Customer(id int64) (*Customer, error) {
	rec, err := s.store.Get(TableCustomers, id)
	if err != nil {
		return nil, err
	}
	return &Customer{ID: id, Name: recString(rec, "name"), Currency: recString(rec, "currency")}, nil
}

func (s *Service) Customers() ([]Customer, error) {
	docs, err := s.store.All(TableCustomers)
	if err != nil {
		return nil, err
	}
	out := make([]Customer, len(docs))
	for i, d := range docs {
		out[i] = Customer{ID: d.ID, Name: recString(d.Fields, "name"), Currency: recString(d.Fields, "currency")}
	}
	return out, nil
}

func (s *Service) AddPartner(name, currency string, withDividends bool) (int64, error) {
	rec := store.Record{"name": name, "currency": currency}
	if withDividends {
		rec["dividends_account"] = store.Record{"balance": "0"}
	}
	return s.store.Insert(TablePartners, rec)
}

func (s *Service) Partner(id int64) (*Partner, error) {
	rec, err := s.store.Get(TablePartners, id)
	if err != nil {
		return nil, err
	}
	return partnerFromRecord(id, rec), nil
}

func (s *Service) Partners() ([]Partner, error) {
	docs, err := s.store.All(TablePartners)
	if err != nil {
		return nil, err
	}
	out := make([]Partner, len(docs))
	for i, d := range docs {
		out[i] = *partnerFromRecord(d.ID, d.Fields)
	}
	return out, nil
}

func partnerFromRecord(id int64, rec store.Record) *Partner {
	p := &Partner{ID: id, Name: recString(rec, "name"), Currency: recString(rec, "currency")}
	if div, ok := rec["dividends_account"].(map[string]any); ok {
		p.HasDividends = true
		p.DividendsBalance = recDec(div, "balance")
	}
	return p
}

func (s *Service) AddShop(name, currency string) (int64, error) {
	return s.store.Insert(TableShops, store.Record{"name": name, "currency": currency})
}

func (s *Service) Shop(id int64) (*Shop, error) {
	rec, err := s.store.Get(TableShops, id)
	if err != nil {
		return nil, err
	}
	return &Shop{ID: id, Name: recString(rec, "name"), Currency: recString(rec, "currency")}, nil
}

func (s *Service) Shops() ([]Shop, error) {
	docs, err := s.store.All(TableShops)
	if err != nil {
		return nil, err
	}
	out := make([]Shop, len(docs))
	for i, d := range docs {
		out[i] = Shop{ID: d.ID, Name: recString(d.Fields, "name"), Currency: recString(d.Fields, "currency")}
	}
	return out, nil
}

// ShopStock returns the on-hand quantity of an item at a shop; zero when
// the item was never stocked.
func (s *Service) ShopStock(shopID, itemID int64) (int64, error) {
	doc, err := s.findInventory(TableShopInventory, "store_id", shopID, itemID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, nil
	}
	return recInt(doc.Fields, "quantity"), nil
}

// PartnerStock returns the on-hand quantity of an item held by a partner.
func (s *Service) PartnerStock(partnerID, itemID int64) (int64, error) {
	doc, err := s.findInventory(TablePartnerInventory, "partner_id", partnerID, itemID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, nil
	}
	return recInt(doc.Fields, "quantity"), nil
}

// findInventory locates the inventory row for (owner, item). A nil doc
// with nil error means the row does not exist.
func (s *Service) findInventory(table, ownerKey string, ownerID, itemID int64) (*store.Doc, error) {
	docs, err := s.store.Search(table, func(d store.Doc) bool {
		return recInt(d.Fields, ownerKey) == ownerID && recInt(d.Fields, "item_id") == itemID
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func customerAccount(id int64) ledger.Account {
	return ledger.Account{Type: ledger.AccountCustomer, ID: strconv.FormatInt(id, 10)}
}

func partnerAccount(id int64) ledger.Account {
	return ledger.Account{Type: ledger.AccountPartner, ID: strconv.FormatInt(id, 10)}
}

func partnerDividendsAccount(id int64) ledger.Account {
	return ledger.Account{Type: ledger.AccountPartnerDividends, ID: strconv.FormatInt(id, 10)}
}

func shopAccount(id int64) ledger.Account {
	return ledger.Account{Type: ledger.AccountStore, ID: strconv.FormatInt(id, 10)}
}
