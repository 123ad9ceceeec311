package books

import (
	"context"
	"time"

	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/saga"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
)

// StockInInput describes goods arriving at a shop. UnitPrice is the
// purchase cost per unit; the pot pays for the goods.
type StockInInput struct {
	ShopID    int64
	ItemID    int64
	Quantity  int64
	UnitPrice decimal.Decimal
	Note      string
	Date      ledger.Date
}

// StockIn increases (or creates) the shop's inventory row for the item and
// posts a stockin entry debiting the owner pot with the purchase cost.
func (s *Service) StockIn(ctx context.Context, in StockInInput) error {
	var (
		shop     *Shop
		invDoc   *store.Doc
		prevQty  int64
		newInvID int64
		entryID  int64
	)

	date := in.Date
	if date.IsZero() {
		date = ledger.Today()
	}
	now := time.Now().UTC()
	cost := in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity))

	op := saga.Operation{
		Name: "stock_in",
		Validate: func() error {
			if in.Quantity <= 0 {
				return precondition("quantity %d must be positive", in.Quantity)
			}
			if in.UnitPrice.IsNegative() {
				return precondition("unit price must not be negative")
			}
			var err error
			if shop, err = s.Shop(in.ShopID); err != nil {
				return wrapRead(err)
			}
			if invDoc, err = s.findInventory(TableShopInventory, "store_id", in.ShopID, in.ItemID); err != nil {
				return err
			}
			if invDoc != nil {
				prevQty = recInt(invDoc.Fields, "quantity")
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "upsert_inventory",
				Do: func() error {
					if invDoc != nil {
						_, err := s.store.Update(TableShopInventory, []int64{invDoc.ID},
							store.Record{"quantity": prevQty + in.Quantity})
						return err
					}
					var err error
					newInvID, err = s.store.Insert(TableShopInventory, store.Record{
						"store_id": in.ShopID,
						"item_id":  in.ItemID,
						"quantity": in.Quantity,
					})
					return err
				},
				Undo: func() error {
					if invDoc != nil {
						_, err := s.store.Update(TableShopInventory, []int64{invDoc.ID},
							store.Record{"quantity": prevQty})
						return err
					}
					_, err := s.store.Remove(TableShopInventory, newInvID)
					return err
				},
			},
			{
				Name: "post_stockin_entry",
				Do: func() error {
					var err error
					entryID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountOwner,
						AccountID:   ledger.PotAccountID,
						EntryType:   ledger.EntryStockIn,
						Amount:      cost.Neg(),
						Currency:    shop.Currency,
						Note:        in.Note,
						Date:        date,
						Timestamp:   now,
						ItemID:      in.ItemID,
						Quantity:    in.Quantity,
						UnitPrice:   &in.UnitPrice,
						StoreID:     in.ShopID,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, entryID) },
			},
		},
	}

	return s.saga.Run(ctx, op)
}

// PartnerStockIn places goods into a partner's consignment stock. No money
// moves; a zero-amount stockin entry on the partner account records the
// event with its quantity and unit price.
func (s *Service) PartnerStockIn(ctx context.Context, partnerID, itemID, quantity int64, unitPrice decimal.Decimal, note string) error {
	var (
		partner  *Partner
		invDoc   *store.Doc
		prevQty  int64
		newInvID int64
		entryID  int64
	)

	now := time.Now().UTC()

	op := saga.Operation{
		Name: "partner_stock_in",
		Validate: func() error {
			if quantity <= 0 {
				return precondition("quantity %d must be positive", quantity)
			}
			var err error
			if partner, err = s.Partner(partnerID); err != nil {
				return wrapRead(err)
			}
			if invDoc, err = s.findInventory(TablePartnerInventory, "partner_id", partnerID, itemID); err != nil {
				return err
			}
			if invDoc != nil {
				prevQty = recInt(invDoc.Fields, "quantity")
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "upsert_inventory",
				Do: func() error {
					if invDoc != nil {
						_, err := s.store.Update(TablePartnerInventory, []int64{invDoc.ID},
							store.Record{"quantity": prevQty + quantity})
						return err
					}
					var err error
					newInvID, err = s.store.Insert(TablePartnerInventory, store.Record{
						"partner_id": partnerID,
						"item_id":    itemID,
						"quantity":   quantity,
					})
					return err
				},
				Undo: func() error {
					if invDoc != nil {
						_, err := s.store.Update(TablePartnerInventory, []int64{invDoc.ID},
							store.Record{"quantity": prevQty})
						return err
					}
					_, err := s.store.Remove(TablePartnerInventory, newInvID)
					return err
				},
			},
			{
				Name: "post_stockin_entry",
				Do: func() error {
					var err error
					entryID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountPartner,
						AccountID:   partnerAccount(partnerID).ID,
						EntryType:   ledger.EntryStockIn,
						Amount:      decimal.Zero,
						Currency:    partner.Currency,
						Note:        note,
						Timestamp:   now,
						ItemID:      itemID,
						Quantity:    quantity,
						UnitPrice:   &unitPrice,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, entryID) },
			},
		},
	}

	return s.saga.Run(ctx, op)
}
