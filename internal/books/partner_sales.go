package books

import (
	"context"
	"fmt"
	"time"

	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/saga"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
)

// PartnerSaleItem is one line of a partner sale.
type PartnerSaleItem struct {
	ItemID    int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// PartnerSaleInput describes goods sold out of a partner's consignment
// stock. A sale may cover several items; they commit or fail as one.
type PartnerSaleInput struct {
	PartnerID int64
	Items     []PartnerSaleItem
	Note      string
	Date      ledger.Date
}

// RecordPartnerSale inserts the partner sale row, deducts each item from
// the partner's inventory and posts a debit/credit entry pair per item:
// partner account down, owner pot up. Returns the sale row id.
func (s *Service) RecordPartnerSale(ctx context.Context, in PartnerSaleInput) (int64, error) {
	var (
		partner *Partner
		invDocs []*store.Doc
		prevQty []int64

		saleID   int64
		entryIDs []int64
	)

	date := in.Date
	if date.IsZero() {
		date = ledger.Today()
	}
	now := time.Now().UTC()

	op := saga.Operation{
		Name: "record_partner_sale",
		Validate: func() error {
			if len(in.Items) == 0 {
				return precondition("a sale needs at least one item")
			}
			var err error
			if partner, err = s.Partner(in.PartnerID); err != nil {
				return wrapRead(err)
			}
			invDocs = make([]*store.Doc, len(in.Items))
			prevQty = make([]int64, len(in.Items))
			for i, item := range in.Items {
				if item.Quantity <= 0 {
					return precondition("quantity %d must be positive", item.Quantity)
				}
				if item.UnitPrice.IsNegative() {
					return precondition("unit price must not be negative")
				}
				doc, err := s.findInventory(TablePartnerInventory, "partner_id", in.PartnerID, item.ItemID)
				if err != nil {
					return err
				}
				if doc == nil {
					return precondition("item %d not held by partner %d", item.ItemID, in.PartnerID)
				}
				qty := recInt(doc.Fields, "quantity")
				if qty < item.Quantity {
					return precondition("insufficient stock for item %d: have %d, need %d",
						item.ItemID, qty, item.Quantity)
				}
				invDocs[i] = doc
				prevQty[i] = qty
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "insert_partner_sale",
				Do: func() error {
					items := make([]store.Record, len(in.Items))
					for i, item := range in.Items {
						items[i] = store.Record{
							"item_id":    item.ItemID,
							"quantity":   item.Quantity,
							"unit_price": item.UnitPrice,
						}
					}
					var err error
					saleID, err = s.store.Insert(TablePartnerSales, store.Record{
						"partner_id": in.PartnerID,
						"items":      items,
						"note":       in.Note,
						"currency":   partner.Currency,
						"date":       date.String(),
						"timestamp":  now.Format(time.RFC3339Nano),
					})
					return err
				},
				Undo: func() error {
					_, err := s.store.Remove(TablePartnerSales, saleID)
					return err
				},
			},
			{
				Name: "deduct_inventory",
				Do: func() error {
					for i, item := range in.Items {
						_, err := s.store.Update(TablePartnerInventory, []int64{invDocs[i].ID},
							store.Record{"quantity": prevQty[i] - item.Quantity})
						if err != nil {
							return fmt.Errorf("item %d: %w", item.ItemID, err)
						}
					}
					return nil
				},
				Undo: func() error {
					for i := range in.Items {
						_, err := s.store.Update(TablePartnerInventory, []int64{invDocs[i].ID},
							store.Record{"quantity": prevQty[i]})
						if err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name: "post_entries",
				Do: func() error {
					for _, item := range in.Items {
						item := item
						lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
						partnerID, err := s.postEntry(ctx, ledger.Entry{
							AccountType: ledger.AccountPartner,
							AccountID:   partnerAccount(in.PartnerID).ID,
							EntryType:   ledger.EntrySale,
							RelatedID:   saleID,
							Amount:      lineTotal.Neg(),
							Currency:    partner.Currency,
							Note:        in.Note,
							Date:        date,
							Timestamp:   now,
							ItemID:      item.ItemID,
							Quantity:    item.Quantity,
							UnitPrice:   &item.UnitPrice,
						})
						if err != nil {
							return err
						}
						entryIDs = append(entryIDs, partnerID)

						ownerID, err := s.postEntry(ctx, ledger.Entry{
							AccountType: ledger.AccountOwner,
							AccountID:   ledger.PotAccountID,
							EntryType:   ledger.EntrySale,
							RelatedID:   saleID,
							Amount:      lineTotal,
							Currency:    partner.Currency,
							Note:        in.Note,
							Date:        date,
							Timestamp:   now,
							ItemID:      item.ItemID,
							Quantity:    item.Quantity,
							UnitPrice:   &item.UnitPrice,
						})
						if err != nil {
							return err
						}
						entryIDs = append(entryIDs, ownerID)
					}
					return nil
				},
				Undo: func() error {
					for _, id := range entryIDs {
						if err := s.ledger.Delete(ctx, id); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
	}

	if err := s.saga.Run(ctx, op); err != nil {
		return 0, err
	}
	return saleID, nil
}
