package books

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avoronin/potledger/internal/common"
	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/saga"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
)

// SaleInput describes a customer sale: one item sold from a shop's stock.
type SaleInput struct {
	CustomerID  int64
	ShopID      int64
	ItemID      int64
	Quantity    int64
	UnitPrice   decimal.Decimal
	HandlingFee decimal.Decimal
	Note        string
	Date        ledger.Date
}

// precondition tags a validation failure so callers can match it with
// errors.Is(err, common.ErrPreconditionFailed).
func precondition(format string, args ...any) error {
	args = append(args, common.ErrPreconditionFailed)
	return fmt.Errorf(format+": %w", args...)
}

// wrapRead converts read errors during validation: a missing record is a
// precondition failure, anything else (locked store etc.) passes through.
func wrapRead(err error) error {
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("%w: %w", common.ErrPreconditionFailed, err)
	}
	return err
}

// RecordSale validates stock, inserts the sale row, deducts shop
// inventory and posts the ledger pair (customer debit, owner pot credit),
// plus a handling-fee credit to the shop when a fee was charged. All of it
// commits or none of it does. Returns the sale row id, which is also the
// correlation id of every entry posted.
func (s *Service) RecordSale(ctx context.Context, in SaleInput) (int64, error) {
	var (
		shop    *Shop
		invDoc  *store.Doc
		prevQty int64

		saleID       int64
		custEntryID  int64
		ownerEntryID int64
		feeRowID     int64
		feeEntryID   int64
	)

	total := in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity))
	date := in.Date
	if date.IsZero() {
		date = ledger.Today()
	}
	now := time.Now().UTC()
	hasFee := in.HandlingFee.IsPositive()

	op := saga.Operation{
		Name: "record_sale",
		Validate: func() error {
			if in.Quantity <= 0 {
				return precondition("quantity %d must be positive", in.Quantity)
			}
			if in.UnitPrice.IsNegative() || in.HandlingFee.IsNegative() {
				return precondition("price and fee must not be negative")
			}
			if _, err := s.Customer(in.CustomerID); err != nil {
				return wrapRead(err)
			}
			var err error
			if shop, err = s.Shop(in.ShopID); err != nil {
				return wrapRead(err)
			}
			if invDoc, err = s.findInventory(TableShopInventory, "store_id", in.ShopID, in.ItemID); err != nil {
				return err
			}
			if invDoc == nil {
				return precondition("item %d not stocked at shop %d", in.ItemID, in.ShopID)
			}
			prevQty = recInt(invDoc.Fields, "quantity")
			if prevQty < in.Quantity {
				return precondition("insufficient stock for item %d: have %d, need %d",
					in.ItemID, prevQty, in.Quantity)
			}
			return nil
		},
	}

	steps := []saga.Step{
		{
			Name: "insert_sale",
			Do: func() error {
				var err error
				saleID, err = s.store.Insert(TableSales, store.Record{
					"customer_id":  in.CustomerID,
					"store_id":     in.ShopID,
					"item_id":      in.ItemID,
					"quantity":     in.Quantity,
					"unit_price":   in.UnitPrice,
					"handling_fee": in.HandlingFee,
					"note":         in.Note,
					"currency":     shop.Currency,
					"date":         date.String(),
					"timestamp":    now.Format(time.RFC3339Nano),
				})
				return err
			},
			Undo: func() error {
				_, err := s.store.Remove(TableSales, saleID)
				return err
			},
		},
		{
			Name: "deduct_inventory",
			Do: func() error {
				_, err := s.store.Update(TableShopInventory, []int64{invDoc.ID},
					store.Record{"quantity": prevQty - in.Quantity})
				return err
			},
			Undo: func() error {
				_, err := s.store.Update(TableShopInventory, []int64{invDoc.ID},
					store.Record{"quantity": prevQty})
				return err
			},
		},
		{
			Name: "post_customer_entry",
			Do: func() error {
				var err error
				custEntryID, err = s.postEntry(ctx, ledger.Entry{
					AccountType: ledger.AccountCustomer,
					AccountID:   customerAccount(in.CustomerID).ID,
					EntryType:   ledger.EntrySale,
					RelatedID:   saleID,
					Amount:      total.Neg(),
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
			Undo: func() error { return s.ledger.Delete(ctx, custEntryID) },
		},
		{
			Name: "post_owner_entry",
			Do: func() error {
				var err error
				ownerEntryID, err = s.postEntry(ctx, ledger.Entry{
					AccountType: ledger.AccountOwner,
					AccountID:   ledger.PotAccountID,
					EntryType:   ledger.EntrySale,
					RelatedID:   saleID,
					Amount:      total,
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
			Undo: func() error { return s.ledger.Delete(ctx, ownerEntryID) },
		},
	}

	if hasFee {
		steps = append(steps,
			saga.Step{
				Name: "insert_fee_row",
				Do: func() error {
					var err error
					feeRowID, err = s.store.Insert(TableShopPayments, store.Record{
						"store_id":   in.ShopID,
						"amount":     in.HandlingFee,
						"currency":   shop.Currency,
						"note":       fmt.Sprintf("handling fee for sale %d", saleID),
						"related_id": saleID,
						"timestamp":  now.Format(time.RFC3339Nano),
					})
					return err
				},
				Undo: func() error {
					_, err := s.store.Remove(TableShopPayments, feeRowID)
					return err
				},
			},
			saga.Step{
				Name: "post_fee_entry",
				Do: func() error {
					var err error
					feeEntryID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountStore,
						AccountID:   shopAccount(in.ShopID).ID,
						EntryType:   ledger.EntryFee,
						RelatedID:   saleID,
						Amount:      in.HandlingFee,
						Currency:    shop.Currency,
						Date:        date,
						Timestamp:   now,
						FeeAmt:      &in.HandlingFee,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, feeEntryID) },
			},
		)
	}

	op.Steps = steps
	if err := s.saga.Run(ctx, op); err != nil {
		return 0, err
	}
	return saleID, nil
}

// EditSale replaces a sale's quantity, unit price and note. The ledger
// delta is applied first — old correlated entries are deleted and re-posted
// as sale_edit entries — and the primary row is only mutated once the
// ledger delta committed.
func (s *Service) EditSale(ctx context.Context, saleID int64, quantity int64, unitPrice decimal.Decimal, note string) error {
	var (
		saleRec    store.Record
		invDoc     *store.Doc
		prevQty    int64
		delta      int64
		oldEntries []ledger.Entry

		custAcct, ownerAcct   ledger.Account
		newCustID, newOwnerID int64
	)

	newTotal := unitPrice.Mul(decimal.NewFromInt(quantity))
	now := time.Now().UTC()

	op := saga.Operation{
		Name: "edit_sale",
		Validate: func() error {
			if quantity <= 0 {
				return precondition("quantity %d must be positive", quantity)
			}
			var err error
			if saleRec, err = s.store.Get(TableSales, saleID); err != nil {
				return wrapRead(err)
			}
			custAcct = customerAccount(recInt(saleRec, "customer_id"))
			ownerAcct = ledger.OwnerPot()

			shopID := recInt(saleRec, "store_id")
			itemID := recInt(saleRec, "item_id")
			delta = quantity - recInt(saleRec, "quantity")

			if invDoc, err = s.findInventory(TableShopInventory, "store_id", shopID, itemID); err != nil {
				return err
			}
			if invDoc != nil {
				prevQty = recInt(invDoc.Fields, "quantity")
			}
			if delta > 0 && prevQty < delta {
				return precondition("insufficient stock for item %d: have %d, need %d more",
					itemID, prevQty, delta)
			}

			if oldEntries, err = s.relatedEntries(saleID, custAcct, ownerAcct); err != nil {
				return err
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "adjust_inventory",
				Do: func() error {
					if invDoc == nil {
						return nil
					}
					_, err := s.store.Update(TableShopInventory, []int64{invDoc.ID},
						store.Record{"quantity": prevQty - delta})
					return err
				},
				Undo: func() error {
					if invDoc == nil {
						return nil
					}
					_, err := s.store.Update(TableShopInventory, []int64{invDoc.ID},
						store.Record{"quantity": prevQty})
					return err
				},
			},
			{
				Name: "delete_old_entries",
				Do: func() error {
					for _, acct := range []ledger.Account{custAcct, ownerAcct} {
						if _, err := s.ledger.DeleteByRelated(ctx, acct, saleID); err != nil {
							return err
						}
					}
					return nil
				},
				Undo: func() error { return s.repostEntries(ctx, oldEntries) },
			},
			{
				Name: "post_new_entries",
				Do: func() error {
					currency := recString(saleRec, "currency")
					date := ledger.Today()
					if d, err := ledger.ParseDate(recString(saleRec, "date")); err == nil {
						date = d
					}
					var err error
					newCustID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: custAcct.Type, AccountID: custAcct.ID,
						EntryType: ledger.EntrySaleEdit, RelatedID: saleID,
						Amount: newTotal.Neg(), Currency: currency, Note: note,
						Date: date, Timestamp: now,
						ItemID:    recInt(saleRec, "item_id"),
						Quantity:  quantity,
						UnitPrice: &unitPrice,
						StoreID:   recInt(saleRec, "store_id"),
					})
					if err != nil {
						return err
					}
					newOwnerID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ownerAcct.Type, AccountID: ownerAcct.ID,
						EntryType: ledger.EntrySaleEdit, RelatedID: saleID,
						Amount: newTotal, Currency: currency, Note: note,
						Date: date, Timestamp: now,
						ItemID:    recInt(saleRec, "item_id"),
						Quantity:  quantity,
						UnitPrice: &unitPrice,
						StoreID:   recInt(saleRec, "store_id"),
					})
					return err
				},
				Undo: func() error {
					if newCustID != 0 {
						if err := s.ledger.Delete(ctx, newCustID); err != nil {
							return err
						}
					}
					if newOwnerID != 0 {
						return s.ledger.Delete(ctx, newOwnerID)
					}
					return nil
				},
			},
			{
				Name: "update_sale_row",
				Do: func() error {
					_, err := s.store.Update(TableSales, []int64{saleID}, store.Record{
						"quantity":   quantity,
						"unit_price": unitPrice,
						"note":       note,
					})
					return err
				},
				Undo: func() error {
					_, err := s.store.Update(TableSales, []int64{saleID}, store.Record{
						"quantity":   recInt(saleRec, "quantity"),
						"unit_price": recString(saleRec, "unit_price"),
						"note":       recString(saleRec, "note"),
					})
					return err
				},
			},
		},
	}

	return s.saga.Run(ctx, op)
}

// DeleteSale reverses a committed sale: restores shop stock, removes every
// correlated ledger entry and fee row, removes the sale row, and leaves a
// zero-amount sale_delete audit entry on the owner pot.
func (s *Service) DeleteSale(ctx context.Context, saleID int64) error {
	var (
		saleRec    store.Record
		invDoc     *store.Doc
		prevQty    int64
		newInvID   int64
		oldEntries []ledger.Entry
		feeRows    []store.Doc
		auditID    int64

		custAcct, shopAcct ledger.Account
	)
	ownerAcct := ledger.OwnerPot()
	now := time.Now().UTC()

	op := saga.Operation{
		Name: "delete_sale",
		Validate: func() error {
			var err error
			if saleRec, err = s.store.Get(TableSales, saleID); err != nil {
				return wrapRead(err)
			}
			custAcct = customerAccount(recInt(saleRec, "customer_id"))
			shopAcct = shopAccount(recInt(saleRec, "store_id"))

			if invDoc, err = s.findInventory(TableShopInventory, "store_id",
				recInt(saleRec, "store_id"), recInt(saleRec, "item_id")); err != nil {
				return err
			}
			if invDoc != nil {
				prevQty = recInt(invDoc.Fields, "quantity")
			}

			if oldEntries, err = s.relatedEntries(saleID, custAcct, ownerAcct, shopAcct); err != nil {
				return err
			}
			if feeRows, err = s.store.Search(TableShopPayments, func(d store.Doc) bool {
				return recInt(d.Fields, "related_id") == saleID
			}); err != nil {
				return err
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "restore_inventory",
				Do: func() error {
					qty := recInt(saleRec, "quantity")
					if invDoc != nil {
						_, err := s.store.Update(TableShopInventory, []int64{invDoc.ID},
							store.Record{"quantity": prevQty + qty})
						return err
					}
					var err error
					newInvID, err = s.store.Insert(TableShopInventory, store.Record{
						"store_id": recInt(saleRec, "store_id"),
						"item_id":  recInt(saleRec, "item_id"),
						"quantity": qty,
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
				Name: "delete_ledger_entries",
				Do: func() error {
					for _, acct := range []ledger.Account{custAcct, ownerAcct, shopAcct} {
						if _, err := s.ledger.DeleteByRelated(ctx, acct, saleID); err != nil {
							return err
						}
					}
					return nil
				},
				Undo: func() error { return s.repostEntries(ctx, oldEntries) },
			},
			{
				Name: "remove_fee_rows",
				Do: func() error {
					for _, row := range feeRows {
						if _, err := s.store.Remove(TableShopPayments, row.ID); err != nil {
							return err
						}
					}
					return nil
				},
				Undo: func() error {
					for _, row := range feeRows {
						if err := s.store.Restore(TableShopPayments, row.ID, row.Fields); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name: "remove_sale_row",
				Do: func() error {
					_, err := s.store.Remove(TableSales, saleID)
					return err
				},
				Undo: func() error { return s.store.Restore(TableSales, saleID, saleRec) },
			},
			{
				Name: "post_delete_audit",
				Do: func() error {
					var err error
					auditID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ownerAcct.Type, AccountID: ownerAcct.ID,
						EntryType: ledger.EntrySaleDelete, RelatedID: saleID,
						Amount:    decimal.Zero,
						Currency:  recString(saleRec, "currency"),
						Note:      fmt.Sprintf("sale %d deleted", saleID),
						Timestamp: now,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, auditID) },
			},
		},
	}

	return s.saga.Run(ctx, op)
}

// relatedEntries collects every entry correlated to relatedID on the given
// accounts, for capture-before-delete compensation.
func (s *Service) relatedEntries(relatedID int64, accounts ...ledger.Account) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, acct := range accounts {
		entries, err := s.ledger.ForAccount(acct, nil)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.RelatedID == relatedID {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// repostEntries puts previously captured entries back under their
// original ids.
func (s *Service) repostEntries(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if err := s.ledger.Restore(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
