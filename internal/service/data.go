package service

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/invoice"
	"nvoice/backend/internal/kv"
)

// Export dumps customers, invoices and stock levels.
func (s *Service) Export(ctx context.Context) (domain.DataExport, error) {
	customers, err := s.customers.List(ctx)
	if err != nil {
		return domain.DataExport{}, err
	}
	invoices, err := s.archive.List(ctx)
	if err != nil {
		return domain.DataExport{}, err
	}
	stock, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return domain.DataExport{}, err
	}

	return domain.DataExport{
		Customers:  customers,
		Invoices:   invoices,
		Inventory:  stock,
		ExportDate: s.now().UTC(),
	}, nil
}

// Import replaces each section present in data, in one unit.
func (s *Service) Import(ctx context.Context, data domain.DataImport) error {
	err := s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		if data.Customers != nil {
			if err := s.customers.WithTx(tx).Replace(ctx, data.Customers); err != nil {
				return err
			}
		}
		if data.Invoices != nil {
			if err := s.archive.WithTx(tx).Replace(ctx, data.Invoices); err != nil {
				return err
			}
			now := s.now()
			if err := s.sequence.WithTx(tx).Advance(ctx, now, invoice.HighestForDay(data.Invoices, now)); err != nil {
				return err
			}
		}
		if data.Inventory != nil {
			if err := s.ledger.WithTx(tx).Replace(ctx, data.Inventory); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "data imported",
		"customers", len(data.Customers), "invoices", len(data.Invoices), "inventory", len(data.Inventory))
	return nil
}

var posKeys = []string{kv.KeyCustomers, kv.KeyInvoices, kv.KeyInventory, kv.KeyInvoiceSeq}

// ClearAllData removes every POS record, drafts and preferences included, then
// reseeds stock as on a fresh start. Accounts and sessions are kept. It returns
// the number of keys removed. The shared records are always deleted inside the
// unit; per-user keys come from a listing taken just before it, so a draft
// first written while the clear runs can survive.
func (s *Service) ClearAllData(ctx context.Context) (int, error) {
	listed, err := s.store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	keys := slices.Clone(posKeys)
	for _, key := range listed {
		if kv.IsSessionKey(key) {
			keys = append(keys, key)
		}
	}

	removed := 0
	err = s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		removed = 0
		for _, key := range keys {
			ok, err := tx.Delete(ctx, key)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "data cleared", "keys", removed)
	return removed, s.Bootstrap(ctx)
}

func (s *Service) loadPrefs(ctx context.Context, a kv.Accessor, userID string) (map[string]json.RawMessage, error) {
	var prefs map[string]json.RawMessage
	if err := kv.Load(ctx, a, kv.PrefsKey(userID), &prefs, s.logger); err != nil {
		return nil, err
	}
	if prefs == nil {
		prefs = make(map[string]json.RawMessage)
	}
	return prefs, nil
}

// Pref returns the caller's stored preference value.
func (s *Service) Pref(ctx context.Context, key string) (json.RawMessage, bool, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, false, err
	}
	prefs, err := s.loadPrefs(ctx, s.store, userID)
	if err != nil {
		return nil, false, err
	}
	value, ok := prefs[key]
	return value, ok, nil
}

func (s *Service) SetPref(ctx context.Context, key string, value json.RawMessage) error {
	userID, err := s.userID(ctx)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" || !json.Valid(value) {
		return domain.ErrInvalidInput
	}
	return s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		prefs, err := s.loadPrefs(ctx, tx, userID)
		if err != nil {
			return err
		}
		prefs[key] = value
		return tx.Set(ctx, kv.PrefsKey(userID), prefs)
	})
}
