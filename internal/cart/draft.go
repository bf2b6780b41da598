package cart

import (
	"context"
	"log/slog"

	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kv"
)

// DraftStore persists each user's cart and customer between requests.
type DraftStore struct {
	store  kv.Accessor
	logger *slog.Logger
}

func NewDraftStore(store kv.Accessor, logger *slog.Logger) *DraftStore {
	return &DraftStore{store: store, logger: logger}
}

func (d *DraftStore) WithTx(tx kv.Accessor) *DraftStore {
	bound := *d
	bound.store = tx
	return &bound
}

// Load returns the saved draft, or an empty one.
func (d *DraftStore) Load(ctx context.Context, userID string) (domain.Draft, error) {
	var draft domain.Draft
	if err := kv.Load(ctx, d.store, kv.DraftCartKey(userID), &draft.Cart, d.logger); err != nil {
		return domain.Draft{}, err
	}
	if err := kv.Load(ctx, d.store, kv.DraftCustomerKey(userID), &draft.Customer, d.logger); err != nil {
		return domain.Draft{}, err
	}
	if draft.Cart == nil {
		draft.Cart = []domain.CartLine{}
	}
	return draft, nil
}

func (d *DraftStore) Save(ctx context.Context, userID string, draft domain.Draft) error {
	if draft.Cart == nil {
		draft.Cart = []domain.CartLine{}
	}
	return kv.Update(ctx, d.store, func(ctx context.Context, tx kv.Accessor) error {
		if err := tx.Set(ctx, kv.DraftCartKey(userID), draft.Cart); err != nil {
			return err
		}
		return tx.Set(ctx, kv.DraftCustomerKey(userID), draft.Customer)
	})
}

// ClearCart drops the cart draft and keeps the customer draft.
func (d *DraftStore) ClearCart(ctx context.Context, userID string) error {
	_, err := d.store.Delete(ctx, kv.DraftCartKey(userID))
	return err
}

// Clear drops both halves of the draft.
func (d *DraftStore) Clear(ctx context.Context, userID string) error {
	return kv.Update(ctx, d.store, func(ctx context.Context, tx kv.Accessor) error {
		if _, err := tx.Delete(ctx, kv.DraftCartKey(userID)); err != nil {
			return err
		}
		_, err := tx.Delete(ctx, kv.DraftCustomerKey(userID))
		return err
	})
}
