// Package kv is the persistence adapter: JSON values stored under named string keys.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

// ErrCorrupt is returned by Get when the stored value cannot be decoded into dest.
var ErrCorrupt = errors.New("kv: corrupt value")

const (
	KeyCustomers  = "customers"
	KeyInvoices   = "invoices"
	KeyInventory  = "inventory"
	KeyInvoiceSeq = "invoice_seq"
	KeyUsers      = "users"
	KeySessions   = "sessions"

	draftCartPrefix     = "draft_cart:"
	draftCustomerPrefix = "draft_customer:"
	prefsPrefix         = "prefs:"
)

func DraftCartKey(userID string) string     { return draftCartPrefix + userID }
func DraftCustomerKey(userID string) string { return draftCustomerPrefix + userID }
func PrefsKey(userID string) string         { return prefsPrefix + userID }

// IsSessionKey reports whether key holds per-user state (drafts or preferences).
func IsSessionKey(key string) bool {
	return hasPrefix(key, draftCartPrefix) || hasPrefix(key, draftCustomerPrefix) || hasPrefix(key, prefsPrefix)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

type Accessor interface {
	// Get decodes the value under key into dest. It reports false when the key is absent.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	// Delete reports whether a value was removed.
	Delete(ctx context.Context, key string) (bool, error)
}

// Atomic runs fn against a staged view of the store. Writes made through tx are
// applied together when fn returns nil and discarded otherwise.
type Atomic interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Accessor) error) error
}

type Store interface {
	Accessor
	Atomic
	// Keys lists every key held by the store, without the adapter prefix.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Update runs fn inside a.Atomic when a is a Store, or directly against a when
// it is already a transactional view.
func Update(ctx context.Context, a Accessor, fn func(ctx context.Context, tx Accessor) error) error {
	if atomic, ok := a.(Atomic); ok {
		return atomic.Atomic(ctx, fn)
	}
	return fn(ctx, a)
}

func Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

func Decode(key string, data []byte, dest any) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: key %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

// Load reads key into dest. A corrupt value is logged and left as the zero value,
// so callers see an empty record instead of an error.
func Load(ctx context.Context, a Accessor, key string, dest any, logger *slog.Logger) error {
	_, err := a.Get(ctx, key, dest)
	if errors.Is(err, ErrCorrupt) {
		logger.WarnContext(ctx, "discarding corrupt stored value", "key", key, "error", err)
		if rv := reflect.ValueOf(dest); rv.Kind() == reflect.Pointer && !rv.IsNil() {
			rv.Elem().SetZero()
		}
		return nil
	}
	return err
}
