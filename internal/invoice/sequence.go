package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kv"
)

type sequenceState struct {
	Day  string `json:"day"`
	Last int    `json:"last"`
}

// Sequence hands out invoice numbers INV-YYYYMMDD-NNNN from a counter that
// restarts every UTC day.
type Sequence struct {
	store  kv.Accessor
	logger *slog.Logger
}

func NewSequence(store kv.Accessor, logger *slog.Logger) *Sequence {
	return &Sequence{store: store, logger: logger}
}

func (s *Sequence) WithTx(tx kv.Accessor) *Sequence {
	bound := *s
	bound.store = tx
	return &bound
}

func (s *Sequence) Next(ctx context.Context, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")
	var number string
	err := kv.Update(ctx, s.store, func(ctx context.Context, tx kv.Accessor) error {
		var state sequenceState
		if err := kv.Load(ctx, tx, kv.KeyInvoiceSeq, &state, s.logger); err != nil {
			return err
		}
		if state.Day != day {
			state = sequenceState{Day: day}
		}
		state.Last++
		number = FormatNumber(day, state.Last)
		return tx.Set(ctx, kv.KeyInvoiceSeq, state)
	})
	if err != nil {
		return "", err
	}
	return number, nil
}

// Advance moves the counter for the UTC day of now up to at least floor. A
// counter already past floor is left alone.
func (s *Sequence) Advance(ctx context.Context, now time.Time, floor int) error {
	day := now.UTC().Format("20060102")
	return kv.Update(ctx, s.store, func(ctx context.Context, tx kv.Accessor) error {
		var state sequenceState
		if err := kv.Load(ctx, tx, kv.KeyInvoiceSeq, &state, s.logger); err != nil {
			return err
		}
		if state.Day != day {
			state = sequenceState{Day: day}
		}
		if state.Last >= floor {
			return nil
		}
		state.Last = floor
		return tx.Set(ctx, kv.KeyInvoiceSeq, state)
	})
}

// HighestForDay returns the largest counter among invoices numbered on the UTC
// day of now, or 0 when there are none.
func HighestForDay(invoices []domain.Invoice, now time.Time) int {
	prefix := "INV-" + now.UTC().Format("20060102") + "-"
	highest := 0
	for _, inv := range invoices {
		rest, ok := strings.CutPrefix(inv.InvoiceNumber, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

func FormatNumber(day string, n int) string {
	return fmt.Sprintf("INV-%s-%04d", day, n)
}
