package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"nvoice/backend/internal/catalog"
	"nvoice/backend/internal/config"
	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kvstore"
	"nvoice/backend/internal/logging"
	"nvoice/backend/internal/receipt"
	"nvoice/backend/internal/service"
)

// register adds every posctl command to c.
func register(c *subcommands.Commander, rt *runtime) {
	c.Register(&exportCmd{rt: rt}, "data")
	c.Register(&importCmd{rt: rt}, "data")
	c.Register(&clearCmd{rt: rt}, "data")

	c.Register(&stockCmd{rt: rt}, "inventory")
	c.Register(&lowStockCmd{rt: rt}, "inventory")

	c.Register(&receiptCmd{rt: rt}, "invoices")
}

type app struct {
	svc      *service.Service
	receipts *receipt.Renderer
	close    func() error
}

// runtime is shared by every command. Storage is opened only by commands that
// need it, so help and flags work without a reachable backend.
type runtime struct {
	out    io.Writer
	errOut io.Writer
	open   func(ctx context.Context) (*app, error)
}

func (rt *runtime) fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(rt.errOut, format+"\n", args...)
	return subcommands.ExitFailure
}

// with opens the app, runs fn and closes the app again.
func (rt *runtime) with(ctx context.Context, fn func(a *app) error) subcommands.ExitStatus {
	a, err := rt.open(ctx)
	if err != nil {
		return rt.fail("open storage: %v", err)
	}
	defer func() {
		if err := a.close(); err != nil {
			fmt.Fprintf(rt.errOut, "close storage: %v\n", err)
		}
	}()
	if err := fn(a); err != nil {
		return rt.fail("%v", err)
	}
	return subcommands.ExitSuccess
}

func openFromConfig(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	store, err := kvstore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc := service.New(store, catalog.Default(), logger, service.Options{
		DefaultStock:      cfg.DefaultStock,
		LowStockThreshold: cfg.LowStockThreshold,
	})
	if err := svc.Bootstrap(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	receipts, err := receipt.NewRenderer(receipt.Options{
		StoreName: cfg.StoreName,
		Phone:     cfg.StorePhone,
		Currency:  cfg.Currency,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &app{svc: svc, receipts: receipts, close: store.Close}, nil
}

// writeOutput writes body to path, or to rt.out when path is empty.
func (rt *runtime) writeOutput(path string, body []byte) error {
	if path == "" {
		_, err := rt.out.Write(body)
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

type exportCmd struct {
	rt     *runtime
	output string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export customers, invoices and stock as JSON" }
func (*exportCmd) Usage() string {
	return `posctl export [-o <file>]

  Writes a full backup in the same format the web client downloads.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.output, "o", "", "Output file. Defaults to stdout.")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.rt.with(ctx, func(a *app) error {
		data, err := a.svc.Export(ctx)
		if err != nil {
			return err
		}
		body, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		return c.rt.writeOutput(c.output, append(body, '\n'))
	})
}

type importCmd struct {
	rt *runtime
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "restore data from an export file" }
func (*importCmd) Usage() string {
	return `posctl import <file>

  Replaces every section (customers, invoices, inventory) present in the file.
  Sections missing from the file are left untouched.
`
}

func (*importCmd) SetFlags(*flag.FlagSet) {}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return c.rt.fail("import expects exactly one file argument")
	}
	raw, err := os.ReadFile(f.Arg(0))
	if err != nil {
		return c.rt.fail("read %s: %v", f.Arg(0), err)
	}
	var data domain.DataImport
	if err := json.Unmarshal(raw, &data); err != nil {
		return c.rt.fail("parse %s: %v", f.Arg(0), err)
	}
	return c.rt.with(ctx, func(a *app) error {
		if err := a.svc.Import(ctx, data); err != nil {
			return err
		}
		fmt.Fprintf(c.rt.out, "imported %d customers, %d invoices, %d stock entries\n",
			len(data.Customers), len(data.Invoices), len(data.Inventory))
		return nil
	})
}

type clearCmd struct {
	rt  *runtime
	yes bool
}

func (*clearCmd) Name() string     { return "clear" }
func (*clearCmd) Synopsis() string { return "delete all POS data and reseed stock" }
func (*clearCmd) Usage() string {
	return `posctl clear -yes

  Removes customers, invoices, inventory and drafts. Accounts are kept.
`
}

func (c *clearCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "Confirm the deletion.")
}

func (c *clearCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.yes {
		return c.rt.fail("refusing to clear data without -yes")
	}
	return c.rt.with(ctx, func(a *app) error {
		removed, err := a.svc.ClearAllData(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.rt.out, "cleared %d keys\n", removed)
		return nil
	})
}

type stockCmd struct {
	rt     *runtime
	set    string
	adjust int
}

func (*stockCmd) Name() string     { return "stock" }
func (*stockCmd) Synopsis() string { return "show or correct stock levels" }
func (*stockCmd) Usage() string {
	return `posctl stock [-set <n> | -adjust <delta>] [<productId>]

  Without a product id, lists every product with its stock. With one, shows
  that product, or updates it when -set or -adjust is given.
`
}

func (c *stockCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.set, "set", "", "New absolute stock level.")
	f.IntVar(&c.adjust, "adjust", 0, "Relative stock change, e.g. -adjust=-3.")
}

func (c *stockCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 1 {
		return c.rt.fail("stock takes at most one product id")
	}
	if f.NArg() == 0 && (c.set != "" || c.adjust != 0) {
		return c.rt.fail("-set and -adjust need a product id")
	}
	if c.set != "" && c.adjust != 0 {
		return c.rt.fail("use either -set or -adjust")
	}

	return c.rt.with(ctx, func(a *app) error {
		if f.NArg() == 0 {
			levels, err := a.svc.InventoryLevels(ctx)
			if err != nil {
				return err
			}
			printLevels(c.rt.out, levels)
			return nil
		}

		productID := f.Arg(0)
		var (
			level domain.ProductStock
			err   error
		)
		switch {
		case c.set != "":
			value, convErr := strconv.Atoi(c.set)
			if convErr != nil || value < 0 {
				return fmt.Errorf("-set must be a non-negative number, got %q", c.set)
			}
			level, err = a.svc.SetStock(ctx, productID, value)
		default:
			// a zero delta reads the current level
			level, err = a.svc.AdjustStock(ctx, productID, c.adjust)
		}
		if err != nil {
			return err
		}
		printLevels(c.rt.out, []domain.ProductStock{level})
		return nil
	})
}

type lowStockCmd struct {
	rt        *runtime
	threshold int
}

func (*lowStockCmd) Name() string     { return "low-stock" }
func (*lowStockCmd) Synopsis() string { return "list products that need reordering" }
func (*lowStockCmd) Usage() string {
	return `posctl low-stock [-threshold <n>]
`
}

func (c *lowStockCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.threshold, "threshold", 0, "Stock level below which a product is listed. Defaults to LOW_STOCK_THRESHOLD.")
}

func (c *lowStockCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.rt.with(ctx, func(a *app) error {
		levels, err := a.svc.LowStock(ctx, c.threshold)
		if err != nil {
			return err
		}
		if len(levels) == 0 {
			fmt.Fprintln(c.rt.out, "no products below threshold")
			return nil
		}
		printLevels(c.rt.out, levels)
		return nil
	})
}

func printLevels(w io.Writer, levels []domain.ProductStock) {
	for _, level := range levels {
		fmt.Fprintf(w, "%-4s %-8s %-24s %5d  %s\n",
			level.Product.ID, level.Product.SKU, level.Product.Name, level.Stock, level.Status)
	}
}

type receiptCmd struct {
	rt     *runtime
	asJSON bool
	output string
}

func (*receiptCmd) Name() string     { return "receipt" }
func (*receiptCmd) Synopsis() string { return "reprint an invoice as HTML receipt or JSON" }
func (*receiptCmd) Usage() string {
	return `posctl receipt [-json] [-o <file>] <invoiceNumber>
`
}

func (c *receiptCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "Write the invoice JSON instead of the HTML receipt.")
	f.StringVar(&c.output, "o", "", "Output file. Defaults to stdout.")
}

func (c *receiptCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return c.rt.fail("receipt expects exactly one invoice number")
	}
	number := strings.TrimSpace(f.Arg(0))
	return c.rt.with(ctx, func(a *app) error {
		inv, err := a.svc.GetInvoice(ctx, number)
		if err != nil {
			return err
		}
		if c.asJSON {
			body, err := receipt.ExportJSON(inv)
			if err != nil {
				return err
			}
			return c.rt.writeOutput(c.output, append(body, '\n'))
		}
		var buf strings.Builder
		if err := a.receipts.Render(&buf, inv); err != nil {
			return err
		}
		return c.rt.writeOutput(c.output, []byte(buf.String()))
	})
}
