// Package receipt renders invoices for download: a pretty-printed JSON export
// and a printable thermal-receipt HTML page.
package receipt

import (
	"encoding/base64"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"strings"

	money "github.com/Rhymond/go-money"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"nvoice/backend/internal/domain"
)

// ExportJSON returns inv as indented JSON.
func ExportJSON(inv domain.Invoice) ([]byte, error) {
	return json.MarshalIndent(inv, "", "  ")
}

func JSONFilename(inv domain.Invoice) string {
	return "invoice_" + inv.InvoiceNumber + ".json"
}

func HTMLFilename(inv domain.Invoice) string {
	return "receipt_" + inv.InvoiceNumber + ".html"
}

type Options struct {
	StoreName string
	Phone     string
	Currency  string
	// Logo is the raw image embedded into every receipt. Optional.
	Logo []byte
}

type Renderer struct {
	storeName string
	phone     string
	currency  *money.Currency
	logo      template.URL
}

func NewRenderer(opts Options) (*Renderer, error) {
	code := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if code == "" {
		code = money.INR
	}
	currency := money.GetCurrency(code)
	if currency == nil {
		return nil, errors.Errorf("unknown currency: %s", code)
	}

	r := &Renderer{
		storeName: strings.TrimSpace(opts.StoreName),
		phone:     strings.TrimSpace(opts.Phone),
		currency:  currency,
	}
	if len(opts.Logo) > 0 {
		mime := http.DetectContentType(opts.Logo)
		r.logo = template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(opts.Logo))
	}
	return r, nil
}

// Format displays amount in the renderer's currency, e.g. ₹110.00.
func (r *Renderer) Format(amount decimal.Decimal) string {
	minor := amount.Shift(int32(r.currency.Fraction)).Round(0).IntPart()
	return money.New(minor, r.currency.Code).Display()
}

type receiptLine struct {
	Index    int
	Name     string
	Quantity int
	Rate     string
	Amount   string
}

type receiptView struct {
	StoreName     string
	Phone         string
	Logo          template.URL
	InvoiceNumber string
	Date          string
	Time          string
	CustomerName  string
	Mobile        string
	Lines         []receiptLine
	TotalQuantity int
	Subtotal      string
	Total         string
	PaymentMethod string
}

func (r *Renderer) view(inv domain.Invoice) receiptView {
	name := strings.TrimSpace(inv.Customer.Name)
	if name == "" {
		name = "Walk-in Customer"
	}

	lines := make([]receiptLine, 0, len(inv.Items))
	for i, item := range inv.Items {
		lines = append(lines, receiptLine{
			Index:    i + 1,
			Name:     item.Product.Name,
			Quantity: item.Quantity,
			Rate:     item.Product.Price.StringFixed(2),
			Amount:   item.Amount().StringFixed(2),
		})
	}

	return receiptView{
		StoreName:     r.storeName,
		Phone:         r.phone,
		Logo:          r.logo,
		InvoiceNumber: inv.InvoiceNumber,
		Date:          inv.Date.Format("02 Jan 2006"),
		Time:          inv.Date.Format("15:04"),
		CustomerName:  name,
		Mobile:        inv.Customer.Mobile,
		Lines:         lines,
		TotalQuantity: inv.ItemCount(),
		Subtotal:      r.Format(inv.Subtotal),
		Total:         r.Format(inv.Total),
		PaymentMethod: inv.PaymentMethod,
	}
}

// Render writes a standalone HTML receipt for inv.
func (r *Renderer) Render(w io.Writer, inv domain.Invoice) error {
	return receiptTemplate.Execute(w, r.view(inv))
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Invoice {{.InvoiceNumber}}{{with .StoreName}} - {{.}}{{end}}</title>
  <style>
    body { font-family: 'Courier New', monospace; width: 80mm; margin: 0 auto; padding: 8px; color: #000; }
    .header { display: flex; justify-content: space-between; border-bottom: 2px solid #6b2c3e; padding-bottom: 8px; }
    .logo img { max-height: 48px; }
    .store-name { font-size: 18px; font-weight: 900; color: #6b2c3e; letter-spacing: 2px; }
    .inv-label { font-weight: bold; color: #6b2c3e; text-align: right; }
    .inv-meta, .shop-phone { font-size: 11px; color: #666; text-align: right; }
    .customer-box { margin-top: 8px; border: 1px solid #e0d0d4; padding: 6px; }
    .customer-label { font-size: 10px; text-transform: uppercase; color: #999; }
    .customer-name { font-weight: bold; }
    .customer-mobile { font-size: 11px; color: #666; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; font-size: 12px; }
    th { border-bottom: 2px solid #6b2c3e; text-align: left; }
    td { border-bottom: 1px solid #eee; padding: 2px 0; }
    .qty { text-align: center; }
    .rate, .amt { text-align: right; }
    .totals-row { display: flex; justify-content: space-between; font-size: 12px; }
    .grand { font-size: 16px; font-weight: bold; color: #6b2c3e; }
    .footer { margin-top: 12px; border-top: 1px solid #eee; text-align: center; font-size: 11px; }
    @media print { body { width: 80mm; } }
  </style>
</head>
<body>
  <div class="invoice">
    <div class="header">
      <div class="logo">
        {{if .Logo}}<img src="{{.Logo}}" alt="{{.StoreName}}" />{{else}}<div class="store-name">{{.StoreName}}</div>{{end}}
      </div>
      <div>
        <div class="inv-label">INVOICE</div>
        <div class="inv-meta">
          No: <span>{{.InvoiceNumber}}</span><br>
          Date: {{.Date}}<br>
          Time: {{.Time}}
        </div>
        {{with .Phone}}<div class="shop-phone">Phone: {{.}}</div>{{end}}
      </div>
    </div>

    <div class="customer-box">
      <div class="customer-label">Bill To</div>
      <div class="customer-name">{{.CustomerName}}</div>
      {{with .Mobile}}<div class="customer-mobile">Mobile: {{.}}</div>{{end}}
    </div>

    <table>
      <thead>
        <tr><th>#</th><th>Item</th><th class="qty">Qty</th><th class="rate">Rate</th><th class="amt">Amount</th></tr>
      </thead>
      <tbody>
        {{range .Lines}}<tr>
          <td class="idx">{{.Index}}</td>
          <td class="name">{{.Name}}</td>
          <td class="qty">{{.Quantity}}</td>
          <td class="rate">{{.Rate}}</td>
          <td class="amt">{{.Amount}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <div class="totals">
      <div class="totals-row"><span>Subtotal</span><span>{{.Subtotal}}</span></div>
      <div class="totals-row"><span>Total Items</span><span>{{.TotalQuantity}}</span></div>
      <div class="totals-row grand"><span>Total</span><span>{{.Total}}</span></div>
      {{with .PaymentMethod}}<div class="totals-row"><span>Paid by</span><span>{{.}}</span></div>{{end}}
    </div>

    <div class="footer">
      {{with .StoreName}}<strong>Thank you for shopping with {{.}}!</strong><br>{{end}}
      No Exchange / No Refund
    </div>
  </div>
</body>
</html>
`))
