// Package billdoc renders bills as PDF documents and spreadsheets.
package billdoc

import (
	"fmt"
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/domain/order"
)

// Issuer is the seller block printed on every bill.
type Issuer struct {
	Name      string `default:"Reprog SAS" usage:"Seller name printed on bills"`
	Address   string `default:"" usage:"Seller address printed on bills"`
	VATNumber string `default:"" usage:"Seller VAT number printed on bills"`
}

// RenderPDF writes a one-page A4 bill.
func RenderPDF(w io.Writer, issuer Issuer, b *bill.Bill, items []order.OrderedArticle) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Bill "+b.Label(), true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, tr("Bill "+b.Label()))
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	line := func(s string) {
		pdf.Cell(0, 5, tr(s))
		pdf.Ln(5)
	}
	line(issuer.Name)
	if issuer.Address != "" {
		line(issuer.Address)
	}
	if issuer.VATNumber != "" {
		line("VAT: " + issuer.VATNumber)
	}
	pdf.Ln(5)

	c := b.Customer
	pdf.SetFont("Arial", "B", 10)
	line("Billed to")
	pdf.SetFont("Arial", "", 10)
	if c.Company != "" {
		line(c.Company)
	}
	line(c.Name)
	line(c.Address.Street)
	line(c.Address.PostalCode + " " + c.Address.City)
	line(c.Address.Country)
	if c.VATNumber != "" {
		line("VAT: " + c.VATNumber)
	}
	pdf.Ln(5)

	line("Order: " + b.OrderReference.String())
	line("Paid: " + b.PaidAt.Format(time.DateOnly))
	if b.Canceled() {
		pdf.SetTextColor(200, 0, 0)
		line("CANCELED " + b.CanceledAt.Format(time.DateOnly))
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(5)

	pdf.SetFont("Arial", "B", 10)
	for _, h := range []struct {
		w     float64
		title string
		align string
	}{
		{80, "Article", "L"},
		{20, "Qty", "R"},
		{30, "Unit price", "R"},
		{30, "Net", "R"},
		{30, "VAT", "R"},
	} {
		pdf.CellFormat(h.w, 7, h.title, "1", 0, h.align, false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, item := range items {
		lineTotal := item.Line()
		pdf.CellFormat(80, 6, tr(item.Name), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, amount(item.UnitPrice.Amount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, amount(lineTotal.Amount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, amount(lineTotal.VAT), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	for _, row := range [][2]string{
		{"Net", amount(b.Price.Amount)},
		{"VAT", amount(b.Price.VAT)},
		{"Total", amount(b.Price.Total())},
	} {
		pdf.CellFormat(160, 6, row[0], "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, row[1], "", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "render pdf")
	}
	return nil
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
