package billdoc

import (
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"

	"github.com/xenking/reprog-billing/internal/domain/bill"
)

const billsSheet = "bills"

var xlsxHeader = []any{
	"Label", "Order", "Customer", "Company", "VAT number", "Country",
	"Net", "VAT", "Total", "Paid at", "Canceled at",
}

// XLSXWriter streams bills into a spreadsheet with one row per bill.
type XLSXWriter struct {
	f   *excelize.File
	sw  *excelize.StreamWriter
	row int
}

// NewXLSXWriter creates a workbook and writes the header row.
func NewXLSXWriter() (*XLSXWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", billsSheet); err != nil {
		return nil, errors.Wrap(err, "rename sheet")
	}
	sw, err := f.NewStreamWriter(billsSheet)
	if err != nil {
		return nil, errors.Wrap(err, "stream writer")
	}
	x := &XLSXWriter{f: f, sw: sw, row: 1}
	if err := x.writeRow(xlsxHeader); err != nil {
		return nil, err
	}
	return x, nil
}

// Add appends a bill row.
func (x *XLSXWriter) Add(b bill.Bill) error {
	canceled := ""
	if b.CanceledAt != nil {
		canceled = b.CanceledAt.UTC().Format(time.RFC3339)
	}
	net, _ := b.Price.Amount.Float64()
	vat, _ := b.Price.VAT.Float64()
	total, _ := b.Price.Total().Float64()
	return x.writeRow([]any{
		b.Label(),
		b.OrderReference.String(),
		b.Customer.Name,
		b.Customer.Company,
		b.Customer.VATNumber,
		b.Customer.Address.Country,
		net,
		vat,
		total,
		b.PaidAt.UTC().Format(time.RFC3339),
		canceled,
	})
}

// Rows returns the number of bill rows written.
func (x *XLSXWriter) Rows() int {
	return x.row - 2
}

// WriteTo flushes the sheet and writes the workbook to w.
func (x *XLSXWriter) WriteTo(w io.Writer) (int64, error) {
	if err := x.sw.Flush(); err != nil {
		return 0, errors.Wrap(err, "flush sheet")
	}
	n, err := x.f.WriteTo(w)
	if err != nil {
		return n, errors.Wrap(err, "write workbook")
	}
	return n, nil
}

// Close releases the workbook's temporary files.
func (x *XLSXWriter) Close() error {
	return x.f.Close()
}

func (x *XLSXWriter) writeRow(values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return errors.Wrap(err, "cell name")
	}
	if err := x.sw.SetRow(cell, values); err != nil {
		return errors.Wrapf(err, "write row %d", x.row)
	}
	x.row++
	return nil
}
