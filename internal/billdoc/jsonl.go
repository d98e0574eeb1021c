package billdoc

import (
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"

	"github.com/xenking/reprog-billing/internal/domain/bill"
)

// Sink receives exported bills.
type Sink interface {
	Add(b bill.Bill) error
	Rows() int
}

var (
	_ Sink = (*XLSXWriter)(nil)
	_ Sink = (*JSONLWriter)(nil)
)

// JSONLWriter writes one JSON object per bill to a gzip stream compressed
// on several cores.
type JSONLWriter struct {
	zw   *pgzip.Writer
	e    jx.Encoder
	rows int
}

// NewJSONLWriter wraps w.
func NewJSONLWriter(w io.Writer) (*JSONLWriter, error) {
	zw, err := pgzip.NewWriterLevel(w, pgzip.BestSpeed)
	if err != nil {
		return nil, errors.Wrap(err, "gzip writer")
	}
	return &JSONLWriter{zw: zw}, nil
}

// Add writes b as a single line.
func (j *JSONLWriter) Add(b bill.Bill) error {
	e := &j.e
	e.Reset()
	e.ObjStart()
	e.FieldStart("label")
	e.Str(b.Label())
	e.FieldStart("number")
	e.Int64(b.Number)
	e.FieldStart("orderReference")
	e.Str(b.OrderReference.String())
	e.FieldStart("customerId")
	e.Int64(b.Customer.CustomerID)
	e.FieldStart("customerName")
	e.Str(b.Customer.Name)
	e.FieldStart("company")
	e.Str(b.Customer.Company)
	e.FieldStart("vatNumber")
	e.Str(b.Customer.VATNumber)
	e.FieldStart("country")
	e.Str(b.Customer.Address.Country)
	e.FieldStart("net")
	e.Str(b.Price.Amount.StringFixed(2))
	e.FieldStart("vat")
	e.Str(b.Price.VAT.StringFixed(2))
	e.FieldStart("total")
	e.Str(b.Price.Total().StringFixed(2))
	e.FieldStart("paidAt")
	e.Str(b.PaidAt.UTC().Format(time.RFC3339))
	if b.CanceledAt != nil {
		e.FieldStart("canceledAt")
		e.Str(b.CanceledAt.UTC().Format(time.RFC3339))
	}
	e.ObjEnd()

	if _, err := j.zw.Write(append(e.Bytes(), '\n')); err != nil {
		return errors.Wrapf(err, "write bill %s", b.Label())
	}
	j.rows++
	return nil
}

// Rows returns the number of bills written.
func (j *JSONLWriter) Rows() int {
	return j.rows
}

// Close flushes the gzip stream. It does not close the underlying writer.
func (j *JSONLWriter) Close() error {
	return j.zw.Close()
}
