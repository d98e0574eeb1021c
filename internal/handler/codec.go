package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/domain/credit"
	"github.com/xenking/reprog-billing/internal/domain/money"
	"github.com/xenking/reprog-billing/internal/domain/order"
	"github.com/xenking/reprog-billing/internal/domain/programmation"
	"github.com/xenking/reprog-billing/internal/gateway/monetico"
)

const maxBody = 64 << 10

func readBody(r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, errors.Wrap(errBadBody, err.Error())
	}
	return jx.DecodeBytes(data), nil
}

func decodeCreateCart(d *jx.Decoder) ([]order.CartItem, error) {
	var items []order.CartItem
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "items" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var item order.CartItem
			if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "articleId":
					item.ArticleID, err = d.Str()
				case "quantity":
					item.Quantity, err = d.Int()
				default:
					err = d.Skip()
				}
				return err
			}); err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(errBadBody, err.Error())
	}
	return items, nil
}

func decodeFlags(d *jx.Decoder) (programmation.Flags, error) {
	var f programmation.Flags
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var dst *bool
		switch string(key) {
		case "edcOff":
			dst = &f.EDCOff
		case "egrOff":
			dst = &f.EGROff
		case "fapOff":
			dst = &f.FAPOff
		case "ethanol":
			dst = &f.Ethanol
		case "stageOne":
			dst = &f.StageOne
		default:
			return d.Skip()
		}
		v, err := d.Bool()
		*dst = v
		return err
	})
	if err != nil {
		return f, errors.Wrap(errBadBody, err.Error())
	}
	return f, nil
}

func encodeMoney(e *jx.Encoder, m money.Money) {
	e.ObjStart()
	e.FieldStart("amount")
	e.Str(m.Amount.StringFixed(2))
	e.FieldStart("vat")
	e.Str(m.VAT.StringFixed(2))
	e.FieldStart("total")
	e.Str(m.Total().StringFixed(2))
	e.ObjEnd()
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrderFields(e *jx.Encoder, o *order.Order) {
	e.FieldStart("reference")
	e.Str(o.Reference.String())
	e.FieldStart("customerId")
	e.Int64(o.CustomerID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("credited")
	e.Bool(o.Credited)
	e.FieldStart("credits")
	e.Int64(o.Credits())
	e.FieldStart("price")
	encodeMoney(e, o.Price)
	e.FieldStart("items")
	e.ArrStart()
	for _, item := range o.Items {
		e.ObjStart()
		e.FieldStart("articleId")
		e.Str(item.ArticleID)
		e.FieldStart("name")
		e.Str(item.Name)
		e.FieldStart("quantity")
		e.Int(item.Quantity)
		e.FieldStart("unitPrice")
		encodeMoney(e, item.UnitPrice)
		e.FieldStart("unitCredits")
		e.Int64(item.UnitCredits)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
}

func encodeOrder(o *order.Order) func(*jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		encodeOrderFields(e, o)
		e.ObjEnd()
	}
}

func encodeBillFields(e *jx.Encoder, b *bill.Bill) {
	e.FieldStart("label")
	e.Str(b.Label())
	e.FieldStart("orderReference")
	e.Str(b.OrderReference.String())
	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(b.Customer.CustomerID)
	e.FieldStart("name")
	e.Str(b.Customer.Name)
	if b.Customer.Company != "" {
		e.FieldStart("company")
		e.Str(b.Customer.Company)
	}
	if b.Customer.VATNumber != "" {
		e.FieldStart("vatNumber")
		e.Str(b.Customer.VATNumber)
	}
	e.ObjEnd()
	e.FieldStart("price")
	encodeMoney(e, b.Price)
	e.FieldStart("paidAt")
	encodeTime(e, b.PaidAt)
	if b.CanceledAt != nil {
		e.FieldStart("canceledAt")
		encodeTime(e, *b.CanceledAt)
	}
}

func encodeBill(b *bill.Bill) func(*jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		encodeBillFields(e, b)
		e.ObjEnd()
	}
}

func encodeCheckout(o *order.Order, f monetico.Form) func(*jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(o)(e)
		e.FieldStart("payment")
		e.ObjStart()
		e.FieldStart("action")
		e.Str(f.Action)
		e.FieldStart("fields")
		e.ObjStart()
		for _, field := range f.Fields {
			e.FieldStart(field.Name)
			e.Str(field.Value)
		}
		e.ObjEnd()
		e.ObjEnd()
		e.ObjEnd()
	}
}

func encodeSettlement(outcome string, o *order.Order, award *credit.Award, b *bill.Bill) func(*jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("outcome")
		e.Str(outcome)
		e.FieldStart("order")
		encodeOrder(o)(e)
		if award != nil && award.Applied {
			e.FieldStart("creditsAwarded")
			e.Int64(award.Entry.Amount)
		}
		if b != nil {
			e.FieldStart("bill")
			encodeBill(b)(e)
		}
		e.ObjEnd()
	}
}
