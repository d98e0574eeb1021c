package handler

import (
	"bytes"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/reprog-billing/internal/billdoc"
	"github.com/xenking/reprog-billing/internal/domain/bill"
)

func (h *Handler) readableBill(r *http.Request) (*bill.Bill, error) {
	b, err := h.Bills.Get(r.Context(), r.PathValue("label"))
	if err != nil {
		return nil, err
	}
	if !principal(r).CanAccess(b.Customer.CustomerID) {
		return nil, errForbidden
	}
	return b, nil
}

// GetBill returns a bill to its customer or an operator.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	b, err := h.readableBill(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeBill(b))
}

// GetBillPDF renders the bill document.
func (h *Handler) GetBillPDF(w http.ResponseWriter, r *http.Request) {
	b, err := h.readableBill(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Carts.Get(r.Context(), b.OrderReference)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "get billed order"))
		return
	}

	var buf bytes.Buffer
	if err := billdoc.RenderPDF(&buf, h.cfg.Issuer, b, o.Items); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+b.Label()+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// CancelBill sets the cancellation date of a bill. Operators only.
func (h *Handler) CancelBill(w http.ResponseWriter, r *http.Request) {
	if !principal(r).IsAdmin() {
		writeError(w, r, errForbidden)
		return
	}
	b, err := h.Bills.Cancel(r.Context(), r.PathValue("label"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeBill(b))
}
