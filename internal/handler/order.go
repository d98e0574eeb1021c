package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/reprog-billing/internal/domain/order"
)

// CreateOrder creates a CARTED order for the caller.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := decodeCreateCart(d)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.Carts.CreateCart(r.Context(), order.CreateCartRequest{
		CustomerID: principal(r).CustomerID,
		Items:      items,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeOrder(o))
}

// GetOrder returns an order to its owner or an operator.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.readableOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) readableOrder(r *http.Request) (*order.Order, error) {
	ref, err := referenceParam(r)
	if err != nil {
		return nil, err
	}
	o, err := h.Carts.Get(r.Context(), ref)
	if err != nil {
		return nil, err
	}
	if !principal(r).CanAccess(o.CustomerID) {
		return nil, errForbidden
	}
	return o, nil
}

// Checkout opens the payment instruction and returns the signed form the
// browser posts to the gateway.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := referenceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := principal(r)

	c, err := h.Customers.GetByID(ctx, p.CustomerID)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "get customer"))
		return
	}
	o, err := h.Reconciler.BeginCheckout(ctx, ref, p.CustomerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	form, err := h.Forms.PaymentForm(o, c.Email)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "build payment form"))
		return
	}
	writeJSON(w, http.StatusOK, encodeCheckout(o, form))
}

// Capture approves and deposits a PENDING order synchronously.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	ref, err := referenceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Reconciler.ApproveAndDeposit(r.Context(), ref, principal(r).CustomerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeSettlement(string(res.Outcome), res.Order, res.Award, res.Bill))
}
