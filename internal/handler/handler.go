// Package handler exposes the billing service over HTTP: the payment gateway
// callback and the JSON API used by the portal.
package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/xenking/reprog-billing/internal/auth"
	"github.com/xenking/reprog-billing/internal/billdoc"
	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/domain/customer"
	"github.com/xenking/reprog-billing/internal/domain/order"
	"github.com/xenking/reprog-billing/internal/domain/reconcile"
	"github.com/xenking/reprog-billing/internal/gateway/monetico"
)

// Carts creates and reads cart orders.
type Carts interface {
	CreateCart(ctx context.Context, req order.CreateCartRequest) (*order.Order, error)
	Get(ctx context.Context, ref uuid.UUID) (*order.Order, error)
}

// Reconciler drives orders through checkout and settlement.
type Reconciler interface {
	BeginCheckout(ctx context.Context, ref uuid.UUID, customerID int64) (*order.Order, error)
	ApproveAndDeposit(ctx context.Context, ref uuid.UUID, customerID int64) (reconcile.Result, error)
	ApplyNotification(ctx context.Context, n reconcile.Notification) (reconcile.Result, error)
}

// Bills reads and cancels issued bills.
type Bills interface {
	Get(ctx context.Context, label string) (*bill.Bill, error)
	Cancel(ctx context.Context, label string) (*bill.Bill, error)
}

// PaymentForms builds the signed payment page form.
type PaymentForms interface {
	PaymentForm(o *order.Order, email string) (monetico.Form, error)
}

// NotificationVerifier authenticates gateway notifications.
type NotificationVerifier interface {
	VerifyNotification(tpe, currency string, n monetico.Notification) error
}

// Authenticator resolves the caller of an API request.
type Authenticator interface {
	VerifyRequest(r *http.Request) (auth.Principal, error)
}

// Config holds non-dependency handler settings.
type Config struct {
	// TPE is the merchant terminal notifications must be addressed to.
	TPE string
	// Currency is the merchant account currency.
	Currency string
	// Issuer is printed on bill documents.
	Issuer billdoc.Issuer
}

// Deps are the collaborators of Handler.
type Deps struct {
	Carts      Carts
	Reconciler Reconciler
	Bills      Bills
	Customers  customer.Repository
	Forms      PaymentForms
	Verifier   NotificationVerifier
	Auth       Authenticator
}

// Handler serves the billing HTTP endpoints.
type Handler struct {
	cfg Config
	Deps
}

// New returns a Handler.
func New(cfg Config, deps Deps) *Handler {
	return &Handler{cfg: cfg, Deps: deps}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /payment/callback", h.PaymentCallback)
	mux.HandleFunc("POST /payment/callback", h.PaymentCallback)

	mux.Handle("POST /api/orders", h.authenticated(h.CreateOrder))
	mux.Handle("GET /api/orders/{reference}", h.authenticated(h.GetOrder))
	mux.Handle("POST /api/orders/{reference}/checkout", h.authenticated(h.Checkout))
	mux.Handle("POST /api/orders/{reference}/capture", h.authenticated(h.Capture))

	mux.Handle("GET /api/bills/{label}", h.authenticated(h.GetBill))
	mux.Handle("GET /api/bills/{label}/pdf", h.authenticated(h.GetBillPDF))
	mux.Handle("POST /api/bills/{label}/cancel", h.authenticated(h.CancelBill))

	mux.Handle("POST /api/programmations/quote", h.authenticated(h.QuoteProgrammation))
}

// authenticated rejects requests without a valid bearer token and stores
// the principal in the request context.
func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.Auth.VerifyRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(auth.NewContext(r.Context(), p)))
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func referenceParam(r *http.Request) (uuid.UUID, error) {
	ref, err := uuid.Parse(r.PathValue("reference"))
	if err != nil {
		return uuid.Nil, errBadReference
	}
	return ref, nil
}
