package monetico

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/domain/reconcile"
)

// Version is the gateway protocol version used in every MAC.
const Version = "3.0"

var (
	// ErrMalformed is returned for notifications missing required fields or
	// carrying an unparsable amount.
	ErrMalformed = errors.New("malformed notification")
	// ErrBadMAC is returned when the notification MAC does not verify.
	ErrBadMAC = errors.New("notification MAC mismatch")
	// ErrUnknownTerminal is returned when the notification targets another
	// merchant terminal.
	ErrUnknownTerminal = errors.New("unknown terminal")
	// ErrCurrencyMismatch is returned when the gateway reports an amount in
	// another currency than the merchant account's.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// Return codes carried in code-retour.
const (
	codePayment     = "paiement"
	codeTestPayment = "payetest"
	codeCanceled    = "Annulation"
)

// Notification is a parsed gateway callback.
//
// Reference is the gateway-side reference (the order's instruction id).
// TexteLibre echoes the order reference sent with the payment form.
type Notification struct {
	TPE        string
	Date       string
	Montant    string
	Reference  string
	TexteLibre string
	CodeRetour string
	CVX        string
	Vld        string
	Brand      string
	Status3DS  string
	NumAuto    string
	MotifRefus string
	OrigineCB  string
	BinCB      string
	HPanCB     string
	IPClient   string
	OrigineTr  string
	VERes      string
	PARes      string
	MAC        string

	Amount   decimal.Decimal
	Currency string
}

// ParseNotification reads the callback fields from a query string or form.
func ParseNotification(v url.Values) (Notification, error) {
	n := Notification{
		TPE:        v.Get("TPE"),
		Date:       v.Get("date"),
		Montant:    v.Get("montant"),
		Reference:  v.Get("reference"),
		TexteLibre: v.Get("texte-libre"),
		CodeRetour: v.Get("code-retour"),
		CVX:        v.Get("cvx"),
		Vld:        v.Get("vld"),
		Brand:      v.Get("brand"),
		Status3DS:  v.Get("status3ds"),
		NumAuto:    v.Get("numauto"),
		MotifRefus: v.Get("motifrefus"),
		OrigineCB:  v.Get("originecb"),
		BinCB:      v.Get("bincb"),
		HPanCB:     v.Get("hpancb"),
		IPClient:   v.Get("ipclient"),
		OrigineTr:  v.Get("originetr"),
		VERes:      v.Get("veres"),
		PARes:      v.Get("pares"),
		MAC:        v.Get("MAC"),
	}
	for _, f := range [...]struct{ name, val string }{
		{"TPE", n.TPE},
		{"date", n.Date},
		{"montant", n.Montant},
		{"reference", n.Reference},
		{"texte-libre", n.TexteLibre},
		{"code-retour", n.CodeRetour},
		{"MAC", n.MAC},
	} {
		if f.val == "" {
			return Notification{}, errors.Wrapf(ErrMalformed, "missing %s", f.name)
		}
	}

	amount, currency, err := ParseAmount(n.Montant)
	if err != nil {
		return Notification{}, err
	}
	n.Amount = amount
	n.Currency = currency
	return n, nil
}

// ParseAmount splits a gateway amount such as "144.00EUR".
func ParseAmount(s string) (decimal.Decimal, string, error) {
	i := strings.IndexFunc(s, func(r rune) bool { return r >= 'A' && r <= 'Z' })
	if i <= 0 || len(s)-i != 3 {
		return decimal.Decimal{}, "", errors.Wrapf(ErrMalformed, "amount %q", s)
	}
	amount, err := decimal.NewFromString(s[:i])
	if err != nil || amount.IsNegative() {
		return decimal.Decimal{}, "", errors.Wrapf(ErrMalformed, "amount %q", s)
	}
	return amount, s[i:], nil
}

// FormatAmount renders an amount in gateway format.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + currency
}

// Event maps the return code to a reconciliation event.
func (n Notification) Event() reconcile.Event {
	switch n.CodeRetour {
	case codePayment, codeTestPayment:
		return reconcile.EventConfirmed
	case codeCanceled:
		return reconcile.EventCanceled
	default:
		return reconcile.EventUnrecognized
	}
}

// Reconcile converts n into a coordinator notification.
func (n Notification) Reconcile() reconcile.Notification {
	tx := n.NumAuto
	if tx == "" {
		tx = n.Reference
	}
	return reconcile.Notification{
		Reference:     n.TexteLibre,
		Event:         n.Event(),
		Amount:        n.Amount,
		TransactionID: tx,
	}
}

// macFields returns the MAC input of n in protocol order. The trailing
// empty field yields the closing separator.
func (n Notification) macFields() []string {
	return []string{
		n.TPE, n.Date, n.Montant, n.Reference, n.TexteLibre, Version, n.CodeRetour,
		n.CVX, n.Vld, n.Brand, n.Status3DS, n.NumAuto, n.MotifRefus,
		n.OrigineCB, n.BinCB, n.HPanCB, n.IPClient, n.OrigineTr, n.VERes, n.PARes,
		"",
	}
}

// SignNotification returns the MAC the gateway attaches to n.
func (s *Signer) SignNotification(n Notification) string {
	return s.Sign(n.macFields()...)
}

// VerifyNotification checks the terminal, MAC and currency of n.
func (s *Signer) VerifyNotification(tpe, currency string, n Notification) error {
	if n.TPE != tpe {
		return errors.Wrapf(ErrUnknownTerminal, "terminal %q", n.TPE)
	}
	if !s.Verify(n.MAC, n.macFields()...) {
		return ErrBadMAC
	}
	if n.Currency != currency {
		return errors.Wrapf(ErrCurrencyMismatch, "got %s, want %s", n.Currency, currency)
	}
	return nil
}

// WriteAck writes the acknowledgement the gateway expects. The HTTP status
// is always 200; acceptance is carried by cdr.
func WriteAck(w http.ResponseWriter, accepted bool) {
	body := "version=2\ncdr=1\n"
	if accepted {
		body = "version=2\ncdr=0\n"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
