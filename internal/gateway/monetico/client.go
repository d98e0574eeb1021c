package monetico

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/domain/order"
	"github.com/xenking/reprog-billing/internal/domain/reconcile"
)

const dateLayout = "02/01/2006:15:04:05"

// referenceLen is the fixed length of the gateway reference field.
const referenceLen = 12

// Config holds the merchant account settings.
type Config struct {
	TPE        string `default:"0000001" usage:"Merchant terminal number"`
	Company    string `default:"reprog" usage:"Merchant company code (societe)"`
	Key        string `usage:"Hex-encoded merchant MAC key"`
	Currency   string `default:"EUR" usage:"ISO 4217 currency code"`
	Language   string `default:"FR" usage:"Payment page language"`
	PaymentURL string `default:"https://p.monetico-services.com/test/paiement.cgi" usage:"Payment page URL"`
	CaptureURL string `default:"https://p.monetico-services.com/test/capture_paiement.cgi" usage:"Capture endpoint URL"`
	ReturnURL  string `default:"http://localhost:8080/" usage:"Customer return URL on success"`
	ErrorURL   string `default:"http://localhost:8080/payment/error" usage:"Customer return URL on failure"`
}

// Client talks to the gateway.
type Client struct {
	cfg    Config
	signer *Signer
	http   *http.Client
	now    func() time.Time
}

var _ reconcile.Gateway = (*Client)(nil)

// NewClient creates a Client. httpClient should carry a timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	signer, err := NewSigner(cfg.Key)
	if err != nil {
		return nil, err
	}
	if cfg.TPE == "" {
		return nil, errors.New("empty terminal number")
	}
	return &Client{cfg: cfg, signer: signer, http: httpClient, now: time.Now}, nil
}

// Signer returns the client's MAC signer.
func (c *Client) Signer() *Signer {
	return c.signer
}

// TPE returns the merchant terminal number.
func (c *Client) TPE() string {
	return c.cfg.TPE
}

// Currency returns the merchant account currency.
func (c *Client) Currency() string {
	return c.cfg.Currency
}

// OpenInstruction allocates the gateway reference of the order: its id,
// zero-padded to the fixed reference length. No request is sent; the
// gateway learns about the instruction when the customer posts the payment
// form.
func (c *Client) OpenInstruction(_ context.Context, o *order.Order) (string, error) {
	ref := fmt.Sprintf("%0*d", referenceLen, o.ID)
	if o.ID <= 0 || len(ref) > referenceLen {
		return "", errors.Errorf("order id %d does not fit a gateway reference", o.ID)
	}
	return ref, nil
}

// Field is one hidden input of the payment form.
type Field struct {
	Name  string
	Value string
}

// Form is the signed payment form the customer's browser posts to the
// gateway.
type Form struct {
	Action string
	Fields []Field
}

// PaymentForm builds the signed form for a PENDING order. The order
// reference travels in texte-libre and comes back in the notification.
func (c *Client) PaymentForm(o *order.Order, email string) (Form, error) {
	if o.Status != order.StatusPending || o.InstructionID == "" {
		return Form{}, errors.Errorf("order %s has no open payment instruction", o.Reference)
	}

	date := c.now().Format(dateLayout)
	montant := FormatAmount(o.Total(), c.cfg.Currency)
	texteLibre := o.Reference.String()

	// Split payment fields (nbrech, dateech1..4, montantech1..4) and options
	// are unused but part of the MAC input.
	mac := c.signer.Sign(c.cfg.TPE, date, montant, o.InstructionID, texteLibre, Version, c.cfg.Language, c.cfg.Company, email,
		"", "", "", "", "", "", "", "", "", "")
	return Form{
		Action: c.cfg.PaymentURL,
		Fields: []Field{
			{"version", Version},
			{"TPE", c.cfg.TPE},
			{"date", date},
			{"montant", montant},
			{"reference", o.InstructionID},
			{"texte-libre", texteLibre},
			{"lgue", c.cfg.Language},
			{"societe", c.cfg.Company},
			{"mail", email},
			{"url_retour_ok", c.cfg.ReturnURL},
			{"url_retour_err", c.cfg.ErrorURL},
			{"MAC", mac},
		},
	}, nil
}

// ApproveAndDeposit captures the full order total. The settled amount is
// the one the gateway reports as captured.
func (c *Client) ApproveAndDeposit(ctx context.Context, o *order.Order) (reconcile.Settlement, error) {
	date := c.now().Format(dateLayout)
	dateCommande := o.CreatedAt.Format("02/01/2006")
	montant := FormatAmount(o.Total(), c.cfg.Currency)
	zero := FormatAmount(decimal.Zero, c.cfg.Currency)
	texteLibre := o.Reference.String()

	// The three capture amounts are concatenated into a single MAC field;
	// the trailing empty field yields the closing separator.
	mac := c.signer.Sign(c.cfg.TPE, date, montant+zero+zero, o.InstructionID, texteLibre, Version, c.cfg.Language, c.cfg.Company, "")
	form := url.Values{
		"version":              {Version},
		"TPE":                  {c.cfg.TPE},
		"date":                 {date},
		"date_commande":        {dateCommande},
		"montant":              {montant},
		"montant_a_capturer":   {montant},
		"montant_deja_capture": {zero},
		"montant_restant":      {zero},
		"reference":            {o.InstructionID},
		"texte-libre":          {texteLibre},
		"lgue":                 {c.cfg.Language},
		"societe":              {c.cfg.Company},
		"MAC":                  {mac},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CaptureURL, strings.NewReader(form.Encode()))
	if err != nil {
		return reconcile.Settlement{}, errors.Wrap(err, "build capture request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return reconcile.Settlement{}, errors.Wrapf(reconcile.ErrGatewayUnavailable, "capture request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return reconcile.Settlement{}, errors.Wrapf(reconcile.ErrGatewayUnavailable, "capture status %d", resp.StatusCode)
	}

	fields, err := parseKV(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return reconcile.Settlement{}, errors.Wrapf(reconcile.ErrGatewayUnavailable, "read capture response: %v", err)
	}

	// cdr=1 is the only success code of the capture endpoint.
	if fields["cdr"] != "1" {
		return reconcile.Settlement{}, errors.Wrapf(reconcile.ErrCaptureDeclined, "cdr=%s lib=%q", fields["cdr"], fields["lib"])
	}
	amount, err := c.capturedAmount(fields, montant)
	if err != nil {
		return reconcile.Settlement{}, err
	}
	return reconcile.Settlement{
		TransactionID: fields["aut"],
		Amount:        amount,
	}, nil
}

// capturedAmount reads the captured amount from a successful capture
// response. Responses that do not echo it captured exactly what was
// requested.
func (c *Client) capturedAmount(fields map[string]string, requested string) (decimal.Decimal, error) {
	raw := fields["montant"]
	if raw == "" {
		raw = requested
	}
	amount, currency, err := ParseAmount(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "captured amount")
	}
	if currency != c.cfg.Currency {
		return decimal.Decimal{}, errors.Wrapf(ErrCurrencyMismatch, "captured %s", raw)
	}
	return amount, nil
}

// parseKV reads a key=value per line body.
func parseKV(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out, sc.Err()
}
