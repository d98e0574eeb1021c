//go:build integration

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/xenking/reprog-billing/internal/auth"
	"github.com/xenking/reprog-billing/internal/billdoc"
	"github.com/xenking/reprog-billing/internal/domain/article"
	"github.com/xenking/reprog-billing/internal/domain/customer"
	"github.com/xenking/reprog-billing/internal/domain/reconcile"
	"github.com/xenking/reprog-billing/internal/gateway/monetico"
	"github.com/xenking/reprog-billing/internal/repository"
	"github.com/xenking/reprog-billing/pkg/httpmiddleware"
)

const (
	testTPE    = "1234567"
	testMACKey = "0123456789ABCDEF0123456789ABCDEF01234567"
)

var (
	testPool *pgxpool.Pool
	baseURL  string
	signer   *monetico.Signer
	verifier *auth.Verifier
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "billing",
				"POSTGRES_PASSWORD": "billing",
				"POSTGRES_DB":       "billing",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = pg.Terminate(context.Background()) }()

	dsn, err := pg.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "endpoint: %v\n", err)
		return 1
	}
	testPool, err = repository.NewPool(ctx, "postgres://billing:billing@"+dsn+"/billing?sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		return 1
	}
	defer testPool.Close()
	if err := repository.RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations: %v\n", err)
		return 1
	}
	if err := seed(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		return 1
	}

	// The gateway's capture endpoint approves everything.
	capture := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		_, _ = io.WriteString(w, "version=2\ncdr=1\nlib=paiement accepte\naut=000123\nmontant="+r.PostForm.Get("montant_a_capturer")+"\n")
	}))
	defer capture.Close()

	gateway, err := monetico.NewClient(monetico.Config{
		TPE:        testTPE,
		Company:    "reprog",
		Key:        testMACKey,
		Currency:   "EUR",
		Language:   "FR",
		PaymentURL: "https://pay.example.test/paiement.cgi",
		CaptureURL: capture.URL,
	}, capture.Client())
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		return 1
	}
	signer = gateway.Signer()

	coordinator, err := reconcile.New(repository.NewTransactor(testPool), gateway)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		return 1
	}
	verifier, err = auth.NewVerifier([]byte("e2e-secret"), "portal")
	if err != nil {
		fmt.Fprintf(os.Stderr, "verifier: %v\n", err)
		return 1
	}

	mux := http.NewServeMux()
	newHandler(testPool, gateway, coordinator, verifier, decimal.NewFromInt(20), billdoc.Issuer{Name: "Reprog"}).Register(mux)
	srv := httptest.NewServer(httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zap.NewNop()),
		httpmiddleware.Recovery(),
	))
	defer srv.Close()
	baseURL = srv.URL

	return m.Run()
}

func seed(ctx context.Context) error {
	articles := repository.NewArticleRepository(testPool)
	for _, a := range []article.Article{
		{ID: "pack-10", Name: "Pack 10 credits", Price: decimal.NewFromInt(120), Credits: 10},
		{ID: "pack-100", Name: "Pack 100 credits", Price: decimal.NewFromInt(1000), Credits: 100},
	} {
		if err := articles.Upsert(ctx, a); err != nil {
			return err
		}
	}
	customers := repository.NewCustomerRepository(testPool)
	for id := int64(1); id <= 5; id++ {
		if err := customers.Upsert(ctx, customer.Customer{
			ID:      id,
			Name:    fmt.Sprintf("Customer %d", id),
			Email:   fmt.Sprintf("customer%d@example.test", id),
			Address: customer.Address{Street: "1 rue du Port", PostalCode: "13002", City: "Marseille", Country: "FR"},
		}); err != nil {
			return err
		}
	}
	return nil
}

type client struct {
	t     *testing.T
	token string
}

func newClient(t *testing.T, customerID int64, role auth.Role) *client {
	t.Helper()
	token, err := verifier.Sign(auth.Principal{CustomerID: customerID, Role: role}, time.Hour)
	require.NoError(t, err)
	return &client{t: t, token: token}
}

func (c *client) do(method, path, body string) (int, map[string]any) {
	c.t.Helper()
	req, err := http.NewRequest(method, baseURL+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()

	if resp.Header.Get("Content-Type") != "application/json" {
		return resp.StatusCode, nil
	}
	var out map[string]any
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// pendingOrder creates and checks out a cart, returning the reference and
// the payment form fields.
func (c *client) pendingOrder() (string, map[string]any) {
	c.t.Helper()
	code, created := c.do(http.MethodPost, "/api/orders",
		`{"items":[{"articleId":"pack-10","quantity":1},{"articleId":"pack-100","quantity":1}]}`)
	require.Equal(c.t, http.StatusCreated, code, created)
	ref := created["reference"].(string)

	code, checkout := c.do(http.MethodPost, "/api/orders/"+ref+"/checkout", "")
	require.Equal(c.t, http.StatusOK, code, checkout)
	fields := checkout["payment"].(map[string]any)["fields"].(map[string]any)
	return ref, fields
}

func notify(t *testing.T, fields map[string]any, montant, code string, tamper func(url.Values)) string {
	t.Helper()
	v := url.Values{
		"TPE":         {testTPE},
		"date":        {"01/03/2026_a_12:00:00"},
		"montant":     {montant},
		"reference":   {fields["reference"].(string)},
		"texte-libre": {fields["texte-libre"].(string)},
		"code-retour": {code},
	}
	v.Set("MAC", signer.SignNotification(monetico.Notification{
		TPE:        testTPE,
		Date:       v.Get("date"),
		Montant:    montant,
		Reference:  v.Get("reference"),
		TexteLibre: v.Get("texte-libre"),
		CodeRetour: code,
	}))
	if tamper != nil {
		tamper(v)
	}

	resp, err := http.PostForm(baseURL+"/payment/callback", v)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func settledRows(t *testing.T, ref string) (ledger, bills, notices int) {
	t.Helper()
	err := testPool.QueryRow(context.Background(), `
		SELECT
			(SELECT count(*) FROM credit_ledger l JOIN orders o ON o.id = l.order_id WHERE o.reference = $1),
			(SELECT count(*) FROM bills b JOIN orders o ON o.id = b.order_id WHERE o.reference = $1),
			(SELECT count(*) FROM notice_outbox WHERE payload->>'order_reference' = $1)`, ref,
	).Scan(&ledger, &bills, &notices)
	require.NoError(t, err)
	return ledger, bills, notices
}

func balance(t *testing.T, customerID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, testPool.QueryRow(context.Background(),
		`SELECT credit_balance FROM customers WHERE id = $1`, customerID).Scan(&n))
	return n
}

func TestCallbackSettlesOnce(t *testing.T) {
	c := newClient(t, 1, auth.RoleCustomer)
	ref, fields := c.pendingOrder()
	montant := fields["montant"].(string)
	assert.Equal(t, "1344.00EUR", montant)

	before := balance(t, 1)
	assert.Equal(t, "version=2\ncdr=0\n", notify(t, fields, montant, "paiement", nil))
	assert.Equal(t, "version=2\ncdr=0\n", notify(t, fields, montant, "paiement", nil), "replay")
	assert.Equal(t, "version=2\ncdr=0\n", notify(t, fields, montant, "Annulation", nil), "late cancel")

	code, o := c.do(http.MethodGet, "/api/orders/"+ref, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PAID", o["status"])
	assert.Equal(t, true, o["credited"])
	assert.Equal(t, before+110, balance(t, 1))

	ledger, bills, notices := settledRows(t, ref)
	assert.Equal(t, 1, ledger)
	assert.Equal(t, 1, bills)
	assert.Equal(t, 1, notices)

	var number int64
	require.NoError(t, testPool.QueryRow(context.Background(),
		`SELECT b.number FROM bills b JOIN orders o ON o.id = b.order_id WHERE o.reference = $1`, ref).Scan(&number))
	label := fmt.Sprintf("WEB%06d", number)

	code, b := c.do(http.MethodGet, "/api/bills/"+label, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ref, b["orderReference"])

	code, _ = newClient(t, 2, auth.RoleCustomer).do(http.MethodGet, "/api/bills/"+label, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = c.do(http.MethodGet, "/api/bills/"+label+"/pdf", "")
	assert.Equal(t, http.StatusOK, code)

	admin := newClient(t, 5, auth.RoleAdmin)
	code, canceled := admin.do(http.MethodPost, "/api/bills/"+label+"/cancel", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, canceled["canceledAt"])
	code, _ = admin.do(http.MethodPost, "/api/bills/"+label+"/cancel", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestTamperedCallbackChangesNothing(t *testing.T) {
	c := newClient(t, 3, auth.RoleCustomer)
	ref, fields := c.pendingOrder()
	montant := fields["montant"].(string)
	before := balance(t, 3)

	for name, tamper := range map[string]func(url.Values){
		"amount":  func(v url.Values) { v.Set("montant", "1.00EUR") },
		"mac":     func(v url.Values) { v.Set("MAC", strings.Repeat("A", 40)) },
		"code":    func(v url.Values) { v.Set("code-retour", "payetest") },
		"unknown": func(v url.Values) { v.Set("TPE", "7654321") },
	} {
		assert.Equal(t, "version=2\ncdr=1\n", notify(t, fields, montant, "paiement", tamper), name)
	}

	code, o := c.do(http.MethodGet, "/api/orders/"+ref, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PENDING", o["status"])
	assert.Equal(t, false, o["credited"])
	assert.Equal(t, before, balance(t, 3))
	ledger, bills, notices := settledRows(t, ref)
	assert.Zero(t, ledger+bills+notices)
}

func TestCaptureSettlesOnce(t *testing.T) {
	c := newClient(t, 4, auth.RoleCustomer)
	ref, _ := c.pendingOrder()
	before := balance(t, 4)

	code, res := c.do(http.MethodPost, "/api/orders/"+ref+"/capture", "")
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, "paid", res["outcome"])
	assert.EqualValues(t, 110, res["creditsAwarded"])
	require.Contains(t, res, "bill")

	code, res = c.do(http.MethodPost, "/api/orders/"+ref+"/capture", "")
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, "replay", res["outcome"])
	assert.NotContains(t, res, "creditsAwarded")

	assert.Equal(t, before+110, balance(t, 4))
	ledger, bills, notices := settledRows(t, ref)
	assert.Equal(t, []int{1, 1, 1}, []int{ledger, bills, notices})

	code, _ = newClient(t, 2, auth.RoleCustomer).do(http.MethodPost, "/api/orders/"+ref+"/capture", "")
	assert.Equal(t, http.StatusForbidden, code)
}
