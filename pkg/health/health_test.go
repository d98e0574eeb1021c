package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeStatus struct {
	Status string
	Checks map[string]string
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) probeStatus {
	t.Helper()
	var out probeStatus
	d := jx.DecodeBytes(w.Body.Bytes())
	require.NoError(t, d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			s, err := d.Str()
			out.Status = s
			return err
		case "checks":
			out.Checks = map[string]string{}
			return d.ObjBytes(func(d *jx.Decoder, name []byte) error {
				s, err := d.Str()
				out.Checks[string(name)] = s
				return err
			})
		default:
			return d.Skip()
		}
	}))
	return out
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func passing(context.Context) error { return nil }

func serve(t *testing.T, handler http.HandlerFunc) (*httptest.ResponseRecorder, probeStatus) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w, decodeStatus(t, w)
}

func TestLiveEndpoint(t *testing.T) {
	ctx := context.Background()

	for _, tt := range []struct {
		name     string
		polls    int
		wantCode int
	}{
		{name: "UntouchedStartsPassing", polls: 0, wantCode: http.StatusOK},
		{name: "BelowThreshold", polls: 2, wantCode: http.StatusOK},
		{name: "AtThreshold", polls: 3, wantCode: http.StatusServiceUnavailable},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, failing("connection refused"))
			for range tt.polls {
				h.liveness[0].poll(ctx)
			}

			w, body := serve(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "ok", body.Status)
				return
			}
			assert.Equal(t, "unhealthy", body.Status)
			assert.Equal(t, "connection refused", body.Checks["db"])
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("GateClosed", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("db", time.Second, passing)

		w, body := serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, body.Checks, "_readiness")
	})
	t.Run("GateOpen", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("db", time.Second, passing)
		h.SetReady(true)

		w, body := serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", body.Status)
		assert.True(t, h.IsReady())
	})
	t.Run("Draining", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		h.SetReady(false)

		w, _ := serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.False(t, h.IsReady())
	})
	t.Run("OneProbeFailing", func(t *testing.T) {
		h := New(WithThresholds(Thresholds{Failure: 1, Success: 1}))
		h.AddReadinessCheck("db", time.Second, passing)
		h.AddReadinessCheck("broker", time.Second, failing("dial refused"))
		h.SetReady(true)
		for _, p := range h.readiness {
			p.poll(context.Background())
		}

		w, body := serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, map[string]string{"broker": "dial refused"}, body.Checks)
		assert.False(t, h.IsReady())
	})
}

func TestProbeRecovers(t *testing.T) {
	var (
		mu  sync.Mutex
		err = errors.New("down")
	)
	check := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return err
	}

	h := New(WithThresholds(Thresholds{Failure: 1, Success: 2}))
	h.AddLivenessCheck("flaky", time.Second, check)
	p := h.liveness[0]
	ctx := context.Background()

	p.poll(ctx)
	_, failingNow := p.failure()
	require.True(t, failingNow)

	mu.Lock()
	err = nil
	mu.Unlock()

	p.poll(ctx)
	msg, failingNow := p.failure()
	assert.True(t, failingNow, "one success is below the threshold")
	assert.Equal(t, "check is failing", msg)

	p.poll(ctx)
	_, failingNow = p.failure()
	assert.False(t, failingNow)
}

func TestStartAndStop(t *testing.T) {
	h := New(WithThresholds(Thresholds{Failure: 1, Success: 1}))
	h.AddReadinessCheck("db", time.Second, failing("down"))
	h.SetReady(true)

	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentReads(t *testing.T) {
	h := New()
	h.AddLivenessCheck("a", time.Second, passing)
	h.AddReadinessCheck("b", time.Second, passing)
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 32 {
		wg.Go(func() {
			w := httptest.NewRecorder()
			h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
		})
	}
	wg.Wait()
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	assert.Error(t, GoroutineCountCheck(0)(ctx))

	assert.NoError(t, PingCheck(pingerFunc(passing))(ctx))
	assert.ErrorContains(t, PingCheck(pingerFunc(failing("refused")))(ctx), "refused")

	count := func(n int64, err error) func(context.Context) (int64, error) {
		return func(context.Context) (int64, error) { return n, err }
	}
	assert.NoError(t, BacklogCheck(count(10, nil), 10)(ctx))
	assert.ErrorContains(t, BacklogCheck(count(11, nil), 10)(ctx), "exceeds limit")
	assert.ErrorContains(t, BacklogCheck(count(0, errors.New("boom")), 10)(ctx), "boom")
}
