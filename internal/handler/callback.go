package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/reprog-billing/internal/gateway/monetico"
)

// PaymentCallback receives the gateway's payment notification. The gateway
// always gets HTTP 200; cdr=0 tells it the notification was taken into
// account and cdr=1 that it was refused.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	if err := r.ParseForm(); err != nil {
		lg.Warn("Unreadable payment notification", zap.Error(err))
		monetico.WriteAck(w, false)
		return
	}

	n, err := monetico.ParseNotification(r.Form)
	if err != nil {
		lg.Warn("Malformed payment notification", zap.Error(err))
		monetico.WriteAck(w, false)
		return
	}
	lg = lg.With(
		zap.String("reference", n.TexteLibre),
		zap.String("gateway_reference", n.Reference),
		zap.String("code_retour", n.CodeRetour),
		zap.String("montant", n.Montant),
	)

	if err := h.Verifier.VerifyNotification(h.cfg.TPE, h.cfg.Currency, n); err != nil {
		if errors.Is(err, monetico.ErrBadMAC) {
			lg.Warn("Payment notification signature mismatch")
		} else {
			lg.Warn("Payment notification rejected", zap.Error(err))
		}
		monetico.WriteAck(w, false)
		return
	}

	res, err := h.Reconciler.ApplyNotification(zctx.Base(ctx, lg), n.Reconcile())
	if err != nil {
		lg.Error("Applying payment notification", zap.Error(err))
		monetico.WriteAck(w, false)
		return
	}

	lg.Info("Payment notification handled", zap.String("outcome", string(res.Outcome)))
	monetico.WriteAck(w, res.Outcome.Accepted())
}
