package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/reprog-billing/internal/auth"
	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/domain/customer"
	"github.com/xenking/reprog-billing/internal/domain/order"
	"github.com/xenking/reprog-billing/internal/domain/programmation"
	"github.com/xenking/reprog-billing/internal/domain/reconcile"
)

var (
	errBadReference = errors.New("malformed order reference")
	errForbidden    = errors.New("forbidden")
	errBadBody      = errors.New("malformed request body")
)

// apiError is the JSON error body.
type apiError struct {
	Code    int
	Message string
	// Retry points the client to the step it may repeat.
	Retry string
}

func (e apiError) encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("code")
	enc.Int(e.Code)
	enc.FieldStart("message")
	enc.Str(e.Message)
	if e.Retry != "" {
		enc.FieldStart("retry")
		enc.Str(e.Retry)
	}
	enc.ObjEnd()
}

// mapError converts domain errors to API errors. Unknown errors map to 500
// and their text is not exposed.
func mapError(r *http.Request, err error) apiError {
	var (
		quantity   *order.InvalidQuantityError
		missing    *order.ArticleNotFoundError
		empty      *order.EmptyOrderError
		transition *order.InvalidTransitionError
		mismatch   *order.AmountMismatchError
		unpriced   *programmation.UnpricedCombinationError
	)
	switch {
	case errors.Is(err, auth.ErrNoToken), errors.Is(err, auth.ErrInvalidToken):
		return apiError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	case errors.Is(err, errForbidden), errors.Is(err, reconcile.ErrNotOwner):
		return apiError{Code: http.StatusForbidden, Message: "forbidden"}
	case errors.Is(err, errBadReference), errors.Is(err, errBadBody),
		errors.Is(err, order.ErrEmptyItems), errors.Is(err, bill.ErrInvalidLabel):
		return apiError{Code: http.StatusBadRequest, Message: rootMessage(err)}
	case errors.Is(err, order.ErrNotFound), errors.Is(err, bill.ErrNotFound),
		errors.Is(err, customer.ErrNotFound):
		return apiError{Code: http.StatusNotFound, Message: rootMessage(err)}
	case errors.As(err, &quantity), errors.As(err, &missing), errors.As(err, &empty),
		errors.As(err, &unpriced):
		return apiError{Code: http.StatusUnprocessableEntity, Message: rootMessage(err)}
	case errors.As(err, &transition), errors.Is(err, bill.ErrAlreadyCanceled),
		errors.Is(err, order.ErrConcurrentUpdate), errors.Is(err, reconcile.ErrCaptureInProgress):
		return apiError{Code: http.StatusConflict, Message: rootMessage(err)}
	case errors.Is(err, reconcile.ErrCapturedCanceled):
		return apiError{Code: http.StatusConflict, Message: rootMessage(err)}
	case errors.Is(err, reconcile.ErrCaptureDeclined):
		return apiError{Code: http.StatusPaymentRequired, Message: "payment declined"}
	case errors.Is(err, reconcile.ErrGatewayUnavailable):
		// The order stays PENDING, so capturing again is the retry.
		e := apiError{Code: http.StatusBadGateway, Message: "payment gateway unavailable"}
		if ref := r.PathValue("reference"); ref != "" {
			e.Retry = "/api/orders/" + ref + "/capture"
		}
		return e
	case errors.As(err, &mismatch):
		return apiError{Code: http.StatusConflict, Message: "settled amount does not match order"}
	}
	return apiError{Code: http.StatusInternalServerError, Message: "internal error"}
}

// rootMessage strips wrapping context that would leak internals.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := mapError(r, err)
	lg := zctx.From(r.Context())
	if e.Code >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err), zap.Int("code", e.Code))
	} else {
		lg.Debug("Request rejected", zap.Error(err), zap.Int("code", e.Code))
	}
	writeJSON(w, e.Code, e.encode)
}

func writeJSON(w http.ResponseWriter, code int, body func(*jx.Encoder)) {
	var e jx.Encoder
	body(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
