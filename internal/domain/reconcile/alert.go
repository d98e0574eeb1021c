package reconcile

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Alert is an integrity failure requiring operator attention.
type Alert struct {
	Reference string
	Reason    string
	Err       error
}

// Alerter escalates integrity failures to an operator.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// LogAlerter writes alerts to the context logger at error level.
type LogAlerter struct{}

func (LogAlerter) Alert(ctx context.Context, a Alert) {
	zctx.From(ctx).Error("Operator alert",
		zap.String("reference", a.Reference),
		zap.String("reason", a.Reason),
		zap.Error(a.Err),
	)
}
