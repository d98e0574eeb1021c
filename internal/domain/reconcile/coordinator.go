package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/domain/credit"
	"github.com/xenking/reprog-billing/internal/domain/notice"
	"github.com/xenking/reprog-billing/internal/domain/order"
)

const instrumentationName = "github.com/xenking/reprog-billing/internal/domain/reconcile"

// DefaultCaptureLease bounds how long a crashed capture blocks the next one.
const DefaultCaptureLease = 2 * time.Minute

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMeterProvider sets the meter provider for outcome counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Coordinator) { c.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) { c.tracerProvider = tp }
}

// WithAlerter sets where integrity failures are escalated.
func WithAlerter(a Alerter) Option {
	return func(c *Coordinator) { c.alerter = a }
}

// WithCaptureLease sets how long a capture claim holds. It should exceed the
// gateway client timeout.
func WithCaptureLease(d time.Duration) Option {
	return func(c *Coordinator) { c.captureLease = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator drives checkout, capture and gateway notifications.
type Coordinator struct {
	tx      Transactor
	gateway Gateway
	alerter Alerter
	now     func() time.Time

	captureLease time.Duration

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	outcomes       metric.Int64Counter
}

// New creates a Coordinator.
func New(tx Transactor, gateway Gateway, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		tx:             tx,
		gateway:        gateway,
		alerter:        LogAlerter{},
		now:            time.Now,
		captureLease:   DefaultCaptureLease,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, o := range opts {
		o(c)
	}

	c.tracer = c.tracerProvider.Tracer(instrumentationName)
	outcomes, err := c.meterProvider.Meter(instrumentationName).Int64Counter("billing.reconcile.outcomes",
		metric.WithDescription("Reconciliation outcomes by path"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create outcomes counter")
	}
	c.outcomes = outcomes
	return c, nil
}

// BeginCheckout opens a payment instruction for the customer's CARTED order
// and moves it to PENDING.
func (c *Coordinator) BeginCheckout(ctx context.Context, ref uuid.UUID, customerID int64) (*order.Order, error) {
	ctx, span := c.tracer.Start(ctx, "reconcile.BeginCheckout",
		trace.WithAttributes(attribute.String("order.reference", ref.String())),
	)
	defer span.End()

	var o *order.Order
	err := c.tx.InTx(ctx, func(ctx context.Context, s Stores) error {
		locked, err := s.Orders.LockByReference(ctx, ref)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		if locked.CustomerID != customerID {
			return ErrNotOwner
		}
		if _, err := c.machine(s).BeginCheckout(ctx, locked, c.gateway); err != nil {
			return err
		}
		o = locked
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	zctx.From(ctx).Info("Checkout started",
		zap.Stringer("reference", ref),
		zap.String("instruction", o.InstructionID),
	)
	return o, nil
}

// ApproveAndDeposit captures a PENDING order synchronously and settles it.
// The gateway is called outside any transaction, under a capture claim
// taken with the order row locked. A transport failure or a decline
// releases the claim and leaves the order PENDING, so the customer may
// capture again.
func (c *Coordinator) ApproveAndDeposit(ctx context.Context, ref uuid.UUID, customerID int64) (res Result, rerr error) {
	ctx, span := c.tracer.Start(ctx, "reconcile.ApproveAndDeposit",
		trace.WithAttributes(attribute.String("order.reference", ref.String())),
	)
	defer span.End()
	defer func() { c.record(ctx, span, "capture", res.Outcome, rerr) }()

	var o *order.Order
	err := c.tx.InTx(ctx, func(ctx context.Context, s Stores) error {
		locked, err := s.Orders.LockByReference(ctx, ref)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		if locked.CustomerID != customerID {
			return ErrNotOwner
		}
		o = locked
		if locked.Status != order.StatusPending {
			return nil
		}
		now := c.now()
		claimed, err := s.Captures.ClaimCapture(ctx, locked.ID, now, now.Add(c.captureLease))
		if err != nil {
			return errors.Wrap(err, "claim capture")
		}
		if !claimed {
			return ErrCaptureInProgress
		}
		return nil
	})
	if err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}

	switch o.Status {
	case order.StatusPending:
	case order.StatusPaid:
		return Result{Outcome: OutcomeReplay, Order: o}, nil
	default:
		return Result{Outcome: OutcomeFailed}, &order.InvalidTransitionError{
			Reference: o.Reference,
			From:      o.Status,
			To:        order.StatusPaid,
		}
	}

	settlement, err := c.gateway.ApproveAndDeposit(ctx, o)
	if err != nil {
		if !errors.Is(err, ErrCaptureDeclined) && !errors.Is(err, ErrGatewayUnavailable) {
			// The claim is kept until it expires: funds may have moved.
			err = errors.Wrapf(ErrCaptureUnverified, "capture: %v", err)
			c.alerter.Alert(ctx, Alert{Reference: ref.String(), Reason: "capture response could not be verified", Err: err})
			return Result{Outcome: OutcomeFailed}, err
		}
		c.releaseCapture(ctx, o)
		return Result{Outcome: OutcomeFailed}, err
	}

	zctx.From(ctx).Info("Capture approved",
		zap.Stringer("reference", ref),
		zap.String("transaction", settlement.TransactionID),
	)
	res, err = c.apply(ctx, ref, EventConfirmed, settlement.Amount)
	if err != nil {
		return res, err
	}
	if res.Outcome == OutcomeAlreadySettled && res.Order != nil && res.Order.Status == order.StatusCanceled {
		cerr := errors.Wrapf(ErrCapturedCanceled, "order %s, transaction %s", ref, settlement.TransactionID)
		c.alerter.Alert(ctx, Alert{Reference: ref.String(), Reason: "funds captured for a canceled order", Err: cerr})
		return Result{Outcome: OutcomeFailed, Order: res.Order}, cerr
	}
	return res, nil
}

// releaseCapture drops the capture claim of o. A failure only delays the
// next capture until the claim expires.
func (c *Coordinator) releaseCapture(ctx context.Context, o *order.Order) {
	err := c.tx.InTx(ctx, func(ctx context.Context, s Stores) error {
		return s.Captures.ReleaseCapture(ctx, o.ID)
	})
	if err != nil {
		zctx.From(ctx).Warn("Release capture claim", zap.Stringer("reference", o.Reference), zap.Error(err))
	}
}

// ApplyNotification applies an authenticated gateway notification. Unknown
// references and unrecognized events are reported through the outcome and
// never returned as errors. Replays of an already applied notification are
// accepted without side effects.
func (c *Coordinator) ApplyNotification(ctx context.Context, n Notification) (res Result, rerr error) {
	ctx, span := c.tracer.Start(ctx, "reconcile.ApplyNotification",
		trace.WithAttributes(
			attribute.String("order.reference", n.Reference),
			attribute.Stringer("gateway.event", n.Event),
		),
	)
	defer span.End()
	defer func() { c.record(ctx, span, "notification", res.Outcome, rerr) }()

	lg := zctx.From(ctx).With(
		zap.String("reference", n.Reference),
		zap.Stringer("event", n.Event),
		zap.String("transaction", n.TransactionID),
	)

	if n.Event == EventUnrecognized {
		lg.Warn("Ignoring unrecognized gateway event")
		return Result{Outcome: OutcomeUnrecognized}, nil
	}
	ref, err := uuid.Parse(n.Reference)
	if err != nil {
		lg.Warn("Ignoring notification for malformed reference")
		return Result{Outcome: OutcomeUnknownReference}, nil
	}

	res, err = c.apply(ctx, ref, n.Event, n.Amount)
	if err != nil {
		return res, err
	}
	if res.Outcome == OutcomeUnknownReference {
		lg.Warn("Ignoring notification for unknown order")
	}
	return res, nil
}

// apply runs one event against the locked order.
func (c *Coordinator) apply(ctx context.Context, ref uuid.UUID, event Event, amount decimal.Decimal) (Result, error) {
	var res Result
	err := c.tx.InTx(ctx, func(ctx context.Context, s Stores) error {
		res = Result{}

		o, err := s.Orders.LockByReference(ctx, ref)
		if errors.Is(err, order.ErrNotFound) {
			res.Outcome = OutcomeUnknownReference
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		res.Order = o

		switch event {
		case EventConfirmed:
			return c.settle(ctx, s, o, amount, &res)
		case EventCanceled:
			tr, err := c.machine(s).MarkCanceled(ctx, o)
			if err != nil {
				return err
			}
			res.Outcome = OutcomeCanceled
			if !tr.Changed {
				res.Outcome = OutcomeReplay
			}
			return nil
		default:
			return errors.Errorf("unexpected event %s", event)
		}
	})
	if err == nil {
		c.logApplied(ctx, ref, res)
		return res, nil
	}

	var trErr *order.InvalidTransitionError
	if errors.As(err, &trErr) && trErr.FromTerminal() {
		// The other terminal outcome was already decided. Nothing changed.
		zctx.From(ctx).Info("Order already settled",
			zap.Stringer("reference", ref),
			zap.String("status", string(trErr.From)),
			zap.String("requested", string(trErr.To)),
		)
		return Result{Outcome: OutcomeAlreadySettled, Order: res.Order}, nil
	}

	var mismatch *order.AmountMismatchError
	switch {
	case errors.As(err, &mismatch):
		c.alerter.Alert(ctx, Alert{Reference: ref.String(), Reason: "settled amount differs from order total", Err: err})
	case errors.As(err, &trErr):
		c.alerter.Alert(ctx, Alert{Reference: ref.String(), Reason: "transition from invalid state", Err: err})
	}
	return Result{Outcome: OutcomeFailed}, err
}

// settle performs the PENDING -> PAID transition and its side effects.
// It runs inside the caller's transaction with the order row locked.
func (c *Coordinator) settle(ctx context.Context, s Stores, o *order.Order, amount decimal.Decimal, res *Result) error {
	tr, err := c.machine(s).MarkPaid(ctx, o, amount)
	if err != nil {
		return err
	}
	if !tr.Changed {
		res.Outcome = OutcomeReplay
		return nil
	}

	cust, err := s.Customers.GetByID(ctx, o.CustomerID)
	if err != nil {
		return errors.Wrap(err, "get customer")
	}

	award, err := credit.NewLedger(s.Credits).Award(ctx, o)
	if err != nil {
		return errors.Wrap(err, "award credits")
	}

	b, _, err := bill.NewSequencer(s.Bills).Issue(ctx, o, cust)
	if err != nil {
		return errors.Wrap(err, "issue bill")
	}

	err = s.Outbox.Enqueue(ctx, notice.Notice{
		ID:             uuid.New(),
		Kind:           notice.KindOrderPaid,
		OrderReference: o.Reference,
		CustomerID:     cust.ID,
		Email:          cust.Email,
		BillLabel:      b.Label(),
		Credits:        award.Entry.Amount,
		Total:          o.Total(),
		CreatedAt:      c.now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "enqueue notice")
	}

	res.Outcome = OutcomePaid
	res.Award = &award
	res.Bill = b
	return nil
}

func (c *Coordinator) machine(s Stores) *order.StateMachine {
	return order.NewStateMachine(s.Orders)
}

func (c *Coordinator) logApplied(ctx context.Context, ref uuid.UUID, res Result) {
	lg := zctx.From(ctx)
	switch res.Outcome {
	case OutcomePaid:
		lg.Info("Order paid",
			zap.Stringer("reference", ref),
			zap.String("bill", res.Bill.Label()),
			zap.Int64("credits", res.Award.Entry.Amount),
		)
	case OutcomeCanceled:
		lg.Info("Order canceled", zap.Stringer("reference", ref))
	case OutcomeReplay:
		lg.Debug("Replayed notification ignored", zap.Stringer("reference", ref))
	}
}

func (c *Coordinator) record(ctx context.Context, span trace.Span, path string, outcome Outcome, err error) {
	if outcome == "" {
		outcome = OutcomeFailed
	}
	span.SetAttributes(attribute.String("reconcile.outcome", string(outcome)))
	if err != nil {
		recordError(span, err)
	}
	c.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("outcome", string(outcome)),
	))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
