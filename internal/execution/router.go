package execution

import (
	"context"
	"fmt"

	"funding_arb/internal/core"
	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Leg identifies which side of a dual-leg intent an error or makeup targets
type Leg string

const (
	LegPrimary  Leg = "primary"
	LegHedge    Leg = "hedge"
	LegParallel Leg = "parallel"
)

// DualLegIntent carries the two order requests of one hedged entry or exit
type DualLegIntent struct {
	Primary core.OrderRequest
	Hedge   core.OrderRequest
}

// ExecutionError classifies a failed dual-leg dispatch by leg and carries
// whatever partial results exist.
type ExecutionError struct {
	Leg           Leg
	Err           error
	PrimaryResult *core.OrderResult
	HedgeResult   *core.OrderResult
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed on %s leg: %v", e.Leg, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Result is a reconciled dual-leg execution outcome
type Result struct {
	Primary core.OrderResult
	Hedge   core.OrderResult

	Reconciliation FillReconciliation
	Correction     *core.OrderResult
	CorrectionErr  error
}

// IsBalanced reports whether the legs ended within tolerance, either
// directly or after a successful makeup order.
func (r Result) IsBalanced() bool {
	if r.Reconciliation.IsBalanced() {
		return true
	}
	return r.Correction != nil && r.CorrectionErr == nil
}

// Router dispatches both legs of an intent in parallel and reconciles the
// fills. It never retries a whole intent; a failure surfaces as an
// ExecutionError for the controller to count against the kill switch.
type Router struct {
	primary core.IVenue
	hedge   core.IVenue

	tolerance     decimal.Decimal
	autoReconcile bool

	logger core.ILogger
}

// NewRouter creates an execution router over the two venues
func NewRouter(primary, hedge core.IVenue, logger core.ILogger) *Router {
	return &Router{
		primary:       primary,
		hedge:         hedge,
		tolerance:     DefaultFillTolerance,
		autoReconcile: true,
		logger:        logger.WithField("component", "router"),
	}
}

// SetTolerance overrides the fill-imbalance tolerance
func (r *Router) SetTolerance(tolerance decimal.Decimal) {
	r.tolerance = tolerance
}

// SetAutoReconcile toggles automatic makeup orders after imbalanced fills
func (r *Router) SetAutoReconcile(enabled bool) {
	r.autoReconcile = enabled
}

// Execute dispatches both legs in parallel and awaits both. On a parallel
// failure it re-attempts sequentially, primary first, to classify the
// failing leg; a primary fill stranded by a hedge failure is cancelled
// best-effort. When the sequential pass succeeds on both legs despite the
// parallel error, the reconciler's verdict decides: balanced fills are a
// success, anything else surfaces as an ExecutionError on the parallel leg.
func (r *Router) Execute(ctx context.Context, intent DualLegIntent) (Result, error) {
	var primaryRes, hedgeRes core.OrderResult

	g := new(errgroup.Group)
	g.Go(func() error {
		var err error
		primaryRes, err = r.primary.PlaceOrder(ctx, intent.Primary)
		return err
	})
	g.Go(func() error {
		var err error
		hedgeRes, err = r.hedge.PlaceOrder(ctx, intent.Hedge)
		return err
	})

	if err := g.Wait(); err != nil {
		return r.handleFailure(ctx, intent, err)
	}

	return r.complete(ctx, intent, primaryRes, hedgeRes)
}

// handleFailure runs the sequential classification pass after a parallel
// dispatch raised on at least one leg.
func (r *Router) handleFailure(ctx context.Context, intent DualLegIntent, parallelErr error) (Result, error) {
	r.logger.Warn("Parallel dispatch failed, classifying sequentially",
		"symbol", intent.Primary.Symbol, "error", parallelErr)

	primaryRes, err := r.primary.PlaceOrder(ctx, intent.Primary)
	if err != nil {
		return Result{}, &ExecutionError{Leg: LegPrimary, Err: err}
	}

	hedgeRes, err := r.hedge.PlaceOrder(ctx, intent.Hedge)
	if err != nil {
		r.cancelBestEffort(ctx, r.primary, primaryRes)
		return Result{}, &ExecutionError{Leg: LegHedge, Err: err, PrimaryResult: &primaryRes}
	}

	rec := CheckFills(intent.Primary, intent.Hedge, primaryRes, hedgeRes, r.tolerance)
	if !rec.IsBalanced() {
		return Result{}, &ExecutionError{
			Leg:           LegParallel,
			Err:           parallelErr,
			PrimaryResult: &primaryRes,
			HedgeResult:   &hedgeRes,
		}
	}

	r.logger.Warn("Sequential retry recovered both legs, fills balanced",
		"symbol", intent.Primary.Symbol,
		"primary_filled", primaryRes.FilledSize, "hedge_filled", hedgeRes.FilledSize)
	return Result{Primary: primaryRes, Hedge: hedgeRes, Reconciliation: rec}, nil
}

// complete reconciles a dual success and applies the makeup order if the
// fills landed outside tolerance.
func (r *Router) complete(ctx context.Context, intent DualLegIntent, primaryRes, hedgeRes core.OrderResult) (Result, error) {
	rec := CheckFills(intent.Primary, intent.Hedge, primaryRes, hedgeRes, r.tolerance)
	result := Result{Primary: primaryRes, Hedge: hedgeRes, Reconciliation: rec}

	avg := rec.PrimaryFilled.Add(rec.HedgeFilled).Div(two)
	if avg.IsPositive() {
		ratio, _ := rec.Imbalance.Div(avg).Float64()
		telemetry.GetGlobalMetrics().FillImbalance.Record(ctx, ratio)
	}

	if rec.NeedsCorrection && r.autoReconcile {
		r.logger.Warn("Fill imbalance above tolerance, placing makeup order",
			"symbol", intent.Primary.Symbol,
			"target", rec.Target, "side", rec.Side, "size", rec.Size,
			"imbalance", rec.Imbalance)

		correction, err := ApplyCorrection(ctx, intent.Primary.Symbol, rec, r.primary, r.hedge)
		if err != nil {
			// Makeup failure is non-fatal; the controller records it
			r.logger.Error("Makeup order failed", "symbol", intent.Primary.Symbol, "error", err)
			result.CorrectionErr = err
		} else {
			result.Correction = &correction
		}
	}

	return result, nil
}

// cancelBestEffort cancels a stranded order. Cancel errors are swallowed;
// the order may already be filled or rejected and reconciliation will
// observe the truth next tick.
func (r *Router) cancelBestEffort(ctx context.Context, venue core.IVenue, res core.OrderResult) {
	if res.ExchangeOrderID == "" {
		return
	}
	if err := venue.CancelOrder(ctx, res.ExchangeOrderID); err != nil {
		r.logger.Warn("Best-effort cancel failed",
			"venue", venue.GetName(), "order_id", res.ExchangeOrderID, "error", err)
	}
}
