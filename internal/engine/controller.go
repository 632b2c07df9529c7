package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/execution"
	"funding_arb/internal/persistence"
	"funding_arb/internal/safety"
	"funding_arb/internal/strategy"
	apperrors "funding_arb/pkg/errors"
	"funding_arb/pkg/retry"
	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// ErrHalted is returned by Run when the kill switch trips; the process
// should exit non-zero and wait for an operator.
var ErrHalted = errors.New("trading halted: kill switch tripped")

var (
	bpsFactor    = decimal.NewFromInt(10000)
	two          = decimal.NewFromInt(2)
	one          = decimal.NewFromInt(1)
	takerFeeRate = decimal.NewFromFloat(0.0003)

	// exits tolerate a wider cross-venue spread than entries
	exitMaxSpreadBps = decimal.NewFromInt(100)
)

// Controller is the trade-lifecycle controller: a single logical task that
// polls funding, decides, sizes, executes, reconciles, rebalances, and
// persists, one tick at a time. It guarantees at most one open hedged
// position per symbol and never crashes on a single-symbol error.
type Controller struct {
	cfg     *config.Config
	primary core.IVenue
	hedge   core.IVenue

	strategy   *strategy.Engine
	portfolio  *strategy.PortfolioManager
	router     *execution.Router
	riskGate   *execution.RiskGate
	killSwitch *safety.KillSwitch
	store      *persistence.PositionStore
	ledger     *persistence.Ledger

	// per-symbol lifecycle state; HEDGED entries mirror the portfolio map
	states map[string]*symbolContext

	orderNotional decimal.Decimal
	slippageBps   decimal.Decimal
	driftBps      decimal.Decimal
	staleAfter    time.Duration
	tickInterval  time.Duration
	rebalanceGap  time.Duration
	lastRebalance time.Time
	tif           core.TimeInForce

	now    func() time.Time
	logger core.ILogger
}

// NewController wires the controller and its subsystems over the two venues
func NewController(cfg *config.Config, primary, hedge core.IVenue, logger core.ILogger) (*Controller, error) {
	eng, err := strategy.NewEngine(
		decimal.NewFromFloat(cfg.Strategy.MinEdgeBps),
		decimal.NewFromFloat(cfg.Strategy.ExitEdgeBps),
	)
	if err != nil {
		return nil, fmt.Errorf("strategy engine: %w", err)
	}

	portfolio := strategy.NewPortfolioManager(
		decimal.NewFromFloat(cfg.Risk.MaxTotalNotional),
		decimal.NewFromFloat(cfg.Risk.MaxSymbolNotional),
		cfg.Risk.MaxPositions,
		logger,
	)

	return &Controller{
		cfg:        cfg,
		primary:    primary,
		hedge:      hedge,
		strategy:   eng,
		portfolio:  portfolio,
		router:     execution.NewRouter(primary, hedge, logger),
		riskGate:   execution.NewRiskGate(primary, hedge, cfg.Risk),
		killSwitch: safety.NewKillSwitch(safety.KillSwitchConfig{MaxConsecutiveFailures: 3, MaxFailuresPerHour: 10}, logger),
		store:      persistence.NewPositionStore(cfg.Persistence.PositionFile, logger),
		ledger:     persistence.OpenLedger(cfg.Persistence.PnLFile, logger),
		states:     make(map[string]*symbolContext),

		orderNotional: decimal.NewFromFloat(cfg.Execution.OrderNotional),
		slippageBps:   decimal.NewFromFloat(cfg.Execution.SlippageBps),
		driftBps:      decimal.NewFromFloat(cfg.Risk.DriftThresholdBps),
		staleAfter:    time.Duration(cfg.Strategy.StaleDataSeconds) * time.Second,
		tickInterval:  time.Duration(cfg.PollIntervalSeconds * float64(time.Second)),
		rebalanceGap:  time.Duration(cfg.Strategy.RebalanceIntervalSeconds) * time.Second,
		tif:           core.TimeInForce(cfg.Execution.TimeInForce),

		now:    time.Now,
		logger: logger.WithField("component", "controller"),
	}, nil
}

// KillSwitch exposes the safety latch for operator commands
func (c *Controller) KillSwitch() *safety.KillSwitch { return c.killSwitch }

// Ledger exposes the PnL book for reporting commands
func (c *Controller) Ledger() *persistence.Ledger { return c.ledger }

// OpenSymbols returns the symbols currently holding a hedged position
func (c *Controller) OpenSymbols() []string { return c.portfolio.OpenSymbols() }

// Restore merges the persisted position map into the portfolio manager,
// the strategy engine, and the controller's own state map. Called once
// before the first tick.
func (c *Controller) Restore() {
	positions := c.store.Load()
	if len(positions) == 0 {
		return
	}

	symbols := make([]string, 0, len(positions))
	for symbol, record := range positions {
		c.portfolio.RegisterPosition(symbol, record.SizeUSD)
		c.strategy.Restore(symbol, record.Direction, record.SizeUSD)
		sc := newSymbolContext()
		sc.state = StateHedged
		sc.record = record
		c.states[symbol] = sc
		symbols = append(symbols, symbol)
	}

	telemetry.GetGlobalMetrics().SetOpenPositions(int64(c.portfolio.OpenCount()))
	c.logger.Info("Positions restored from disk", "count", len(positions), "symbols", symbols)
}

// Run restores state and ticks until the context is cancelled (clean
// shutdown, nil) or the kill switch trips (ErrHalted).
func (c *Controller) Run(ctx context.Context) error {
	c.Restore()
	c.logger.Info("Controller started",
		"tracked_symbols", c.cfg.Strategy.TrackedSymbols,
		"tick_interval", c.tickInterval,
		"open_positions", c.portfolio.OpenCount())

	for {
		if c.killSwitch.IsTripped() {
			c.logger.Error("Controller halted", "reason", c.killSwitch.Snapshot().TripReason)
			return ErrHalted
		}

		c.RunTick(ctx)

		select {
		case <-ctx.Done():
			c.logger.Info("Controller shutting down")
			return nil
		case <-time.After(c.tickInterval):
		}
	}
}

// RunTick executes one full cycle: entries, exits, then rebalancing.
// Single-symbol errors are logged and counted, never propagated.
func (c *Controller) RunTick(ctx context.Context) {
	c.evaluateEntries(ctx)
	c.evaluateExits(ctx)

	// Rebalancing runs on its own slower cadence
	if c.portfolio.OpenCount() > 0 && !c.killSwitch.IsTripped() &&
		c.now().Sub(c.lastRebalance) >= c.rebalanceGap {
		c.lastRebalance = c.now()
		c.checkAndRebalance(ctx)
	}
}

// evaluateEntries polls funding for every tracked symbol, collects the
// engine's enter decisions, sizes them through the portfolio manager, and
// executes the allocations in priority order.
func (c *Controller) evaluateEntries(ctx context.Context) {
	if c.killSwitch.IsTripped() {
		return
	}

	var opportunities []strategy.Decision
	for _, symbol := range c.cfg.Strategy.TrackedSymbols {
		if c.strategy.HasOpen(symbol) {
			continue
		}

		snapshot, err := c.pollFunding(ctx, symbol)
		if err != nil {
			c.logger.Error("Funding poll failed", "symbol", symbol, "error", err)
			c.killSwitch.RecordFailure(fmt.Sprintf("funding poll %s: %v", symbol, err))
			continue
		}

		edge, _ := snapshot.EdgeBps().Float64()
		telemetry.GetGlobalMetrics().SetEdgeBps(symbol, edge)

		decision := c.strategy.Evaluate(snapshot, c.orderNotional)
		if decision != nil && decision.Action == strategy.ActionEnter {
			opportunities = append(opportunities, *decision)
		}
	}

	if len(opportunities) == 0 {
		return
	}

	allocations := c.portfolio.Allocate(opportunities, c.orderNotional)
	c.logger.Info("Portfolio allocation",
		"opportunities", len(opportunities),
		"allocated", len(allocations),
		"available_capacity", c.portfolio.AvailableCapacity())

	allocated := make(map[string]bool, len(allocations))
	for _, allocation := range allocations {
		allocated[allocation.Symbol] = true
		for _, decision := range opportunities {
			if decision.Symbol == allocation.Symbol {
				c.executeEntry(ctx, decision, allocation.AllocatedNotional)
				break
			}
		}
		if c.killSwitch.IsTripped() {
			break
		}
	}

	// Unallocated decisions never became positions; release them so the
	// engine may re-propose them on a later tick.
	for _, decision := range opportunities {
		if !allocated[decision.Symbol] {
			c.strategy.Forget(decision.Symbol)
		}
	}
}

// evaluateExits re-polls funding for each open symbol and executes any exit
// decision the engine emits.
func (c *Controller) evaluateExits(ctx context.Context) {
	for _, symbol := range c.portfolio.OpenSymbols() {
		snapshot, err := c.pollFunding(ctx, symbol)
		if err != nil {
			c.logger.Error("Exit check poll failed", "symbol", symbol, "error", err)
			c.killSwitch.RecordFailure(fmt.Sprintf("exit poll %s: %v", symbol, err))
			continue
		}

		decision := c.strategy.Evaluate(snapshot, c.orderNotional)
		if decision != nil && decision.Action == strategy.ActionExit {
			c.executeExit(ctx, *decision)
		}
	}
}

// pollFunding fetches one funding observation per venue with transport
// retry and rejects stale data before it reaches the strategy engine.
func (c *Controller) pollFunding(ctx context.Context, symbol string) (core.FundingSnapshot, error) {
	var primaryRate, hedgeRate core.FundingRate

	err := retry.Do(ctx, retry.TransportPolicy, apperrors.IsTransient, func() error {
		var err error
		primaryRate, err = c.primary.GetFundingRate(ctx, symbol)
		return err
	})
	if err != nil {
		return core.FundingSnapshot{}, fmt.Errorf("primary funding: %w", err)
	}

	err = retry.Do(ctx, retry.TransportPolicy, apperrors.IsTransient, func() error {
		var err error
		hedgeRate, err = c.hedge.GetFundingRate(ctx, symbol)
		return err
	})
	if err != nil {
		return core.FundingSnapshot{}, fmt.Errorf("hedge funding: %w", err)
	}

	snapshot := core.FundingSnapshot{
		Symbol:         symbol,
		PrimaryRateBps: primaryRate.Rate.Mul(bpsFactor),
		HedgeRateBps:   hedgeRate.Rate.Mul(bpsFactor),
		TimestampMs:    primaryRate.UpdatedAt,
	}
	if hedgeRate.UpdatedAt < snapshot.TimestampMs {
		snapshot.TimestampMs = hedgeRate.UpdatedAt
	}

	age := c.now().UnixMilli() - snapshot.TimestampMs
	if age > c.staleAfter.Milliseconds() {
		return core.FundingSnapshot{}, fmt.Errorf("%w: %s snapshot is %dms old", apperrors.ErrStaleMarketData, symbol, age)
	}

	return snapshot, nil
}

func (c *Controller) symbolContext(symbol string) *symbolContext {
	sc, ok := c.states[symbol]
	if !ok {
		sc = newSymbolContext()
		c.states[symbol] = sc
	}
	return sc
}

// executeEntry runs the full entry pipeline for one sized decision:
// risk gate, price coordination, sizing, dual-leg dispatch, admission,
// persistence. Any failure leaves the symbol IDLE with no position.
func (c *Controller) executeEntry(ctx context.Context, decision strategy.Decision, allocatedNotional decimal.Decimal) {
	symbol := decision.Symbol
	sc := c.symbolContext(symbol)
	if err := sc.transition(StateEntering); err != nil {
		c.logger.Error("Entry refused", "symbol", symbol, "error", err)
		c.strategy.Forget(symbol)
		return
	}

	abort := func(reason string, countFailure bool) {
		if countFailure {
			c.killSwitch.RecordFailure(reason)
		}
		c.strategy.Forget(symbol)
		sc.state = StateIdle
	}

	check := c.riskGate.CheckEntry(ctx, symbol, allocatedNotional)
	if !check.Approved {
		c.logger.Warn("Risk check failed", "symbol", symbol, "reason", check.Reason)
		abort("risk check: "+check.Reason, true)
		return
	}

	coords, err := execution.GetCoordinatedPrices(ctx, symbol, c.primary, c.hedge, c.slippageBps.Mul(two))
	if err != nil {
		c.logger.Error("Price fetch failed", "symbol", symbol, "error", err)
		abort(fmt.Sprintf("price fetch %s: %v", symbol, err), true)
		return
	}
	if !coords.IsAcceptable {
		c.logger.Warn("Cross-venue spread too wide", "symbol", symbol, "spread_bps", coords.SpreadBps)
		abort("", false)
		return
	}

	primarySpec, hedgeSpec, err := c.findSpecs(ctx, symbol)
	if err != nil {
		c.logger.Error("Symbol spec missing", "symbol", symbol, "error", err)
		abort("", false)
		return
	}

	primaryQty, err := execution.CalculateQuantity(allocatedNotional, coords.PrimaryMid, primarySpec)
	if err != nil {
		c.logger.Error("Primary sizing failed", "symbol", symbol, "error", err)
		abort("", false)
		return
	}
	hedgeQty, err := execution.CalculateQuantity(allocatedNotional, coords.HedgeMid, hedgeSpec)
	if err != nil {
		c.logger.Error("Hedge sizing failed", "symbol", symbol, "error", err)
		abort("", false)
		return
	}
	if !primaryQty.IsPositive() || !hedgeQty.IsPositive() {
		c.logger.Warn("Allocation below lot size", "symbol", symbol, "notional", allocatedNotional)
		abort("", false)
		return
	}

	primarySide := decision.Direction.PrimarySide()
	hedgeSide := decision.Direction.HedgeSide()
	primaryLimit, hedgeLimit := execution.CalculateLimitPrices(
		coords, primarySide == core.SideBuy, hedgeSide == core.SideBuy, c.slippageBps)

	epoch := c.now().Unix()
	intent := execution.DualLegIntent{
		Primary: core.OrderRequest{
			ClientID:    fmt.Sprintf("%s:%s:%d", c.primary.GetName(), symbol, epoch),
			Symbol:      symbol,
			Side:        primarySide,
			Size:        primaryQty,
			Type:        core.OrderTypeLimit,
			Price:       primaryLimit,
			TimeInForce: c.tif,
		},
		Hedge: core.OrderRequest{
			ClientID:    fmt.Sprintf("%s:%s:%d", c.hedge.GetName(), symbol, epoch),
			Symbol:      symbol,
			Side:        hedgeSide,
			Size:        hedgeQty,
			Type:        core.OrderTypeLimit,
			Price:       hedgeLimit,
			TimeInForce: c.tif,
		},
	}

	c.logger.Info("Dispatching entry",
		"symbol", symbol, "edge_bps", decision.EdgeBps, "direction", decision.Direction,
		"primary_qty", primaryQty, "hedge_qty", hedgeQty,
		"primary_px", primaryLimit, "hedge_px", hedgeLimit,
		"spread_bps", coords.SpreadBps)

	result, err := c.router.Execute(ctx, intent)
	if err != nil {
		var execErr *execution.ExecutionError
		if errors.As(err, &execErr) {
			c.logger.Error("Entry execution failed", "symbol", symbol, "leg", execErr.Leg, "error", err)
			abort(fmt.Sprintf("execution %s leg %s: %v", symbol, execErr.Leg, err), true)
		} else {
			c.logger.Error("Entry execution failed", "symbol", symbol, "error", err)
			abort(fmt.Sprintf("execution %s: %v", symbol, err), true)
		}
		return
	}

	primaryFilled, hedgeFilled := effectiveFills(result)
	if !primaryFilled.IsPositive() && !hedgeFilled.IsPositive() {
		c.logger.Warn("Both legs filled nothing", "symbol", symbol)
		abort("zero fills on "+symbol, true)
		return
	}

	c.admitPosition(ctx, symbol, decision, allocatedNotional, intent, result)
}

// admitPosition records a filled entry: ledger trades, the durable record,
// portfolio registration, and the persistence flush that completes the tick
// for this symbol.
func (c *Controller) admitPosition(ctx context.Context, symbol string, decision strategy.Decision, allocatedNotional decimal.Decimal, intent execution.DualLegIntent, result execution.Result) {
	sc := c.states[symbol]

	primaryPx := orDefault(result.Primary.AverageFillPrice, intent.Primary.Price)
	hedgePx := orDefault(result.Hedge.AverageFillPrice, intent.Hedge.Price)

	c.recordTrade(symbol, c.primary.GetName(), intent.Primary.Side, result.Primary.FilledSize, primaryPx, true)
	c.recordTrade(symbol, c.hedge.GetName(), intent.Hedge.Side, result.Hedge.FilledSize, hedgePx, true)

	primaryFilled, hedgeFilled := effectiveFills(result)
	sc.record = core.PositionRecord{
		Symbol:         symbol,
		Direction:      decision.Direction,
		SizeUSD:        allocatedNotional,
		PrimaryFilled:  primaryFilled,
		HedgeFilled:    hedgeFilled,
		PrimaryEntryPx: primaryPx,
		HedgeEntryPx:   hedgePx,
		IsBalanced:     result.IsBalanced(),
	}
	if err := sc.transition(StateHedged); err != nil {
		c.logger.Error("Lifecycle violation on admission", "symbol", symbol, "error", err)
	}

	c.portfolio.RegisterPosition(symbol, allocatedNotional)
	c.persist()

	if result.IsBalanced() {
		c.killSwitch.RecordSuccess()
	} else {
		// Position is live but lopsided; the rebalancer owns it now
		c.killSwitch.RecordFailure(fmt.Sprintf("unbalanced fills on %s", symbol))
	}

	metrics := telemetry.GetGlobalMetrics()
	metrics.EntriesTotal.Add(ctx, 1)
	metrics.SetOpenPositions(int64(c.portfolio.OpenCount()))

	c.logger.Info("Position opened",
		"symbol", symbol,
		"primary_filled", primaryFilled, "hedge_filled", hedgeFilled,
		"balanced", result.IsBalanced())
}

// executeExit closes both legs of an open position with reduce-only IOC
// orders, falling back to market orders when exit prices are unavailable.
func (c *Controller) executeExit(ctx context.Context, decision strategy.Decision) {
	symbol := decision.Symbol
	sc := c.symbolContext(symbol)
	if err := sc.transition(StateExiting); err != nil {
		c.logger.Error("Exit refused", "symbol", symbol, "error", err)
		return
	}

	// The engine dropped the symbol when it emitted the exit; if closing
	// fails the position is still live and the engine must keep tracking it.
	reopen := func(reason string) {
		c.strategy.Restore(symbol, sc.record.Direction, sc.record.SizeUSD)
		sc.state = StateHedged
		c.killSwitch.RecordFailure(reason)
	}

	primaryPos, hedgePos, err := c.findPositions(ctx, symbol)
	if err != nil {
		c.logger.Error("Exit position fetch failed", "symbol", symbol, "error", err)
		reopen(fmt.Sprintf("exit position fetch %s: %v", symbol, err))
		return
	}

	if primaryPos == nil && hedgePos == nil {
		c.logger.Warn("Exit found no venue positions, clearing records", "symbol", symbol)
		c.forgetPosition(ctx, symbol)
		return
	}
	if primaryPos == nil || hedgePos == nil {
		c.closeSingleLeg(ctx, symbol, sc, primaryPos, hedgePos)
		return
	}

	var primaryPx, hedgePx decimal.Decimal
	orderType := core.OrderTypeMarket
	coords, err := execution.GetCoordinatedPrices(ctx, symbol, c.primary, c.hedge, exitMaxSpreadBps)
	if err == nil {
		// More slippage headroom on the way out: closing beats price
		primaryPx, hedgePx = execution.CalculateLimitPrices(
			coords, primaryPos.Side == core.SideSell, hedgePos.Side == core.SideSell, c.slippageBps.Mul(two))
		orderType = core.OrderTypeLimit
	} else {
		c.logger.Warn("Exit price fetch failed, using market orders", "symbol", symbol, "error", err)
	}

	epoch := c.now().Unix()
	intent := execution.DualLegIntent{
		Primary: core.OrderRequest{
			ClientID:    fmt.Sprintf("%s-exit:%s:%d", c.primary.GetName(), symbol, epoch),
			Symbol:      symbol,
			Side:        primaryPos.Side.Opposite(),
			Size:        primaryPos.Size,
			Type:        orderType,
			Price:       primaryPx,
			ReduceOnly:  true,
			TimeInForce: core.TimeInForceIOC,
		},
		Hedge: core.OrderRequest{
			ClientID:    fmt.Sprintf("%s-exit:%s:%d", c.hedge.GetName(), symbol, epoch),
			Symbol:      symbol,
			Side:        hedgePos.Side.Opposite(),
			Size:        hedgePos.Size,
			Type:        orderType,
			Price:       hedgePx,
			ReduceOnly:  true,
			TimeInForce: core.TimeInForceIOC,
		},
	}

	c.logger.Info("Dispatching exit",
		"symbol", symbol, "edge_bps", decision.EdgeBps,
		"primary_qty", primaryPos.Size, "hedge_qty", hedgePos.Size)

	result, err := c.router.Execute(ctx, intent)
	if err != nil {
		c.logger.Error("Exit execution failed", "symbol", symbol, "error", err)
		reopen(fmt.Sprintf("exit %s: %v", symbol, err))
		return
	}

	exitPrimaryPx := orDefault(result.Primary.AverageFillPrice, primaryPx)
	exitHedgePx := orDefault(result.Hedge.AverageFillPrice, hedgePx)
	c.recordTrade(symbol, c.primary.GetName(), intent.Primary.Side, result.Primary.FilledSize, exitPrimaryPx, false)
	c.recordTrade(symbol, c.hedge.GetName(), intent.Hedge.Side, result.Hedge.FilledSize, exitHedgePx, false)
	c.recordRealized(sc.record, *primaryPos, *hedgePos, exitPrimaryPx, exitHedgePx)

	c.forgetPosition(ctx, symbol)
	c.killSwitch.RecordSuccess()
	telemetry.GetGlobalMetrics().ExitsTotal.Add(ctx, 1)

	c.logger.Info("Position closed",
		"symbol", symbol,
		"primary_closed", result.Primary.FilledSize,
		"hedge_closed", result.Hedge.FilledSize,
		"totals", c.ledger.Totals())
}

// closeSingleLeg flattens the surviving leg when the other venue already
// reports flat, then clears the records.
func (c *Controller) closeSingleLeg(ctx context.Context, symbol string, sc *symbolContext, primaryPos, hedgePos *core.VenuePosition) {
	venue := c.primary
	pos := primaryPos
	if pos == nil {
		venue = c.hedge
		pos = hedgePos
	}

	c.logger.Warn("One leg already flat, closing the survivor",
		"symbol", symbol, "venue", venue.GetName(), "size", pos.Size)

	order := core.OrderRequest{
		ClientID:    fmt.Sprintf("%s-exit:%s:%d", venue.GetName(), symbol, c.now().Unix()),
		Symbol:      symbol,
		Side:        pos.Side.Opposite(),
		Size:        pos.Size,
		Type:        core.OrderTypeMarket,
		ReduceOnly:  true,
		TimeInForce: core.TimeInForceIOC,
	}

	result, err := venue.PlaceOrder(ctx, order)
	if err != nil {
		c.logger.Error("Single-leg close failed", "symbol", symbol, "error", err)
		c.strategy.Restore(symbol, sc.record.Direction, sc.record.SizeUSD)
		sc.state = StateHedged
		c.killSwitch.RecordFailure(fmt.Sprintf("single-leg close %s: %v", symbol, err))
		return
	}

	c.recordTrade(symbol, venue.GetName(), order.Side, result.FilledSize, orDefault(result.AverageFillPrice, pos.EntryPrice), false)
	c.forgetPosition(ctx, symbol)
	c.killSwitch.RecordSuccess()
}

// checkAndRebalance fetches both venues' positions once and corrects every
// open symbol whose drift breaches the threshold. Correction failures are
// logged and retried next tick; the position stays HEDGED.
func (c *Controller) checkAndRebalance(ctx context.Context) {
	primaryPositions, err := c.primary.GetPositions(ctx)
	if err != nil {
		c.logger.Error("Rebalance position fetch failed", "venue", c.primary.GetName(), "error", err)
		c.killSwitch.RecordFailure(fmt.Sprintf("rebalance fetch: %v", err))
		return
	}
	hedgePositions, err := c.hedge.GetPositions(ctx)
	if err != nil {
		c.logger.Error("Rebalance position fetch failed", "venue", c.hedge.GetName(), "error", err)
		c.killSwitch.RecordFailure(fmt.Sprintf("rebalance fetch: %v", err))
		return
	}

	for _, symbol := range c.portfolio.OpenSymbols() {
		primaryPos := findPosition(primaryPositions, symbol)
		hedgePos := findPosition(hedgePositions, symbol)

		drift := execution.DetectDrift(symbol, primaryPos, hedgePos, c.driftBps)
		if drift == nil {
			continue
		}

		driftVal, _ := drift.DriftBps.Float64()
		telemetry.GetGlobalMetrics().SetDriftBps(symbol, driftVal)

		if !drift.NeedsRebalance {
			continue
		}

		c.rebalanceSymbol(ctx, symbol, drift)
	}
}

func (c *Controller) rebalanceSymbol(ctx context.Context, symbol string, drift *execution.PositionDrift) {
	sc := c.symbolContext(symbol)
	if err := sc.transition(StateRebalancing); err != nil {
		c.logger.Warn("Rebalance skipped", "symbol", symbol, "error", err)
		return
	}
	defer func() {
		if err := sc.transition(StateHedged); err != nil {
			c.logger.Error("Lifecycle violation after rebalance", "symbol", symbol, "error", err)
		}
	}()

	c.logger.Warn("Drift detected",
		"symbol", symbol, "drift_bps", drift.DriftBps, "drift_qty", drift.DriftQuantity)

	action := execution.PlanRebalance(drift)

	ticker, err := c.hedge.GetTicker(ctx, symbol)
	if err != nil {
		c.logger.Error("Rebalance ticker fetch failed", "symbol", symbol, "error", err)
		return
	}

	// Aggressive IOC limit: cross the mid by the slippage allowance
	factor := one.Add(c.slippageBps.Div(bpsFactor))
	price := ticker.Mid().Div(factor)
	if action.Side == core.SideBuy {
		price = ticker.Mid().Mul(factor)
	}

	result, err := execution.ExecuteRebalance(ctx, action, c.hedge, price)
	if err != nil {
		c.logger.Error("Rebalance failed, will retry next tick", "symbol", symbol, "error", err)
		return
	}

	if result.FilledSize.IsPositive() {
		// Reconcile the record against the observed hedge leg: the signed
		// position the drift was measured from, moved by the signed fill.
		// Works for long and short hedge legs alike.
		signedFill := result.FilledSize
		if action.Side == core.SideSell {
			signedFill = signedFill.Neg()
		}
		sc.record.HedgeFilled = drift.HedgeSigned.Add(signedFill).Abs()
		sc.record.IsBalanced = result.FilledSize.GreaterThanOrEqual(action.Quantity)
		c.persist()

		c.recordTrade(symbol, c.hedge.GetName(), action.Side, result.FilledSize, result.AverageFillPrice, false)
	}

	c.logger.Info("Rebalance executed",
		"symbol", symbol, "side", action.Side, "filled", result.FilledSize)
}

// persist flushes the open-position map before the tick completes for the
// mutated symbol. Restart replays exactly this map.
func (c *Controller) persist() {
	positions := make(map[string]core.PositionRecord)
	for symbol, sc := range c.states {
		if sc.state == StateHedged || sc.state == StateRebalancing || sc.state == StateExiting {
			positions[symbol] = sc.record
		}
	}
	if err := c.store.Save(positions); err != nil {
		c.logger.Error("Position persistence failed", "error", err)
	}
}

// forgetPosition clears every trace of a closed position and flushes
func (c *Controller) forgetPosition(ctx context.Context, symbol string) {
	c.portfolio.ClosePosition(symbol)
	delete(c.states, symbol)
	c.persist()
	telemetry.GetGlobalMetrics().SetOpenPositions(int64(c.portfolio.OpenCount()))
}

func (c *Controller) recordTrade(symbol, venue string, side core.Side, qty, price decimal.Decimal, isEntry bool) {
	fee := qty.Mul(price).Mul(takerFeeRate)
	if err := c.ledger.RecordTrade(symbol, venue, side, qty, price, fee, isEntry); err != nil {
		c.logger.Error("Ledger write failed", "symbol", symbol, "error", err)
	}
}

// recordRealized books the two-leg price PnL of a closed position
func (c *Controller) recordRealized(record core.PositionRecord, primaryPos, hedgePos core.VenuePosition, exitPrimaryPx, exitHedgePx decimal.Decimal) {
	primaryPnL := exitPrimaryPx.Sub(primaryPos.EntryPrice).Mul(primaryPos.SignedSize())
	hedgePnL := exitHedgePx.Sub(hedgePos.EntryPrice).Mul(hedgePos.SignedSize())
	if err := c.ledger.RecordRealized(primaryPnL.Add(hedgePnL)); err != nil {
		c.logger.Error("Ledger write failed", "symbol", record.Symbol, "error", err)
	}
}

func (c *Controller) findSpecs(ctx context.Context, symbol string) (core.SymbolSpec, core.SymbolSpec, error) {
	primarySpecs, err := c.primary.GetSymbols(ctx)
	if err != nil {
		return core.SymbolSpec{}, core.SymbolSpec{}, fmt.Errorf("primary symbols: %w", err)
	}
	hedgeSpecs, err := c.hedge.GetSymbols(ctx)
	if err != nil {
		return core.SymbolSpec{}, core.SymbolSpec{}, fmt.Errorf("hedge symbols: %w", err)
	}

	var primarySpec, hedgeSpec *core.SymbolSpec
	for i := range primarySpecs {
		if primarySpecs[i].Symbol == symbol {
			primarySpec = &primarySpecs[i]
			break
		}
	}
	for i := range hedgeSpecs {
		if hedgeSpecs[i].Symbol == symbol {
			hedgeSpec = &hedgeSpecs[i]
			break
		}
	}
	if primarySpec == nil || hedgeSpec == nil {
		return core.SymbolSpec{}, core.SymbolSpec{}, fmt.Errorf("symbol %s missing on a venue", symbol)
	}
	return *primarySpec, *hedgeSpec, nil
}

func (c *Controller) findPositions(ctx context.Context, symbol string) (*core.VenuePosition, *core.VenuePosition, error) {
	primaryPositions, err := c.primary.GetPositions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("primary positions: %w", err)
	}
	hedgePositions, err := c.hedge.GetPositions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("hedge positions: %w", err)
	}
	return findPosition(primaryPositions, symbol), findPosition(hedgePositions, symbol), nil
}

func findPosition(positions []core.VenuePosition, symbol string) *core.VenuePosition {
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i]
		}
	}
	return nil
}

// effectiveFills folds a makeup order's fill back into the leg it targeted
func effectiveFills(result execution.Result) (primary, hedge decimal.Decimal) {
	primary = result.Primary.FilledSize
	hedge = result.Hedge.FilledSize
	if result.Correction == nil {
		return primary, hedge
	}

	fill := result.Correction.FilledSize
	if result.Reconciliation.ReduceOnly {
		fill = fill.Neg()
	}
	if result.Reconciliation.Target == execution.LegPrimary {
		primary = primary.Add(fill)
	} else {
		hedge = hedge.Add(fill)
	}
	return primary, hedge
}

func orDefault(value, fallback decimal.Decimal) decimal.Decimal {
	if value.IsPositive() {
		return value
	}
	return fallback
}
