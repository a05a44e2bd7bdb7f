package execution

import (
	"context"
	"fmt"

	"execCore/internal/domain"
	"execCore/internal/ports"
)

// Execute validates cmd against engine state, dispatches it to the venue client
// and applies the engine-side transition (Submitted, PendingModify, PendingCancel).
// A failed precondition returns an error without contacting the venue.
// Commands executed while the engine is publishing run after the publish completes.
func (e *Engine) Execute(ctx context.Context, cmd domain.Command) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil command", ports.ErrInvalidCommand)
	}
	if e.publishing > 0 {
		e.deferred = append(e.deferred, deferredCommand{cmd: cmd, description: "subscriber"})
		e.mu.Lock()
		e.stats.Deferred++
		e.mu.Unlock()
		return nil
	}

	err := e.execute(ctx, cmd)
	e.flushDeferred(ctx)
	return err
}

func (e *Engine) execute(ctx context.Context, cmd domain.Command) error {
	e.mu.Lock()
	e.stats.Commands++
	client, ok := e.clients[cmd.TargetVenue()]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrUnknownVenue, cmd.TargetVenue())
	}

	switch c := cmd.(type) {
	case domain.SubmitOrder:
		return e.submitOrder(ctx, client, c)
	case domain.SubmitBracketOrder:
		return e.submitBracketOrder(ctx, client, c)
	case domain.ModifyOrder:
		return e.modifyOrder(ctx, client, c)
	case domain.CancelOrder:
		return e.cancelOrder(ctx, client, c)
	default:
		return fmt.Errorf("%w: unsupported command %T", ports.ErrInvalidCommand, cmd)
	}
}

func (e *Engine) orderHeader(o *domain.Order, responseTo domain.Command) domain.OrderEventHeader {
	return domain.OrderEventHeader{
		ID:            e.ids.Generate(),
		ClientOrderID: o.ClientOrderID,
		OrderID:       o.OrderID,
		AccountID:     o.AccountID,
		ResponseTo:    responseTo.CommandID(),
		Timestamp:     e.clock.Now(),
	}
}

func (e *Engine) checkNewOrder(ctx context.Context, client ports.ExecutionClient, venue domain.Venue, account domain.AccountID, spec domain.OrderSpec) error {
	if account != client.AccountID() {
		return fmt.Errorf("%w: account %s is not traded on %s (client account %s)", ports.ErrInvalidCommand, account, venue, client.AccountID())
	}
	if spec.InstrumentID.Venue != venue {
		return fmt.Errorf("%w: instrument %s routed to %s", ports.ErrVenueMismatch, spec.InstrumentID, venue)
	}
	e.mu.RLock()
	_, exists := e.orders[spec.ClientOrderID]
	e.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ports.ErrDuplicateOrder, spec.ClientOrderID)
	}
	return nil
}

func (e *Engine) preTradeCheck(ctx context.Context, orders ...*domain.Order) error {
	if e.risk == nil {
		return nil
	}
	e.mu.RLock()
	open := e.orderSnapshots(func(o *domain.Order) bool { return o.Status.IsOpen() && o.AccountID == orders[0].AccountID })
	e.mu.RUnlock()
	for _, o := range orders {
		snap := o.Snapshot()
		if err := e.risk.CheckOrder(ctx, snap, open); err != nil {
			return fmt.Errorf("%w: order %s: %w", ports.ErrRejectedByRisk, o.ClientOrderID, err)
		}
		open = append(open, snap)
	}
	return nil
}

func (e *Engine) submitOrder(ctx context.Context, client ports.ExecutionClient, cmd domain.SubmitOrder) error {
	if err := cmd.OrderSpec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrInvalidCommand, err)
	}
	if err := e.checkNewOrder(ctx, client, cmd.Venue, cmd.AccountID, cmd.OrderSpec); err != nil {
		return err
	}
	order := domain.NewOrder(cmd.CommandHeader, cmd.Venue, cmd.AccountID, cmd.OrderSpec)
	if err := e.preTradeCheck(ctx, order); err != nil {
		e.logger.Warn(ctx, "Order blocked by pre-trade check", map[string]interface{}{"clientOrderId": order.ClientOrderID, "error": err.Error()})
		return err
	}
	if !client.IsConnected() {
		return fmt.Errorf("submit %s: %w", order.ClientOrderID, ports.ErrNotConnected)
	}

	if err := client.SubmitOrder(ctx, cmd); err != nil {
		return fmt.Errorf("submit %s to %s: %w", order.ClientOrderID, cmd.Venue, err)
	}

	ev := domain.OrderSubmitted{OrderEventHeader: e.orderHeader(order, cmd)}
	e.mu.Lock()
	e.orders[order.ClientOrderID] = order
	err := order.Apply(ev)
	snap := order.Snapshot()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"clientOrderId": order.ClientOrderID,
		"instrument":    order.InstrumentID.String(),
		"side":          order.Side,
		"type":          order.Type,
		"quantity":      order.Quantity.String(),
	})
	e.applied(ctx, snap, ev, nil)
	return nil
}

func (e *Engine) submitBracketOrder(ctx context.Context, client ports.ExecutionClient, cmd domain.SubmitBracketOrder) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrInvalidCommand, err)
	}
	for _, leg := range cmd.Legs() {
		if err := e.checkNewOrder(ctx, client, cmd.Venue, cmd.AccountID, leg); err != nil {
			return err
		}
	}
	bracket, legs := domain.NewBracketOrder(cmd)
	if err := e.preTradeCheck(ctx, legs[:]...); err != nil {
		e.logger.Warn(ctx, "Bracket blocked by pre-trade check", map[string]interface{}{"entry": bracket.Entry, "error": err.Error()})
		return err
	}
	if !client.IsConnected() {
		return fmt.Errorf("submit bracket %s: %w", bracket.Entry, ports.ErrNotConnected)
	}

	if err := client.SubmitBracketOrder(ctx, cmd); err != nil {
		return fmt.Errorf("submit bracket %s to %s: %w", bracket.Entry, cmd.Venue, err)
	}

	var events [3]domain.OrderSubmitted
	var snaps [3]domain.Order
	e.mu.Lock()
	for i, o := range legs {
		events[i] = domain.OrderSubmitted{OrderEventHeader: e.orderHeader(o, cmd)}
		e.orders[o.ClientOrderID] = o
		e.brackets[o.ClientOrderID] = bracket
		if err := o.Apply(events[i]); err != nil {
			e.mu.Unlock()
			return err
		}
		snaps[i] = o.Snapshot()
	}
	e.mu.Unlock()

	e.logger.Info(ctx, "Bracket order submitted", map[string]interface{}{
		"entry":      bracket.Entry,
		"stopLoss":   bracket.StopLoss,
		"takeProfit": bracket.TakeProfit,
		"instrument": cmd.Entry.InstrumentID.String(),
	})
	for i := range legs {
		e.applied(ctx, snaps[i], events[i], nil)
	}
	return nil
}

// lookupForAmend finds the target of a modify or cancel and checks it can take the pending transition.
func (e *Engine) lookupForAmend(venue domain.Venue, id domain.ClientOrderID, pending domain.OrderEvent) (*domain.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownOrder, id)
	}
	if o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrOrderTerminal, id, o.Status)
	}
	if o.Venue != venue {
		return nil, fmt.Errorf("%w: order %s is on %s, command routed to %s", ports.ErrVenueMismatch, id, o.Venue, venue)
	}
	trial := o.Snapshot()
	if err := trial.Apply(pending); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrInvalidCommand, err)
	}
	return o, nil
}

func (e *Engine) modifyOrder(ctx context.Context, client ports.ExecutionClient, cmd domain.ModifyOrder) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrInvalidCommand, err)
	}
	header := domain.OrderEventHeader{ID: e.ids.Generate(), ClientOrderID: cmd.ClientOrderID, ResponseTo: cmd.ID, Timestamp: e.clock.Now()}
	order, err := e.lookupForAmend(cmd.Venue, cmd.ClientOrderID, domain.OrderPendingModify{OrderEventHeader: header})
	if err != nil {
		return err
	}

	e.mu.RLock()
	cmd.InstrumentID = order.InstrumentID
	cmd.OrderID = order.OrderID
	cmd.Side = order.Side
	if !cmd.Quantity.Valid {
		cmd.Quantity.Decimal, cmd.Quantity.Valid = order.Quantity, true
	}
	if !cmd.Price.Valid && order.Price.Valid {
		cmd.Price = order.Price
	}
	cumQty := order.CumQty
	e.mu.RUnlock()
	if cmd.Quantity.Decimal.LessThan(cumQty) {
		return fmt.Errorf("%w: modify of %s to %s below filled %s", ports.ErrInvalidCommand, cmd.ClientOrderID, cmd.Quantity.Decimal, cumQty)
	}
	if !client.IsConnected() {
		return fmt.Errorf("modify %s: %w", cmd.ClientOrderID, ports.ErrNotConnected)
	}

	if err := client.ModifyOrder(ctx, cmd); err != nil {
		return fmt.Errorf("modify %s on %s: %w", cmd.ClientOrderID, cmd.Venue, err)
	}
	return e.applyPending(ctx, order, func(h domain.OrderEventHeader) domain.OrderEvent {
		return domain.OrderPendingModify{OrderEventHeader: h}
	}, cmd)
}

func (e *Engine) cancelOrder(ctx context.Context, client ports.ExecutionClient, cmd domain.CancelOrder) error {
	header := domain.OrderEventHeader{ID: e.ids.Generate(), ClientOrderID: cmd.ClientOrderID, ResponseTo: cmd.ID, Timestamp: e.clock.Now()}
	order, err := e.lookupForAmend(cmd.Venue, cmd.ClientOrderID, domain.OrderPendingCancel{OrderEventHeader: header})
	if err != nil {
		return err
	}

	e.mu.RLock()
	cmd.InstrumentID = order.InstrumentID
	cmd.OrderID = order.OrderID
	e.mu.RUnlock()
	if !client.IsConnected() {
		return fmt.Errorf("cancel %s: %w", cmd.ClientOrderID, ports.ErrNotConnected)
	}

	if err := client.CancelOrder(ctx, cmd); err != nil {
		return fmt.Errorf("cancel %s on %s: %w", cmd.ClientOrderID, cmd.Venue, err)
	}
	return e.applyPending(ctx, order, func(h domain.OrderEventHeader) domain.OrderEvent {
		return domain.OrderPendingCancel{OrderEventHeader: h}
	}, cmd)
}

func (e *Engine) applyPending(ctx context.Context, order *domain.Order, build func(domain.OrderEventHeader) domain.OrderEvent, cmd domain.Command) error {
	e.mu.Lock()
	ev := build(e.orderHeader(order, cmd))
	err := order.Apply(ev)
	snap := order.Snapshot()
	e.mu.Unlock()
	if err != nil {
		// the order moved between the precondition and the dispatch
		e.logger.Warn(ctx, "Pending transition not applied", map[string]interface{}{"clientOrderId": order.ClientOrderID, "event": ev.Kind(), "error": err.Error()})
		return nil
	}
	e.logger.Debug(ctx, "Order command dispatched", map[string]interface{}{"clientOrderId": order.ClientOrderID, "event": ev.Kind()})
	e.applied(ctx, snap, ev, nil)
	return nil
}

// flushDeferred runs commands collected during publishing, including commands
// they in turn defer.
func (e *Engine) flushDeferred(ctx context.Context) {
	if e.publishing > 0 {
		return
	}
	for len(e.deferred) > 0 {
		d := e.deferred[0]
		e.deferred = e.deferred[1:]

		if d.contingent && !e.contingentCancelNeeded(d.cmd) {
			continue
		}
		if err := e.execute(ctx, d.cmd); err != nil {
			e.logger.Error(ctx, err, "Deferred command failed", map[string]interface{}{"source": d.description, "command": fmt.Sprintf("%T", d.cmd)})
		}
	}
}

// contingentCancelNeeded reports whether a synthesized cancel still has an open target.
func (e *Engine) contingentCancelNeeded(cmd domain.Command) bool {
	c, ok := cmd.(domain.CancelOrder)
	if !ok {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[c.ClientOrderID]
	return ok && o.Status.IsOpen() && o.Status != domain.StatusPendingCancel
}

// synthesizeCancel queues a cancel issued by the engine itself for a bracket leg.
func (e *Engine) synthesizeCancel(ctx context.Context, id domain.ClientOrderID, reason string) {
	e.mu.RLock()
	o, ok := e.orders[id]
	var venue domain.Venue
	var strategy domain.StrategyID
	if ok {
		venue, strategy = o.Venue, o.StrategyID
	}
	e.mu.RUnlock()
	if !ok {
		return
	}
	cmd := domain.CancelOrder{
		CommandHeader: domain.CommandHeader{ID: e.ids.Generate(), TraderID: e.traderID, StrategyID: strategy, Timestamp: e.clock.Now()},
		Venue:         venue,
		ClientOrderID: id,
	}
	e.logger.Info(ctx, "Cancelling contingent order", map[string]interface{}{"clientOrderId": id, "reason": reason})
	e.deferred = append(e.deferred, deferredCommand{cmd: cmd, contingent: true, description: reason})
}
