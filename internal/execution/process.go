package execution

import (
	"context"
	"errors"

	"execCore/internal/domain"
)

// Process applies one venue event. Events for unknown orders, terminal orders
// and invalid transitions are logged and dropped; nothing here panics on bad input.
func (e *Engine) Process(ctx context.Context, ev domain.Event) {
	if ev == nil {
		return
	}
	e.mu.Lock()
	e.stats.Events++
	e.mu.Unlock()

	switch ev := ev.(type) {
	case domain.AccountState:
		e.processAccountState(ctx, ev)
	case domain.OrderEvent:
		e.processOrderEvent(ctx, ev)
	default:
		e.drop(ctx, "Unsupported event type, dropping", map[string]interface{}{"event": ev.Kind()})
	}
	e.flushDeferred(ctx)
}

func (e *Engine) drop(ctx context.Context, msg string, fields map[string]interface{}) {
	e.mu.Lock()
	e.stats.Dropped++
	e.mu.Unlock()
	e.logger.Warn(ctx, msg, fields)
}

func (e *Engine) processOrderEvent(ctx context.Context, ev domain.OrderEvent) {
	h := ev.OrderHeader()
	fields := map[string]interface{}{"clientOrderId": h.ClientOrderID, "event": ev.Kind()}

	e.mu.Lock()
	order, ok := e.orders[h.ClientOrderID]
	if !ok {
		e.mu.Unlock()
		e.drop(ctx, "Event for unknown client order id, dropping", fields)
		return
	}
	if b := e.brackets[h.ClientOrderID]; b != nil && b.IsLeg(h.ClientOrderID) && b.State == domain.BracketPending {
		b.Hold(ev)
		e.mu.Unlock()
		fields["entry"] = b.Entry
		fields["held"] = b.Held()
		e.logger.Debug(ctx, "Holding contingent order event until entry resolves", fields)
		return
	}

	if err := order.Apply(ev); err != nil {
		e.mu.Unlock()
		e.rejectEvent(ctx, order, ev, err, fields)
		return
	}

	var changes []positionChange
	if fe, isFill := ev.(domain.FillEvent); isFill {
		changes = e.book.applyFill(order, fe.FillDetails(), h.Timestamp)
	}
	e.stats.Applied++
	snap := order.Snapshot()
	e.mu.Unlock()

	e.logger.Debug(ctx, "Order event applied", map[string]interface{}{
		"clientOrderId": snap.ClientOrderID,
		"event":         ev.Kind(),
		"status":        snap.Status,
		"cumQty":        snap.CumQty.String(),
		"leavesQty":     snap.LeavesQty.String(),
	})
	e.applied(ctx, snap, ev, changes)
	e.afterTransition(ctx, snap)
}

// rejectEvent classifies a failed apply. The order is unchanged in every case.
func (e *Engine) rejectEvent(ctx context.Context, order *domain.Order, ev domain.OrderEvent, err error, fields map[string]interface{}) {
	fields["error"] = err.Error()

	var integrity *domain.IntegrityError
	switch {
	case errors.Is(err, domain.ErrDuplicateExecution):
		e.mu.Lock()
		e.stats.Dropped++
		e.mu.Unlock()
		e.logger.Debug(ctx, "Duplicate execution ignored", fields)

	case errors.As(err, &integrity):
		e.mu.Lock()
		e.stats.Faults++
		e.mu.Unlock()
		e.logger.Error(ctx, err, "Data integrity fault, event not applied", fields)
		e.publish(ctx, domain.IntegrityFault{
			EventHeader:   domain.EventHeader{ID: e.ids.Generate(), Timestamp: e.clock.Now()},
			ClientOrderID: integrity.ClientOrderID,
			ExecutionID:   integrity.ExecutionID,
			Fault:         integrity.Kind,
			Reason:        integrity.Detail,
			Err:           err,
		})

	case errors.Is(err, domain.ErrOrderTerminal):
		e.drop(ctx, "Event for terminal order, dropping", fields)

	default:
		e.drop(ctx, "Invalid order state transition, dropping", fields)
	}
}

// afterTransition releases held bracket events and cancels contingent siblings.
func (e *Engine) afterTransition(ctx context.Context, o domain.Order) {
	if !o.Status.IsTerminal() {
		return
	}
	e.mu.Lock()
	b := e.brackets[o.ClientOrderID]
	if b == nil {
		e.mu.Unlock()
		return
	}

	if b.Entry == o.ClientOrderID {
		if b.State != domain.BracketPending {
			e.mu.Unlock()
			return
		}
		released := b.Resolve(o.Status)
		state := b.State
		sl, tp := b.StopLoss, b.TakeProfit
		e.mu.Unlock()

		e.logger.Info(ctx, "Bracket entry resolved", map[string]interface{}{"entry": o.ClientOrderID, "status": o.Status, "bracket": state, "released": len(released)})
		for _, ev := range released {
			e.processOrderEvent(ctx, ev)
		}
		if state == domain.BracketVoid {
			e.synthesizeCancel(ctx, sl, "bracket entry "+string(o.Status))
			e.synthesizeCancel(ctx, tp, "bracket entry "+string(o.Status))
		}
		return
	}

	sibling, isLeg := b.Sibling(o.ClientOrderID)
	e.mu.Unlock()
	if isLeg {
		e.synthesizeCancel(ctx, sibling, "one-cancels-other: "+string(o.ClientOrderID)+" "+string(o.Status))
	}
}

func (e *Engine) processAccountState(ctx context.Context, ev domain.AccountState) {
	e.mu.Lock()
	acc, ok := e.accounts[ev.AccountID]
	if !ok {
		if _, venueKnown := e.clients[ev.AccountID.Issuer]; !venueKnown {
			e.mu.Unlock()
			e.drop(ctx, "Account state for unregistered venue, dropping", map[string]interface{}{"account": ev.AccountID.String()})
			return
		}
		acc = domain.NewAccount(ev.AccountID)
		e.accounts[ev.AccountID] = acc
	}
	if err := acc.Apply(ev); err != nil {
		e.mu.Unlock()
		e.drop(ctx, "Account state not applied, dropping", map[string]interface{}{"account": ev.AccountID.String(), "error": err.Error()})
		return
	}
	e.stats.Applied++
	snap := acc.Snapshot()
	e.mu.Unlock()

	if e.repo != nil {
		if err := e.repo.SaveAccount(ctx, snap); err != nil {
			e.logger.Error(ctx, err, "Failed to persist account", map[string]interface{}{"account": snap.ID.String()})
		}
		e.journal(ctx, ev)
	}
	e.publish(ctx, ev)
}

// applied persists and publishes a successful order transition and its position changes.
func (e *Engine) applied(ctx context.Context, o domain.Order, ev domain.OrderEvent, changes []positionChange) {
	events := make([]domain.Event, 0, len(changes))
	for _, c := range changes {
		header := domain.EventHeader{ID: e.ids.Generate(), Timestamp: ev.OccurredAt()}
		switch c.kind {
		case domain.KindPositionOpened:
			events = append(events, domain.PositionOpened{EventHeader: header, Position: c.position})
		case domain.KindPositionClosed:
			events = append(events, domain.PositionClosed{EventHeader: header, Position: c.position})
		default:
			events = append(events, domain.PositionChanged{EventHeader: header, Position: c.position})
		}
	}

	if e.repo != nil {
		if err := e.repo.SaveOrder(ctx, o); err != nil {
			e.logger.Error(ctx, err, "Failed to persist order", map[string]interface{}{"clientOrderId": o.ClientOrderID})
		}
		e.journal(ctx, ev)
		for _, c := range changes {
			if err := e.repo.SavePosition(ctx, c.position); err != nil {
				e.logger.Error(ctx, err, "Failed to persist position", map[string]interface{}{"positionId": c.position.ID})
			}
		}
	}

	e.publish(ctx, ev)
	for _, pev := range events {
		e.publish(ctx, pev)
	}
}

func (e *Engine) journal(ctx context.Context, ev domain.Event) {
	if err := e.repo.AppendEvent(ctx, ev); err != nil {
		e.logger.Error(ctx, err, "Failed to journal event", map[string]interface{}{"event": ev.Kind()})
		return
	}
	e.mu.Lock()
	e.stats.Persisted++
	e.mu.Unlock()
}

// publish delivers ev to every subscriber in registration order.
func (e *Engine) publish(ctx context.Context, ev domain.Event) {
	e.publishing++
	defer func() { e.publishing-- }()
	for _, s := range e.subscribers {
		s.OnEvent(ctx, ev)
	}
}
