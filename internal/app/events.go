package app

import (
	"context"

	"execCore/internal/domain"
	"execCore/internal/ports"
)

// eventLogger writes every published event to the log, one line per event.
type eventLogger struct {
	logger ports.Logger
}

var _ ports.Subscriber = (*eventLogger)(nil)

func newEventLogger(logger ports.Logger) *eventLogger {
	return &eventLogger{logger: logger}
}

func (l *eventLogger) OnEvent(ctx context.Context, ev domain.Event) {
	msg := string(ev.Kind())
	fields := eventFields(ev)

	switch e := ev.(type) {
	case domain.IntegrityFault:
		if e.Err != nil {
			l.logger.Error(ctx, e.Err, msg, fields)
			return
		}
		l.logger.Warn(ctx, msg, fields)
	case domain.OrderRejected, domain.OrderCancelRejected, domain.OrderModifyRejected:
		l.logger.Warn(ctx, msg, fields)
	case domain.OrderSubmitted, domain.OrderPendingCancel, domain.OrderPendingModify, domain.AccountState:
		l.logger.Debug(ctx, msg, fields)
	default:
		l.logger.Info(ctx, msg, fields)
	}
}

func eventFields(ev domain.Event) map[string]interface{} {
	fields := map[string]interface{}{"eventID": ev.EventID().String()}

	if oe, ok := ev.(domain.OrderEvent); ok {
		h := oe.OrderHeader()
		fields["clientOrderID"] = h.ClientOrderID
		fields["account"] = h.AccountID.String()
		if h.OrderID != "" {
			fields["orderID"] = h.OrderID
		}
	}
	if fe, ok := ev.(domain.FillEvent); ok {
		f := fe.FillDetails()
		fields["executionID"] = f.ExecutionID
		fields["fillQty"] = f.FillQty.String()
		fields["fillPrice"] = f.FillPrice.String()
		fields["liquidity"] = f.LiquiditySide
	}

	switch e := ev.(type) {
	case domain.OrderRejected:
		fields["reason"] = e.Reason
	case domain.OrderCancelRejected:
		fields["reason"] = e.Reason
	case domain.OrderModifyRejected:
		fields["reason"] = e.Reason
	case domain.AccountState:
		fields["account"] = e.AccountID.String()
		fields["balances"] = len(e.Balances)
		fields["reported"] = e.Reported
	case domain.PositionOpened:
		addPositionFields(fields, e.Position)
	case domain.PositionChanged:
		addPositionFields(fields, e.Position)
	case domain.PositionClosed:
		addPositionFields(fields, e.Position)
	case domain.IntegrityFault:
		fields["clientOrderID"] = e.ClientOrderID
		fields["fault"] = e.Fault
		fields["reason"] = e.Reason
		if e.ExecutionID != "" {
			fields["executionID"] = e.ExecutionID
		}
	}
	return fields
}

func addPositionFields(fields map[string]interface{}, p domain.Position) {
	fields["positionID"] = p.ID
	fields["instrument"] = p.InstrumentID.Symbol
	fields["side"] = p.Side
	fields["netQty"] = p.NetQty.String()
	fields["realizedPnL"] = p.RealizedPnL.String()
}
