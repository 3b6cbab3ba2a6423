package main

import (
	"context"
	"log/slog"
	"time"

	"swapnet/core/events"
	"swapnet/core/types"
	"swapnet/observability/metrics"
)

// historyEmitter receives engine events and fans them out to the sqlite event
// history and the swap metrics. Persistence failures are logged, never
// propagated: the ledger transition has already committed.
type historyEmitter struct {
	store  *Store
	logger *slog.Logger
	nowFn  func() time.Time
}

func newHistoryEmitter(store *Store, logger *slog.Logger) *historyEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &historyEmitter{store: store, logger: logger, nowFn: time.Now}
}

type eventPayload interface {
	Event() *types.Event
}

func (h *historyEmitter) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	h.observe(evt)
	payload, ok := evt.(eventPayload)
	if !ok || h.store == nil {
		return
	}
	structured := payload.Event()
	if structured == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.InsertEvent(ctx, structured.Type, structured.Attributes, h.nowFn().UTC()); err != nil {
		h.logger.Error("persist event", "type", structured.Type, "error", err)
	}
}

func (h *historyEmitter) observe(evt events.Event) {
	switch e := evt.(type) {
	case events.EscrowCreated:
		metrics.Swap().ObserveEscrowCreated(e.Side)
	case events.EscrowClaimed:
		metrics.Swap().ObserveEscrowSettled(e.Side, "claim")
	case events.EscrowRefunded:
		metrics.Swap().ObserveEscrowSettled(e.Side, "refund")
	case events.EscrowSlashed:
		metrics.Swap().ObserveEscrowSettled(e.Side, "slash")
	case events.OrderCreated:
		metrics.Swap().ObserveOrderTransition("create")
	case events.OrderResolved:
		metrics.Swap().ObserveOrderTransition("resolve")
	case events.OrderCancelled:
		metrics.Swap().ObserveOrderTransition("cancel")
	}
}
