package worker

import (
	"context"
	"fmt"

	"github.com/YasinArafatAjad/BookWorld/internal/broker"
	"github.com/YasinArafatAjad/BookWorld/internal/models"
	"github.com/YasinArafatAjad/BookWorld/internal/service"
	"github.com/YasinArafatAjad/BookWorld/internal/util"

	"go.uber.org/zap"
)

// EventStore records processed event ids so a redelivered cancellation
// never restocks twice.
type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// RestockWorker consumes OrderCancelled events and re-increments the
// stock of the cancelled order's items.
type RestockWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	events   EventStore
	stock    *service.StockAdjuster
	logger   *zap.Logger
}

// NewRestockWorker creates a new restock worker
func NewRestockWorker(consumer *broker.Consumer, events EventStore, stock *service.StockAdjuster) *RestockWorker {
	w := &RestockWorker{
		consumer: consumer,
		events:   events,
		stock:    stock,
		logger:   util.GetLogger(),
	}

	handler := broker.NewEventHandler()
	handler.OnOrderCancelled(w.HandleOrderCancelled)
	w.handler = handler

	return w
}

// Start starts the worker
func (w *RestockWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting restock worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *RestockWorker) Stop() error {
	w.logger.Info("Stopping restock worker")
	return w.consumer.Close()
}

// HandleOrderCancelled restocks a cancelled order exactly once.
func (w *RestockWorker) HandleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	for _, item := range event.Items {
		if err := w.stock.Increment(ctx, item.BookID, item.Quantity); err != nil {
			return fmt.Errorf("failed to restock book %d: %w", item.BookID, err)
		}
	}

	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	util.OrdersRestockedTotal.Inc()
	w.logger.Info("Cancelled order restocked",
		zap.Int64("order_id", event.OrderID),
		zap.Int("items", len(event.Items)))
	return nil
}
