package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/queue/memqueue"
	"github.com/vladislavdragonenkov/printme/internal/service/orderstate"
	"github.com/vladislavdragonenkov/printme/internal/service/payment"
	"github.com/vladislavdragonenkov/printme/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	queue    *memqueue.Queue
	provider *payment.MockProvider
	handler  *payment.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore(memory.WithVariants(
		domain.Variant{ID: "tee", ProductID: "p-tee", ProductActive: true, PriceMinor: 500, Stock: 10},
		domain.Variant{ID: "mug", ProductID: "p-mug", ProductActive: true, PriceMinor: 300, Stock: 1},
	))
	queue := memqueue.New()
	provider := payment.NewMockProvider()
	handler := payment.NewHandler(store, orderstate.NewChanger(store), store.Stock(), queue,
		payment.WithIntentProvider(provider))
	return &fixture{store: store, queue: queue, provider: provider, handler: handler}
}

func (f *fixture) seedOrder(t *testing.T, status domain.OrderStatus) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:             "order-1",
		UserID:         "user-1",
		Status:         status,
		TotalMinor:     2*500 + 300,
		IdempotencyKey: "key-1",
		Contact:        domain.Contact{Email: "buyer@example.com"},
		Items: []domain.OrderItem{
			{ID: "item-tee", OrderID: "order-1", VariantID: "tee", Quantity: 2, UnitPriceMinor: 500,
				Design: json.RawMessage(`{"front":"cat.png"}`), CreatedAt: now},
			{ID: "item-mug", OrderID: "order-1", VariantID: "mug", Quantity: 1, UnitPriceMinor: 300, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.Orders().Create(context.Background(), order))
	return order
}

func (f *fixture) drain(t *testing.T) []domain.Job {
	t.Helper()

	var jobs []domain.Job
	for {
		job, ok, err := f.queue.Poll(context.Background())
		require.NoError(t, err)
		if !ok {
			return jobs
		}
		jobs = append(jobs, job)
	}
}

func TestOnPaymentConfirmed_PaysDecrementsAndEnqueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusPending)

	outcome, err := f.handler.OnPaymentConfirmed(ctx, "order-1", "pi_123")
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeProcessed, outcome)

	order, err := f.store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, order.Status)
	require.Equal(t, "pi_123", order.PaymentReference)

	tee, err := f.store.Stock().Get(ctx, "tee")
	require.NoError(t, err)
	require.Equal(t, int32(8), tee.Stock)
	mug, err := f.store.Stock().Get(ctx, "mug")
	require.NoError(t, err)
	require.Equal(t, int32(0), mug.Stock)

	jobs := f.drain(t)
	require.Len(t, jobs, 2)

	require.Equal(t, domain.JobRenderPrint, jobs[0].Type)
	var render domain.RenderPrintPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &render))
	require.Equal(t, "item-tee", render.OrderItemID)
	require.JSONEq(t, `{"front":"cat.png"}`, string(render.Design))

	require.Equal(t, domain.JobSendNotification, jobs[1].Type)
	var note domain.NotificationPayload
	require.NoError(t, json.Unmarshal(jobs[1].Payload, &note))
	require.Equal(t, domain.NotificationOrderConfirmed, note.Kind)
	require.Equal(t, "buyer@example.com", note.Recipient.Email)
}

func TestOnPaymentConfirmed_EmptyObjectDesignIsRendered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()
	require.NoError(t, f.store.Orders().Create(ctx, domain.Order{
		ID:             "order-blank",
		UserID:         "user-1",
		Status:         domain.OrderStatusPending,
		TotalMinor:     500,
		IdempotencyKey: "key-blank",
		Contact:        domain.Contact{Email: "buyer@example.com"},
		Items: []domain.OrderItem{
			{ID: "item-blank", OrderID: "order-blank", VariantID: "tee", Quantity: 1, UnitPriceMinor: 500,
				Design: json.RawMessage(`{}`), CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	outcome, err := f.handler.OnPaymentConfirmed(ctx, "order-blank", "pi_blank")
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeProcessed, outcome)

	jobs := f.drain(t)
	require.Len(t, jobs, 2)
	require.Equal(t, domain.JobRenderPrint, jobs[0].Type)
	var render domain.RenderPrintPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &render))
	require.Equal(t, "item-blank", render.OrderItemID)
	require.JSONEq(t, `{}`, string(render.Design))
}

// cancellingLedger отменяет ctx вызывающей стороны при первом списании.
type cancellingLedger struct {
	domain.StockLedger
	cancel context.CancelFunc
}

func (l *cancellingLedger) Decrement(ctx context.Context, variantID string, qty int32) error {
	l.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.StockLedger.Decrement(ctx, variantID, qty)
}

type ctxCheckingQueue struct {
	*memqueue.Queue
}

func (q ctxCheckingQueue) Enqueue(ctx context.Context, jobType domain.JobType, payload any, opts ...domain.EnqueueOption) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}
	return q.Queue.Enqueue(ctx, jobType, payload, opts...)
}

func TestOnPaymentConfirmed_CallerCancellationAfterCommitStillFulfils(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusPending)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := payment.NewHandler(f.store, orderstate.NewChanger(f.store),
		&cancellingLedger{StockLedger: f.store.Stock(), cancel: cancel}, ctxCheckingQueue{Queue: f.queue})

	outcome, err := handler.OnPaymentConfirmed(ctx, "order-1", "pi_hangup")
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeProcessed, outcome)
	require.Error(t, ctx.Err())

	background := context.Background()
	tee, err := f.store.Stock().Get(background, "tee")
	require.NoError(t, err)
	require.Equal(t, int32(8), tee.Stock)
	mug, err := f.store.Stock().Get(background, "mug")
	require.NoError(t, err)
	require.Equal(t, int32(0), mug.Stock)
	require.Len(t, f.drain(t), 2)
}

func TestOnPaymentConfirmed_RedeliveryIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusPending)

	_, err := f.handler.OnPaymentConfirmed(ctx, "order-1", "pi_123")
	require.NoError(t, err)
	f.drain(t)

	outcome, err := f.handler.OnPaymentConfirmed(ctx, "order-1", "pi_123")
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeIgnored, outcome)
	require.Empty(t, f.drain(t))

	tee, err := f.store.Stock().Get(ctx, "tee")
	require.NoError(t, err)
	require.Equal(t, int32(8), tee.Stock)
}

func TestOnPaymentConfirmed_IgnoredForShippedOrder(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusShipped)

	outcome, err := f.handler.OnPaymentConfirmed(context.Background(), "order-1", "pi_late")
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeIgnored, outcome)
	require.Empty(t, f.drain(t))
}

func TestOnPaymentConfirmed_CancelledOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusCancelled)

	_, err := f.handler.OnPaymentConfirmed(context.Background(), "order-1", "pi_123")
	require.ErrorIs(t, err, domain.KindInvalidTransition)
	require.Empty(t, f.drain(t))
}

func TestOnPaymentConfirmed_StockShortageKeepsOrderPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusPending)
	f.store.Upsert(domain.Variant{ID: "mug", ProductID: "p-mug", ProductActive: true, PriceMinor: 300, Stock: 0})

	outcome, err := f.handler.OnPaymentConfirmed(ctx, "order-1", "pi_123")
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeProcessed, outcome)

	order, err := f.store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, order.Status)
	require.Len(t, f.drain(t), 2)
}

func TestOnPaymentConfirmed_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.handler.OnPaymentConfirmed(context.Background(), "missing", "pi_123")
	require.ErrorIs(t, err, domain.KindNotFound)
}

func TestOnPaymentFailed_RecordsTimelineOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusPending)

	require.NoError(t, f.handler.HandleEvent(ctx, domain.PaymentEvent{OrderID: "order-1", Outcome: domain.PaymentFailed}))

	order, err := f.store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)

	events, err := f.store.Timeline().List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.TimelinePaymentFailed, events[0].Type)
	require.Empty(t, f.drain(t))
}

func TestHandleEvent_RejectsInvalidEvent(t *testing.T) {
	f := newFixture(t)

	err := f.handler.HandleEvent(context.Background(), domain.PaymentEvent{Outcome: domain.PaymentSucceeded})
	require.ErrorIs(t, err, domain.KindValidation)
}

func TestCreateIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and persists reference", func(t *testing.T) {
		f := newFixture(t)
		f.seedOrder(t, domain.OrderStatusPending)

		intent, err := f.handler.CreateIntent(ctx, "user-1", "order-1")
		require.NoError(t, err)
		require.Contains(t, intent.ID, "pi_mock_")
		require.Equal(t, intent.ID+"_secret_mock", intent.ClientSecret)
		require.Equal(t, int64(1300), f.provider.Calls[0].AmountMinor)
		require.Equal(t, payment.DefaultCurrency, f.provider.Calls[0].Currency)

		order, err := f.store.Orders().Get(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, intent.ID, order.PaymentReference)
		require.Equal(t, domain.OrderStatusPending, order.Status)

		again, err := f.handler.CreateIntent(ctx, "user-1", "order-1")
		require.NoError(t, err)
		require.Equal(t, intent.ID, again.ID)
		require.Equal(t, 1, f.provider.CallCount())
	})

	t.Run("foreign order looks missing", func(t *testing.T) {
		f := newFixture(t)
		f.seedOrder(t, domain.OrderStatusPending)

		_, err := f.handler.CreateIntent(ctx, "user-2", "order-1")
		require.ErrorIs(t, err, domain.KindNotFound)
	})

	t.Run("paid order is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.seedOrder(t, domain.OrderStatusPaid)

		_, err := f.handler.CreateIntent(ctx, "user-1", "order-1")
		require.ErrorIs(t, err, domain.KindValidation)
		require.Zero(t, f.provider.CallCount())
	})

	t.Run("provider failure", func(t *testing.T) {
		f := newFixture(t)
		f.seedOrder(t, domain.OrderStatusPending)
		f.provider.Err = errors.New("processor down")

		_, err := f.handler.CreateIntent(ctx, "user-1", "order-1")
		require.Error(t, err)

		order, err := f.store.Orders().Get(ctx, "order-1")
		require.NoError(t, err)
		require.Empty(t, order.PaymentReference)
	})
}
