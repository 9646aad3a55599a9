package crdb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/ticketrush/orderflow/internal/adapters/crdb"
	"github.com/ticketrush/orderflow/internal/domain"
)

// startPool spins up a single-node CockroachDB and applies the schema.
func startPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+host+":"+port.Port()+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := crdb.EnsureSchema(ctx, pool); err != nil {
		t.Fatal(err)
	}
	return pool
}

func seedCounter(t *testing.T, repo *crdb.Repository, capacity int) uuid.UUID {
	t.Helper()
	tc := domain.TicketClass{ID: uuid.New(), EventID: uuid.New(), Capacity: capacity}
	if err := repo.CreateCounter(context.Background(), tc); err != nil {
		t.Fatal(err)
	}
	return tc.ID
}

func TestRepository_Inventory(t *testing.T) {
	ctx := context.Background()
	repo := crdb.NewRepository(startPool(t))

	t.Run("reserve within capacity", func(t *testing.T) {
		classID := seedCounter(t, repo, 10)
		if err := repo.Reserve(ctx, classID, 4); err != nil {
			t.Fatal(err)
		}
		c, err := repo.Counter(ctx, classID)
		if err != nil {
			t.Fatal(err)
		}
		if c.Reserved != 4 || c.Available() != 6 {
			t.Fatalf("unexpected counter: %+v", c)
		}
	})

	t.Run("reserve past capacity is rejected", func(t *testing.T) {
		classID := seedCounter(t, repo, 3)
		if err := repo.Reserve(ctx, classID, 4); !errors.Is(err, domain.ErrInsufficientInventory) {
			t.Fatalf("expected ErrInsufficientInventory, got %v", err)
		}
		c, _ := repo.Counter(ctx, classID)
		if c.Reserved != 0 {
			t.Fatalf("rejected reserve must not change the counter, got %+v", c)
		}
	})

	t.Run("unknown counter is NotFound", func(t *testing.T) {
		if err := repo.Reserve(ctx, uuid.New(), 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("release underflow is an invariant violation", func(t *testing.T) {
		classID := seedCounter(t, repo, 5)
		if err := repo.Release(ctx, classID, 1); !errors.Is(err, domain.ErrInvariantViolation) {
			t.Fatalf("expected ErrInvariantViolation, got %v", err)
		}
	})

	t.Run("confirm moves reserved to sold", func(t *testing.T) {
		classID := seedCounter(t, repo, 5)
		if err := repo.Reserve(ctx, classID, 2); err != nil {
			t.Fatal(err)
		}
		if err := repo.Confirm(ctx, classID, 2); err != nil {
			t.Fatal(err)
		}
		c, _ := repo.Counter(ctx, classID)
		if c.Sold != 2 || c.Reserved != 0 {
			t.Fatalf("expected sold=2 reserved=0, got %+v", c)
		}
	})

	t.Run("concurrent reserves never oversell", func(t *testing.T) {
		classID := seedCounter(t, repo, 5)

		var wg sync.WaitGroup
		results := make([]error, 20)
		for i := 0; i < 20; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = repo.Reserve(ctx, classID, 1)
			}()
		}
		wg.Wait()

		var wins int
		for _, err := range results {
			if err == nil {
				wins++
			} else if !errors.Is(err, domain.ErrInsufficientInventory) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if wins != 5 {
			t.Fatalf("expected exactly 5 winners, got %d", wins)
		}
		c, _ := repo.Counter(ctx, classID)
		if c.Reserved != 5 {
			t.Fatalf("expected reserved=5, got %+v", c)
		}
	})
}

func TestRepository_Reservations(t *testing.T) {
	ctx := context.Background()
	repo := crdb.NewRepository(startPool(t))
	now := time.Now().UTC()

	t.Run("transition is a status CAS", func(t *testing.T) {
		res := domain.NewReservation(uuid.New(), uuid.New(), 2, now, 10*time.Minute)
		if err := repo.CreateReservation(ctx, res); err != nil {
			t.Fatal(err)
		}

		if err := repo.TransitionReservation(ctx, res.ID, domain.ReservationConfirmed); err != nil {
			t.Fatal(err)
		}
		if err := repo.TransitionReservation(ctx, res.ID, domain.ReservationExpired); !errors.Is(err, domain.ErrAlreadyTerminal) {
			t.Fatalf("second transition must lose, got %v", err)
		}
		got, err := repo.GetReservation(ctx, res.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.ReservationConfirmed {
			t.Fatalf("first transition must stand, got %s", got.Status)
		}
	})

	t.Run("missing reservation is NotFound", func(t *testing.T) {
		if err := repo.TransitionReservation(ctx, uuid.New(), domain.ReservationReleased); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("expired scan returns only lapsed active holds", func(t *testing.T) {
		orderID := uuid.New()
		lapsed := domain.NewReservation(orderID, uuid.New(), 1, now.Add(-time.Hour), time.Minute)
		fresh := domain.NewReservation(orderID, uuid.New(), 1, now, time.Hour)
		released := domain.NewReservation(orderID, uuid.New(), 1, now.Add(-time.Hour), time.Minute)
		for _, res := range []domain.Reservation{lapsed, fresh, released} {
			if err := repo.CreateReservation(ctx, res); err != nil {
				t.Fatal(err)
			}
		}
		if err := repo.TransitionReservation(ctx, released.ID, domain.ReservationReleased); err != nil {
			t.Fatal(err)
		}

		got, err := repo.ExpiredReservations(ctx, now, 100)
		if err != nil {
			t.Fatal(err)
		}
		ids := map[uuid.UUID]bool{}
		for _, res := range got {
			ids[res.ID] = true
		}
		if !ids[lapsed.ID] {
			t.Fatal("lapsed active hold must be returned")
		}
		if ids[fresh.ID] || ids[released.ID] {
			t.Fatalf("fresh or terminal holds must not be returned: %v", ids)
		}
	})

	t.Run("extend moves the deadline while active", func(t *testing.T) {
		res := domain.NewReservation(uuid.New(), uuid.New(), 1, now, time.Minute)
		if err := repo.CreateReservation(ctx, res); err != nil {
			t.Fatal(err)
		}
		deadline := now.Add(time.Hour)
		if err := repo.ExtendReservation(ctx, res.ID, deadline); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.GetReservation(ctx, res.ID)
		if !got.ExpiresAt.Equal(deadline) {
			t.Fatalf("expected deadline %v, got %v", deadline, got.ExpiresAt)
		}
	})
}

func TestRepository_Orders(t *testing.T) {
	ctx := context.Background()
	repo := crdb.NewRepository(startPool(t))
	now := time.Now().UTC()

	newStoredOrder := func(t *testing.T) domain.Order {
		t.Helper()
		o := domain.NewOrder(uuid.New(), []domain.OrderLine{
			{TicketClassID: uuid.New(), Quantity: 2, UnitPrice: 50},
			{TicketClassID: uuid.New(), Quantity: 1, UnitPrice: 25},
		}, now)
		if err := repo.CreateOrder(ctx, o); err != nil {
			t.Fatal(err)
		}
		return o
	}

	t.Run("create and read back with lines", func(t *testing.T) {
		o := newStoredOrder(t)
		got, err := repo.GetOrder(ctx, o.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.OrderPending || got.TotalAmount != 125 || len(got.Lines) != 2 {
			t.Fatalf("unexpected order: %+v", got)
		}
	})

	t.Run("paid lifecycle", func(t *testing.T) {
		o := newStoredOrder(t)
		if err := repo.TransitionOrder(ctx, o.ID, domain.OrderPending, domain.OrderAwaitingPayment); err != nil {
			t.Fatal(err)
		}
		paidAt := now.Add(time.Second)
		if err := repo.MarkOrderPaid(ctx, o.ID, "pay_abc123", paidAt); err != nil {
			t.Fatal(err)
		}

		got, _ := repo.GetOrder(ctx, o.ID)
		if got.Status != domain.OrderPaid || got.PaymentID != "pay_abc123" || got.PaidAt == nil {
			t.Fatalf("unexpected paid order: %+v", got)
		}

		if err := repo.CancelOrder(ctx, o.ID, domain.ReasonUserCancelled); !errors.Is(err, domain.ErrAlreadyTerminal) {
			t.Fatalf("cancel after paid must be AlreadyTerminal, got %v", err)
		}
	})

	t.Run("expire skips review-flagged orders", func(t *testing.T) {
		o := newStoredOrder(t)
		if err := repo.TransitionOrder(ctx, o.ID, domain.OrderPending, domain.OrderAwaitingPayment); err != nil {
			t.Fatal(err)
		}
		if err := repo.FlagOrderForReview(ctx, o.ID); err != nil {
			t.Fatal(err)
		}
		if err := repo.ExpireOrder(ctx, o.ID); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("flagged order must not expire, got %v", err)
		}
		got, _ := repo.GetOrder(ctx, o.ID)
		if got.Status != domain.OrderAwaitingPayment || !got.ReviewRequired {
			t.Fatalf("unexpected order: %+v", got)
		}
	})

	t.Run("outbox rides the order transaction", func(t *testing.T) {
		o := newStoredOrder(t)
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			if err := repo.TransitionOrder(txCtx, o.ID, domain.OrderPending, domain.OrderAwaitingPayment); err != nil {
				return err
			}
			return repo.InsertOutbox(txCtx, crdb.OutboxRecord{
				ID:            uuid.New(),
				AggregateType: "order",
				AggregateID:   o.ID,
				EventType:     "order.paid",
				Payload:       []byte(`{}`),
				DedupeKey:     uuid.NewString(),
			})
		})
		if err != nil {
			t.Fatal(err)
		}

		records, err := repo.GetUnpublishedOutbox(ctx, 100)
		if err != nil {
			t.Fatal(err)
		}
		var found *crdb.OutboxRecord
		for i := range records {
			if records[i].AggregateID == o.ID {
				found = &records[i]
			}
		}
		if found == nil {
			t.Fatal("expected outbox record for order")
		}

		if err := repo.MarkPublished(ctx, found.ID, time.Now().UTC()); err != nil {
			t.Fatal(err)
		}
		records, _ = repo.GetUnpublishedOutbox(ctx, 100)
		for _, rec := range records {
			if rec.ID == found.ID {
				t.Fatal("published record must not be returned again")
			}
		}
	})
}
