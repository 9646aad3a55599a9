package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/ticketrush/orderflow/internal/adapters/crdb"
	mongoadapter "github.com/ticketrush/orderflow/internal/adapters/mongo"
	redisadapter "github.com/ticketrush/orderflow/internal/adapters/redis"
	"github.com/ticketrush/orderflow/internal/clock"
	"github.com/ticketrush/orderflow/internal/config"
	"github.com/ticketrush/orderflow/internal/domain"
	httphandler "github.com/ticketrush/orderflow/internal/http"
	"github.com/ticketrush/orderflow/internal/idempotency"
	"github.com/ticketrush/orderflow/internal/observability"
	"github.com/ticketrush/orderflow/internal/order"
	"github.com/ticketrush/orderflow/internal/payment"
	"github.com/ticketrush/orderflow/internal/ratelimit"
	"github.com/ticketrush/orderflow/internal/reservation"
	"github.com/ticketrush/orderflow/internal/sweeper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestIntegration_OrderFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
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
	defer crdbContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	crdbHost, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	crdbPort, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}
	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		CRDBDSN:        "postgresql://root@" + crdbHost + ":" + crdbPort.Port() + "/defaultdb?sslmode=disable",
		MongoURI:       "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:      redisHost + ":" + redisPort.Port(),
		HoldTTL:        time.Second,
		SweepInterval:  30 * time.Second,
		SweepBatchSize: 100,
		IdempotencyTTL: time.Hour,
	}

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if err := crdb.EnsureSchema(ctx, pool); err != nil {
		t.Fatal(err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database("orderflow_test")

	logger := observability.NewLogger()
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	rdb := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	cache := redisadapter.NewCache(rdb)
	idemp := idempotency.NewIdempotency(rdb, cfg.IdempotencyTTL)
	rl := ratelimit.NewRateLimiter(cache)

	clk := clock.NewSystem()
	holds := reservation.NewManager(repo, repo, clk)
	gateway := payment.NewMockGateway(0, 0, time.Now().UnixNano())
	orders := order.NewService(repo, repo, holds, gateway, repo, clk, cfg.HoldTTL, logger)

	handlers := httphandler.NewHandlers(cfg, orders, repo, repo, catalog, cache, idemp, audit, logger)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rl))
	defer srv.Close()

	// Publish a ticket class.
	publishBody, _ := json.Marshal(map[string]interface{}{
		"event_id": uuid.New(),
		"name":     "General Admission",
		"capacity": 2,
		"price":    100.0,
	})
	resp, err := http.Post(srv.URL+"/v1/ticket-classes", "application/json", bytes.NewReader(publishBody))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish: status %d", resp.StatusCode)
	}
	var published struct {
		TicketClassID uuid.UUID `json:"ticket_class_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&published); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	// Place an order for one ticket; the mock gateway always approves.
	placed := placeOrder(t, srv.URL, published.TicketClassID, 1)
	if placed.Status != string(domain.OrderPaid) {
		t.Fatalf("expected Paid, got %s", placed.Status)
	}

	// The replay record landed under this service's key namespace.
	keys, err := rdb.Keys(ctx, "orderflow:idemp:*").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected one namespaced idempotency key, got %v", keys)
	}

	// Availability reflects the sale.
	resp, err = http.Get(srv.URL + "/v1/ticket-classes/" + published.TicketClassID.String() + "/availability")
	if err != nil {
		t.Fatal(err)
	}
	var avail struct {
		Sold      int `json:"sold"`
		Reserved  int `json:"reserved"`
		Available int `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&avail); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if avail.Sold != 1 || avail.Reserved != 0 || avail.Available != 1 {
		t.Fatalf("unexpected availability: %+v", avail)
	}

	// Asking for more than remains is rejected, not partially filled.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/orders", orderPayload(published.TicketClassID, 5))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("oversell: expected 409, got %d", resp.StatusCode)
	}

	// The approved sale landed in the outbox.
	records, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	var sawPaid bool
	for _, rec := range records {
		if rec.EventType == order.EventOrderPaid {
			sawPaid = true
		}
	}
	if !sawPaid {
		t.Fatal("expected an order.paid outbox record")
	}

	t.Run("sweeper reclaims lapsed hold", func(t *testing.T) {
		// Build a stuck AwaitingPayment order directly against the
		// repository, as the purchase flow would leave it if the buyer
		// vanished mid-checkout.
		stuck := domain.NewOrder(uuid.New(), []domain.OrderLine{
			{TicketClassID: published.TicketClassID, Quantity: 1, UnitPrice: 100},
		}, time.Now().UTC())
		if err := repo.CreateOrder(ctx, stuck); err != nil {
			t.Fatal(err)
		}
		if _, err := holds.Hold(ctx, stuck.ID, published.TicketClassID, 1, cfg.HoldTTL); err != nil {
			t.Fatal(err)
		}
		if err := repo.TransitionOrder(ctx, stuck.ID, domain.OrderPending, domain.OrderAwaitingPayment); err != nil {
			t.Fatal(err)
		}

		time.Sleep(cfg.HoldTTL + 500*time.Millisecond)

		sw := sweeper.New(repo, holds, orders, clk, cfg.SweepInterval, cfg.SweepBatchSize, logger)
		if err := sw.SweepOnce(ctx); err != nil {
			t.Fatal(err)
		}

		got, err := repo.GetOrder(ctx, stuck.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.OrderExpired {
			t.Fatalf("expected order Expired, got %s", got.Status)
		}
		counter, err := repo.Counter(ctx, published.TicketClassID)
		if err != nil {
			t.Fatal(err)
		}
		if counter.Reserved != 0 || counter.Sold != 1 {
			t.Fatalf("expected hold returned to the pool, got %+v", counter)
		}
	})
}

type placedOrder struct {
	OrderID uuid.UUID `json:"order_id"`
	Status  string    `json:"status"`
	Total   float64   `json:"total"`
}

func orderPayload(classID uuid.UUID, qty int) *bytes.Reader {
	body, _ := json.Marshal(map[string]interface{}{
		"buyer_id": uuid.New(),
		"items": []map[string]interface{}{
			{"ticket_class_id": classID, "quantity": qty},
		},
	})
	return bytes.NewReader(body)
}

func placeOrder(t *testing.T, baseURL string, classID uuid.UUID, qty int) placedOrder {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/orders", orderPayload(classID, qty))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place order: status %d", resp.StatusCode)
	}
	var placed placedOrder
	if err := json.NewDecoder(resp.Body).Decode(&placed); err != nil {
		t.Fatal(err)
	}
	return placed
}
