package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ticketrush/orderflow/internal/config"
	"github.com/ticketrush/orderflow/internal/domain"
	"github.com/ticketrush/orderflow/internal/idempotency"
	"github.com/ticketrush/orderflow/internal/inventory"
	"github.com/ticketrush/orderflow/internal/observability"
	"github.com/ticketrush/orderflow/internal/order"
)

// Catalog is the ticket-class lookup the handlers need; satisfied by the
// mongo adapter.
type Catalog interface {
	PublishTicketClass(ctx context.Context, tc domain.TicketClass) error
	GetTicketClass(ctx context.Context, id uuid.UUID) (domain.TicketClass, error)
}

// CounterSeeder creates the inventory counter when a ticket class is
// published; satisfied by the crdb repository and the memory store.
type CounterSeeder interface {
	CreateCounter(ctx context.Context, tc domain.TicketClass) error
}

// AvailabilityCache fronts counter reads; satisfied by the redis cache.
type AvailabilityCache interface {
	GetCounter(ctx context.Context, ticketClassID uuid.UUID) (*domain.InventoryCounter, error)
	SetCounter(ctx context.Context, counter domain.InventoryCounter, ttl time.Duration) error
}

// IdempotencyStore replays stored responses for repeated keys.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
}

// Auditor records order outcomes; satisfied by the mongo audit logger.
type Auditor interface {
	LogOrderOutcome(ctx context.Context, o domain.Order) error
}

const availabilityCacheTTL = 2 * time.Second

type Handlers struct {
	cfg     *config.Config
	orders  *order.Service
	ledger  inventory.Ledger
	seeder  CounterSeeder
	catalog Catalog
	cache   AvailabilityCache
	idemp   IdempotencyStore
	audit   Auditor
	logger  observability.Logger
}

func NewHandlers(cfg *config.Config, orders *order.Service, ledger inventory.Ledger, seeder CounterSeeder, catalog Catalog, cache AvailabilityCache, idemp IdempotencyStore, audit Auditor, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:     cfg,
		orders:  orders,
		ledger:  ledger,
		seeder:  seeder,
		catalog: catalog,
		cache:   cache,
		idemp:   idemp,
		audit:   audit,
		logger:  logger,
	}
}

func (h *Handlers) PublishTicketClass(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID  uuid.UUID `json:"event_id"`
		Name     string    `json:"name"`
		Capacity int       `json:"capacity"`
		Price    float64   `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Capacity < 0 || req.Price < 0 {
		http.Error(w, "capacity and price must be non-negative", http.StatusBadRequest)
		return
	}

	tc := domain.TicketClass{
		ID:       uuid.New(),
		EventID:  req.EventID,
		Name:     req.Name,
		Capacity: req.Capacity,
		Price:    req.Price,
	}

	// The counter is the source of truth for capacity; seed it first so a
	// catalog write failure cannot leave a sellable class with no ledger.
	if err := h.seeder.CreateCounter(r.Context(), tc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.catalog.PublishTicketClass(r.Context(), tc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ticket_class_id": tc.ID,
		"capacity":        tc.Capacity,
		"price":           tc.Price,
	})
}

func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	if h.cache != nil {
		if cached, err := h.cache.GetCounter(r.Context(), id); err == nil && cached != nil {
			writeCounter(w, *cached)
			return
		}
	}

	counter, err := h.ledger.Counter(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "ticket class not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetCounter(r.Context(), counter, availabilityCacheTTL); err != nil {
			h.logger.Warn("availability cache write failed: ", err)
		}
	}
	writeCounter(w, counter)
}

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if h.idemp != nil {
		if existing, err := h.idemp.Get(r.Context(), key); err == nil && existing != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(existing.Status)
			w.Write(existing.Result)
			return
		}
	}

	var req struct {
		BuyerID uuid.UUID `json:"buyer_id"`
		Items   []struct {
			TicketClassID uuid.UUID `json:"ticket_class_id"`
			Quantity      int       `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "order needs at least one item", http.StatusBadRequest)
		return
	}

	lines := make([]domain.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		tc, err := h.catalog.GetTicketClass(r.Context(), item.TicketClassID)
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "ticket class not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		lines = append(lines, domain.OrderLine{
			TicketClassID: item.TicketClassID,
			Quantity:      item.Quantity,
			UnitPrice:     tc.Price,
		})
	}

	o, err := h.orders.Place(r.Context(), order.PlaceInput{BuyerID: req.BuyerID, Lines: lines})
	status, body := placeResult(o, err)

	if h.audit != nil {
		if auditErr := h.audit.LogOrderOutcome(r.Context(), o); auditErr != nil {
			h.logger.Warn("audit write failed: ", auditErr)
		}
	}

	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)

	if h.idemp != nil {
		if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, OrderID: o.ID.String(), Result: data}); err != nil {
			h.logger.Warn("idempotency store failed: ", err)
		}
	}
}

// placeResult maps the state machine's outcome onto the wire. Business
// conditions are not server errors.
func placeResult(o domain.Order, err error) (int, map[string]interface{}) {
	body := map[string]interface{}{
		"order_id": o.ID,
		"status":   o.Status,
		"total":    o.TotalAmount,
	}
	switch {
	case err == nil:
		body["payment_id"] = o.PaymentID
		return http.StatusCreated, body
	case errors.Is(err, domain.ErrInsufficientInventory):
		body["reason"] = domain.ReasonInsufficientInventory
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrSerializationFailure):
		// Lost a storage-level conflict even after retries; the request
		// itself was fine.
		body["reason"] = domain.ReasonTransientConflict
		body["retryable"] = true
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrPaymentDeclined):
		body["reason"] = domain.ReasonPaymentDeclined
		return http.StatusPaymentRequired, body
	case errors.Is(err, domain.ErrPaymentGatewayError):
		body["reason"] = domain.ReasonPaymentGatewayError
		body["retryable"] = true
		return http.StatusBadGateway, body
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, body
	default:
		body["error"] = err.Error()
		return http.StatusInternalServerError, body
	}
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	err = h.orders.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrAlreadyTerminal):
		// Cancelling a finished order is a no-op, not a failure.
		writeJSON(w, http.StatusOK, map[string]interface{}{"order_id": id, "already_terminal": true})
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"order_id": id, "status": domain.OrderCancelled})
	}
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	o, err := h.orders.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"order_id":        o.ID,
		"buyer_id":        o.BuyerID,
		"status":          o.Status,
		"total":           o.TotalAmount,
		"review_required": o.ReviewRequired,
	}
	if o.CancelReason != "" {
		resp["cancel_reason"] = o.CancelReason
	}
	if o.PaidAt != nil {
		resp["paid_at"] = o.PaidAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func writeCounter(w http.ResponseWriter, c domain.InventoryCounter) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_class_id": c.TicketClassID,
		"capacity":        c.Capacity,
		"sold":            c.Sold,
		"reserved":        c.Reserved,
		"available":       c.Available(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
