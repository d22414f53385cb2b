package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"resilience/internal/domain"
)

type order struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Item      string    `json:"item"`
	Quantity  int       `json:"quantity"`
	Email     string    `json:"email"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type createOrderRequest struct {
	Reference string `json:"reference" validate:"required,alphanum,max=32"`
	Item      string `json:"item" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0,lte=100"`
	Email     string `json:"email" validate:"required,email"`
}

// orderStore behaves like a table with a unique index on reference.
// Duplicate inserts fail the way the Postgres driver reports them.
type orderStore struct {
	mu     sync.RWMutex
	byID   map[string]order
	byRef  map[string]string
	nowFn  func() time.Time
	newIDs func() string
}

func newOrderStore() *orderStore {
	return &orderStore{
		byID:   make(map[string]order),
		byRef:  make(map[string]string),
		nowFn:  time.Now,
		newIDs: uuid.NewString,
	}
}

func (s *orderStore) insert(o order) (order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byRef[o.Reference]; exists {
		return order{}, &pgconn.PgError{
			Severity:       "ERROR",
			Code:           "23505",
			Message:        `duplicate key value violates unique constraint "orders_reference_key"`,
			Detail:         fmt.Sprintf("Key (reference)=(%s) already exists.", o.Reference),
			TableName:      "orders",
			ConstraintName: "orders_reference_key",
		}
	}
	o.ID = s.newIDs()
	o.CreatedAt = s.nowFn()
	s.byID[o.ID] = o
	s.byRef[o.Reference] = o.ID
	return o, nil
}

func (s *orderStore) get(id string) (order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	return o, ok
}

func (s *orderStore) list() []order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order, 0, len(s.byID))
	for _, o := range s.byID {
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (s *orderStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	delete(s.byRef, o.Reference)
	return true
}

type orderHandlers struct {
	store    *orderStore
	validate *validator.Validate
}

func newOrderHandlers(store *orderStore) *orderHandlers {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go struct field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &orderHandlers{store: store, validate: v}
}

func (h *orderHandlers) create(w http.ResponseWriter, r *http.Request) error {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return domain.WrapAppError(err, "Request body must be valid JSON", http.StatusBadRequest)
	}
	if err := h.validate.Struct(req); err != nil {
		return err
	}

	o, err := h.store.insert(order{
		Reference: req.Reference,
		Item:      req.Item,
		Quantity:  req.Quantity,
		Email:     req.Email,
		CreatedBy: r.Header.Get("X-Principal-ID"),
	})
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", req.Reference, err)
	}
	return writeJSON(w, http.StatusCreated, o)
}

func (h *orderHandlers) get(w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue("id")
	o, ok := h.store.get(id)
	if !ok {
		return domain.NewAppError("No order found with that ID", http.StatusNotFound)
	}
	return writeJSON(w, http.StatusOK, o)
}

func (h *orderHandlers) list(w http.ResponseWriter, _ *http.Request) error {
	orders := h.store.list()
	return writeJSON(w, http.StatusOK, map[string]any{"results": len(orders), "orders": orders})
}

func (h *orderHandlers) remove(w http.ResponseWriter, r *http.Request) error {
	if !h.store.remove(r.PathValue("id")) {
		return domain.NewAppError("No order found with that ID", http.StatusNotFound)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
