package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/DaDevFox/task-systems/pantry-core/internal/domain"
	"github.com/DaDevFox/task-systems/pantry-core/internal/inventory"
	"github.com/DaDevFox/task-systems/pantry-core/internal/view"
)

// InventoryClient is the synchronous side of the inventory client used by the handlers.
type InventoryClient interface {
	Increment(ctx context.Context, name string) error
	Decrement(ctx context.Context, name string) error
	SetQuantity(ctx context.Context, name string, quantity int) error
}

// Pinger reports store reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers exposes the pantry intents over HTTP.
type Handlers struct {
	client     InventoryClient
	controller *view.Controller
	store      Pinger
	logger     *logrus.Logger
}

func NewHandlers(client InventoryClient, controller *view.Controller, store Pinger, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{
		client:     client,
		controller: controller,
		store:      store,
		logger:     logger,
	}
}

// ItemsResponse is a filtered view of the inventory.
type ItemsResponse struct {
	Search string        `json:"search"`
	Items  []domain.Item `json:"items"`
	Count  int           `json:"count"`
	Total  int           `json:"total_quantity"`
}

// QuantityRequest carries the quantity typed into the update form.
type QuantityRequest struct {
	Quantity json.RawMessage `json:"quantity"`
}

// SearchRequest replaces the shared search text.
type SearchRequest struct {
	Search string `json:"search"`
}

// EditRequest opens an edit session on a named item.
type EditRequest struct {
	Name string `json:"name"`
}

// ViewResponse mirrors the controller state.
type ViewResponse struct {
	Search   string        `json:"search"`
	Items    []domain.Item `json:"items"`
	Filtered []domain.Item `json:"filtered"`
	AddOpen  bool          `json:"add_open"`
	Editing  *EditResponse `json:"editing,omitempty"`
}

type EditResponse struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Pending  int    `json:"pending"`
}

// Register mounts every route on e.
func (h *Handlers) Register(e *echo.Echo) {
	e.GET("/health", h.Health)

	v1 := e.Group("/v1")
	v1.GET("/pantry", h.List)
	v1.POST("/pantry/reload", h.Reload)
	v1.POST("/pantry/:name/add", h.Add)
	v1.POST("/pantry/:name/remove", h.Remove)
	v1.PUT("/pantry/:name", h.SetQuantity)

	v1.GET("/view", h.View)
	v1.PUT("/view/search", h.SetSearch)
	v1.POST("/view/edit", h.BeginEdit)
	v1.PUT("/view/edit", h.SetPending)
	v1.POST("/view/edit/commit", h.CommitEdit)
	v1.DELETE("/view/edit", h.CancelEdit)
}

// List returns the inventory filtered by the search query parameter.
func (h *Handlers) List(c echo.Context) error {
	search := c.QueryParam("search")
	return c.JSON(http.StatusOK, itemsResponse(search, view.Filter(h.controller.Inventory(), search)))
}

func (h *Handlers) Reload(c echo.Context) error {
	if err := h.controller.Refresh(c.Request().Context()); err != nil {
		return h.toHTTPError(err)
	}
	return h.List(c)
}

func (h *Handlers) Add(c echo.Context) error {
	return h.mutate(c, func(ctx context.Context, name string) error {
		return h.client.Increment(ctx, name)
	})
}

func (h *Handlers) Remove(c echo.Context) error {
	return h.mutate(c, func(ctx context.Context, name string) error {
		return h.client.Decrement(ctx, name)
	})
}

// SetQuantity overwrites an item's quantity; zero or less deletes it.
func (h *Handlers) SetQuantity(c echo.Context) error {
	quantity, err := bindQuantity(c)
	if err != nil {
		return h.toHTTPError(err)
	}
	return h.mutate(c, func(ctx context.Context, name string) error {
		return h.client.SetQuantity(ctx, name, quantity)
	})
}

func (h *Handlers) mutate(c echo.Context, write func(ctx context.Context, name string) error) error {
	name, err := itemName(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid item name")
	}
	if err := write(c.Request().Context(), name); err != nil {
		return h.toHTTPError(err)
	}
	h.controller.Sync()
	return c.JSON(http.StatusOK, itemsResponse("", h.controller.Inventory()))
}

// itemName returns the path parameter as the caller wrote it. Echo matches on
// the raw path only when the request carries one, so the parameter is still
// escaped in that case and already decoded otherwise.
func itemName(c echo.Context) (string, error) {
	name := c.Param("name")
	if c.Request().URL.RawPath == "" {
		return name, nil
	}
	return url.PathUnescape(name)
}

func (h *Handlers) View(c echo.Context) error {
	return c.JSON(http.StatusOK, viewResponse(h.controller.State()))
}

func (h *Handlers) SetSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	h.controller.SetSearch(req.Search)
	return h.View(c)
}

// BeginEdit opens an edit session on an item in the current inventory.
func (h *Handlers) BeginEdit(c echo.Context) error {
	var req EditRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	item, ok := h.controller.Inventory().Find(req.Name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "item not found")
	}
	h.controller.BeginEdit(item)
	return h.View(c)
}

func (h *Handlers) SetPending(c echo.Context) error {
	quantity, err := bindQuantity(c)
	if err != nil {
		return h.toHTTPError(err)
	}
	if !h.controller.SetPendingQuantity(quantity) {
		return echo.NewHTTPError(http.StatusConflict, "no edit in progress")
	}
	return h.View(c)
}

// CommitEdit queues the write and answers immediately with 202.
func (h *Handlers) CommitEdit(c echo.Context) error {
	if !h.controller.CommitEdit(c.Request().Context()) {
		return echo.NewHTTPError(http.StatusConflict, "no edit in progress")
	}
	return c.JSON(http.StatusAccepted, viewResponse(h.controller.State()))
}

func (h *Handlers) CancelEdit(c echo.Context) error {
	h.controller.CancelEdit()
	return h.View(c)
}

// Health reports whether the document store answers a ping.
func (h *Handlers) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{
		"status":    "healthy",
		"store":     "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.store.Ping(ctx); err != nil {
		status["status"] = "degraded"
		status["store"] = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

func bindQuantity(c echo.Context) (int, error) {
	var req QuantityRequest
	if err := c.Bind(&req); err != nil {
		return 0, domain.ErrInvalidQuantity
	}
	raw := strings.Trim(strings.TrimSpace(string(req.Quantity)), `"`)
	return domain.ParseQuantity(raw)
}

func (h *Handlers) toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidName), errors.Is(err, domain.ErrInvalidQuantity):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "document store unavailable")
	case errors.Is(err, inventory.ErrAdjustConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		h.logger.WithError(err).Error("unhandled request error")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func itemsResponse(search string, items domain.Inventory) ItemsResponse {
	return ItemsResponse{
		Search: search,
		Items:  items.Clone(),
		Count:  len(items),
		Total:  items.TotalQuantity(),
	}
}

func viewResponse(state view.State) ViewResponse {
	resp := ViewResponse{
		Search:   state.Search,
		Items:    state.Inventory.Clone(),
		Filtered: state.Filtered.Clone(),
		AddOpen:  state.AddOpen,
	}
	if state.Editing != nil {
		resp.Editing = &EditResponse{
			Name:     state.Editing.Item.Name,
			Quantity: state.Editing.Item.Quantity,
			Pending:  state.Editing.Pending,
		}
	}
	return resp
}
