package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
	"pricewatch/internal/task/scheduler"
	logx "pricewatch/pkg/logx"
)

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 30
)

type handlers struct {
	deps Deps
	log  logx.Logger
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// fail maps domain errors onto HTTP statuses.
func (h *handlers) fail(c *gin.Context, err error) {
	var (
		ve *domain.ValidationError
		fe *domain.FetchError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: "not found"})
	case errors.As(err, &fe):
		c.JSON(http.StatusBadGateway, errorBody{Error: fe.Error()})
	default:
		h.log.Error("http handler failed", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid " + name, Field: name})
		return 0, false
	}
	return id, true
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": h.deps.Clock.Now()})
}

func (h *handlers) status(c *gin.Context) {
	out := gin.H{"time": h.deps.Clock.Now()}
	if h.deps.Scheduler != nil {
		out["scheduler"] = h.deps.Scheduler.Snapshot()
	}
	if h.deps.Store != nil {
		st, err := h.deps.Store.Stats(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		out["store"] = st
	}
	if h.deps.Rates != nil {
		out["currency"] = h.deps.Rates.Rates()
	}
	if h.deps.Deliveries != nil {
		out["notifications"] = h.deps.Deliveries.Snapshot()
	}
	if h.deps.Extra != nil {
		for k, v := range h.deps.Extra() {
			out[k] = v
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) upsertUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	u, err := h.deps.Store.UpsertUser(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *handlers) getUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	u, err := h.deps.Store.GetUser(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *handlers) updateSettings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.UserSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	u, err := h.deps.Store.UpdateUserSettings(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *handlers) listItems(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	items, err := h.deps.Store.ItemsForUser(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if items == nil {
		items = []domain.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type subscribeRequest struct {
	CatalogID int64 `json:"catalog_id" binding:"required,gt=0"`
}

// subscribe fetches a live quote first so the item starts with its real
// name and a baseline price.
func (h *handlers) subscribe(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error(), Field: "catalog_id"})
		return
	}
	ctx := c.Request.Context()

	already, err := h.deps.Store.IsSubscribed(ctx, userID, req.CatalogID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if already {
		c.JSON(http.StatusConflict, errorBody{Error: "already subscribed"})
		return
	}

	q, err := h.deps.Quotes.Fetch(ctx, req.CatalogID)
	if err != nil {
		h.fail(c, err)
		return
	}
	item, err := h.deps.Store.AddSubscription(ctx, userID, req.CatalogID, q.Name, decimal.NewNullDecimal(q.Price))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("subscription added", logx.Int64("user_id", userID), logx.Int64("catalog_id", req.CatalogID), logx.Int64("item_id", item.ID))
	c.JSON(http.StatusCreated, item)
}

func (h *handlers) unsubscribe(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(c, "item_id")
	if !ok {
		return
	}
	removed, err := h.deps.Store.RemoveSubscription(c.Request.Context(), userID, itemID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, errorBody{Error: "not subscribed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) history(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}
	days := defaultHistoryDays
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryDays {
			c.JSON(http.StatusBadRequest, errorBody{Error: "days must be between 1 and 30", Field: "days"})
			return
		}
		days = n
	}
	ctx := c.Request.Context()
	item, err := h.deps.Store.GetItem(ctx, itemID)
	if err != nil {
		h.fail(c, err)
		return
	}
	since := h.deps.Clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := h.deps.Store.PriceHistory(ctx, itemID, since)
	if err != nil {
		h.fail(c, err)
		return
	}
	if rows == nil {
		rows = []domain.PriceHistory{}
	}
	c.JSON(http.StatusOK, gin.H{"item": item, "days": days, "history": rows})
}

func (h *handlers) quote(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	item, err := h.deps.Store.GetItem(ctx, itemID)
	if err != nil {
		h.fail(c, err)
		return
	}
	q, err := h.deps.Quotes.Fetch(ctx, item.CatalogID)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := gin.H{"item": item, "name": q.Name, "price": q.Price}
	if h.deps.Rates != nil {
		resp["amounts"] = h.deps.Rates.Convert(q.Price)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) triggerCheck(c *gin.Context) {
	if h.deps.Scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "scheduler unavailable"})
		return
	}
	switch err := h.deps.Scheduler.RunNow(h.deps.CheckJob); {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"job": h.deps.CheckJob, "status": "started"})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, errorBody{Error: "check already running"})
	case errors.Is(err, scheduler.ErrNotStarted):
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "scheduler not started"})
	case errors.Is(err, scheduler.ErrUnknownJob):
		c.JSON(http.StatusNotFound, errorBody{Error: "unknown job " + h.deps.CheckJob})
	default:
		h.fail(c, err)
	}
}
