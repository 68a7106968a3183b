package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/ec-cart-consistency/internal/api/middleware"
	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/command"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	// Available is set when stock was insufficient.
	Available *int `json:"available,omitempty"`
	// State is set when the order was in the wrong state.
	State string `json:"state,omitempty"`
}

type Handlers struct {
	cmdHandler *command.Handler
	logger     zerolog.Logger
}

func NewHandlers(cmdHandler *command.Handler, logger zerolog.Logger) *Handlers {
	return &Handlers{
		cmdHandler: cmdHandler,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Cart Handlers

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.cmdHandler.CartGet(r.Context(), command.CartGet{Owner: middleware.CartOwner(r.Context())})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: view})
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var cmd command.CartAdd
	if !decode(w, r, &cmd) {
		return
	}
	cmd.Owner = middleware.CartOwner(r.Context())

	res, err := h.cmdHandler.CartAdd(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "Item added to cart", Data: res})
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity *int `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		respondJSON(w, http.StatusBadRequest, Response{Message: "quantity is required"})
		return
	}

	cmd := command.CartUpdate{
		Owner:     middleware.CartOwner(r.Context()),
		ProductID: extractPathParam(r.URL.Path, "/cart/items/"),
		Quantity:  *req.Quantity,
	}
	view, err := h.cmdHandler.CartUpdate(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "Cart updated", Data: view})
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	cmd := command.CartRemove{
		Owner:     middleware.CartOwner(r.Context()),
		ProductID: extractPathParam(r.URL.Path, "/cart/items/"),
	}
	res, err := h.cmdHandler.CartRemove(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	msg := "Item removed from cart"
	if !res.Removed {
		msg = "Item was not in the cart"
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: msg, Data: res})
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	res, err := h.cmdHandler.CartClear(r.Context(), command.CartClear{Owner: middleware.CartOwner(r.Context())})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "Cart cleared", Data: res})
}

// MergeCart folds the caller's session cart into their customer cart. Only
// the session resolved for this request can be merged.
func (h *Handlers) MergeCart(w http.ResponseWriter, r *http.Request) {
	cmd := command.CartMerge{
		SessionToken: middleware.SessionToken(r.Context()),
		CustomerID:   middleware.CustomerID(r.Context()),
	}

	res, err := h.cmdHandler.CartMerge(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "Cart merged", Data: res})
}

// Order Handlers

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	cmd := command.OrderCancel{
		OrderID:    orderIDFromPath(r.URL.Path, "/cancel"),
		CustomerID: middleware.CustomerID(r.Context()),
		Reason:     req.Reason,
	}
	res, err := h.cmdHandler.OrderCancel(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "Order cancelled", Data: res})
}

func (h *Handlers) ReorderOrder(w http.ResponseWriter, r *http.Request) {
	cmd := command.OrderReorder{
		OrderID:    orderIDFromPath(r.URL.Path, "/reorder"),
		CustomerID: middleware.CustomerID(r.Context()),
	}
	res, err := h.cmdHandler.OrderReorder(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}

	msg := "Items added to cart"
	switch {
	case res.AddedCount == 0:
		msg = "No items could be added to cart"
	case len(res.Skipped) > 0:
		msg = "Some items could not be added in full"
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: msg, Data: res})
}

// Product Handlers

func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	q := command.ProductAvailability{
		ProductID: strings.TrimSuffix(extractPathParam(r.URL.Path, "/products/"), "/availability"),
	}
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, Response{Message: "quantity must be a number"})
			return
		}
		q.Quantity = n
	}

	res, err := h.cmdHandler.ProductAvailability(r.Context(), q)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: res})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientStock, apperr.KindStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	resp := Response{Message: "internal storage failure"}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		resp.Message = appErr.Error()
		switch kind {
		case apperr.KindInsufficientStock:
			available := appErr.Available
			resp.Available = &available
		case apperr.KindStateConflict:
			resp.State = appErr.State
		}
	}
	if kind == apperr.KindPersistence {
		h.logger.Error().Err(apperr.Cause(err)).Msg("request failed")
	}
	respondJSON(w, statusFor(kind), resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		respondJSON(w, http.StatusBadRequest, Response{Message: "invalid request body"})
		return false
	}
	return true
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}

// orderIDFromPath pulls the id out of /orders/{id}/<action>.
func orderIDFromPath(path, action string) string {
	return strings.TrimSuffix(extractPathParam(path, "/orders/"), action)
}
