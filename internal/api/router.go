package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/ec-cart-consistency/internal/api/middleware"
	"github.com/example/ec-cart-consistency/internal/auth"
)

type RouterConfig struct {
	Handlers     *Handlers
	JWTService   *auth.JWTService
	Logger       zerolog.Logger
	SecureCookie bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	h := cfg.Handlers
	identity := middleware.Identity(cfg.JWTService, cfg.SecureCookie)

	handle := func(pattern, route string, fn http.HandlerFunc) {
		mux.Handle(pattern, middleware.RequestLogger(cfg.Logger, route, identity(fn)))
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, Response{Success: true, Message: "ok"})
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Cart
	handle("/cart", "cart", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetCart(w, r)
		case http.MethodDelete:
			h.ClearCart(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	handle("/cart/items", "cart_items", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.AddToCart(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	handle("/cart/items/", "cart_item", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			h.UpdateCartItem(w, r)
		case http.MethodDelete:
			h.RemoveFromCart(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	handle("/cart/merge", "cart_merge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		middleware.RequireCustomer(http.HandlerFunc(h.MergeCart)).ServeHTTP(w, r)
	})

	// Orders (customer only)
	handle("/orders/", "orders", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		var next http.HandlerFunc
		switch {
		case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
			next = h.CancelOrder
		case strings.HasSuffix(path, "/reorder") && r.Method == http.MethodPost:
			next = h.ReorderOrder
		default:
			methodNotAllowed(w)
			return
		}
		middleware.RequireCustomer(next).ServeHTTP(w, r)
	})

	// Products
	handle("/products/", "product_availability", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/availability") {
			respondJSON(w, http.StatusNotFound, Response{Message: "not found"})
			return
		}
		h.GetAvailability(w, r)
	})

	return mux
}

func methodNotAllowed(w http.ResponseWriter) {
	respondJSON(w, http.StatusMethodNotAllowed, Response{Message: "method not allowed"})
}
