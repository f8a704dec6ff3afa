// Package fakeapi is an in-memory storefront backend that speaks the same
// HTTP dialect as the production API. It versions every cart line, favorite
// and order, honors Idempotency-Key and can inject failures per route.
package fakeapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
	"github.com/c0deZ3R0/go-offline-kit/transport/httptransport"
)

// GuestUser owns requests that carry no credentials when auth is optional.
const GuestUser = "guest"

// Option configures a Server.
type Option func(*Server)

// WithCatalog replaces the default catalog.
func WithCatalog(c Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock overrides time.Now for order timestamps and numbers.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithTokens makes authentication mandatory. Each token is its own user.
func WithTokens(tokens ...string) Option {
	return func(s *Server) {
		s.tokens = make(map[string]bool, len(tokens))
		for _, t := range tokens {
			s.tokens[t] = true
		}
	}
}

// Server holds all storefront state in memory. It is safe for concurrent use.
type Server struct {
	router chi.Router
	logger *slog.Logger
	now    func() time.Time
	tokens map[string]bool

	mu        sync.Mutex
	catalog   Catalog
	revision  int64
	carts     map[string]map[string]*synckit.CartItem
	favorites map[string]map[string]*favoriteRow
	orders    map[string][]synckit.Order
	replays   map[string]recordedResponse
	faults    map[string]*Fault
	calls     map[string]int
}

type favoriteRow struct {
	synckit.Favorite
	deleted bool
}

// New builds a Server seeded with DefaultCatalog unless overridden.
func New(opts ...Option) *Server {
	s := &Server{
		catalog:   DefaultCatalog(),
		logger:    logging.WithComponent(logging.Component("fakeapi")).Logger,
		now:       time.Now,
		carts:     make(map[string]map[string]*synckit.CartItem),
		favorites: make(map[string]map[string]*favoriteRow),
		orders:    make(map[string][]synckit.Order),
		replays:   make(map[string]recordedResponse),
		faults:    make(map[string]*Fault),
		calls:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.catalog.Products {
		s.revision++
		if s.catalog.Products[i].Version == 0 {
			s.catalog.Products[i].Version = s.revision
		}
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.countCalls)
	r.Use(s.injectFaults)
	r.Use(s.logRequests)

	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Get("/products", s.listProducts)
		r.Get("/categories/all", s.listCategories)
		r.Get("/car-brands", s.listCarBrands)
		r.Get("/car-models", s.listCarModels)
		r.Get("/product-brands", s.listProductBrands)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.idempotent)

		r.Get("/cart", s.getCart)
		r.Post("/cart/add", s.addToCart)
		r.Put("/cart/update", s.updateCart)
		r.Delete("/cart/clear", s.clearCart)

		r.Get("/favorites", s.listFavorites)
		r.Post("/favorites/toggle", s.toggleFavorite)

		r.Get("/orders", s.listOrders)
		r.Post("/orders", s.createOrder)
	})
	return r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "memory"})
}

// bump advances the global revision. Callers hold s.mu.
func (s *Server) bump() int64 {
	s.revision++
	return s.revision
}

type userKey struct{}

func userFrom(r *http.Request) string {
	if u, ok := r.Context().Value(userKey{}).(string); ok {
		return u
	}
	return GuestUser
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("session_token"); err == nil {
		return c.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeVersioned(w http.ResponseWriter, status int, version int64, v interface{}) {
	w.Header().Set(httptransport.VersionHeader, formatInt(version))
	writeJSON(w, status, v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
