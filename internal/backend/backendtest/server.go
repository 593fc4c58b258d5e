// Package backendtest runs an in-process fake of the storefront API for tests
// that exercise the wired engine end to end.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	Email    = "ana@example.com"
	Password = "secret-password"
	UserID   = 5
)

// Token returns an HS256 access token carrying user_id and jti.
func Token(t testing.TB, userID int, jti string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":    userID,
		"jti":        jti,
		"token_type": "access",
	}).SignedString([]byte("backendtest"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

type product struct {
	name  string
	price string
}

// Server accepts exactly one access token and one refresh token at a time.
type Server struct {
	*httptest.Server
	t testing.TB

	mu        sync.Mutex
	access    string
	refresh   string
	issued    int
	products  map[int64]product
	cart      map[int64]int
	favorites map[int64]int64
	nextFav   int64

	// FailMutations answers 500 to every cart and favorite write.
	FailMutations atomic.Bool
	// RejectRefresh answers 401 to the refresh endpoint.
	RejectRefresh atomic.Bool

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
}

func New(t testing.TB) *Server {
	s := &Server{
		t:         t,
		products:  make(map[int64]product),
		cart:      make(map[int64]int),
		favorites: make(map[int64]int64),
		nextFav:   900,
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login/", s.login)
		r.Post("/auth/token/refresh/", s.refreshToken)
		r.Post("/auth/logout/", s.logout)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/auth/usuarios/me/", s.me)
			r.Get("/orders/carrito/", s.getCart)
			r.Post("/orders/carrito/agregar/", s.addToCart)
			r.Put("/orders/carrito/actualizar/{id}/", s.updateCart)
			r.Delete("/orders/carrito/quitar/{id}/", s.removeFromCart)
			r.Post("/orders/carrito/vaciar/", s.clearCart)
			r.Get("/products/favoritos/", s.listFavorites)
			r.Post("/products/favoritos/", s.addFavorite)
			r.Get("/products/favoritos/verificar/{id}/", s.checkFavorite)
			r.Delete("/products/favoritos/{id}/", s.removeFavorite)
		})
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

// BaseURL is the API root to configure the client with.
func (s *Server) BaseURL() string {
	return s.Server.URL + "/api"
}

// Issue makes a fresh token pair the only accepted one and returns it.
func (s *Server) Issue() (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue()
}

func (s *Server) issue() (string, string) {
	s.issued++
	s.access = Token(s.t, UserID, fmt.Sprintf("access-%d", s.issued))
	s.refresh = fmt.Sprintf("refresh-%d", s.issued)
	return s.access, s.refresh
}

// ExpireAccess stops accepting the current access token.
func (s *Server) ExpireAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = "expired"
}

func (s *Server) AddProduct(id int64, name, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = product{name: name, price: price}
}

func (s *Server) SetCartLine(productID int64, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart[productID] = quantity
}

func (s *Server) CartQuantity(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart[productID]
}

func (s *Server) IsFavorite(productID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.favorites[productID]
	return ok
}

func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

func (s *Server) LogoutCalls() int { return int(s.logoutCalls.Load()) }

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+s.access
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) user() map[string]interface{} {
	return map[string]interface{}{
		"id_usuario": UserID,
		"email":      Email,
		"nombre":     "Ana",
		"apellido":   "Diaz",
		"rol":        "cliente",
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}
	if body.Email != Email || body.Password != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}

	access, refresh := s.Issue()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access":  access,
		"refresh": refresh,
		"usuario": s.user(),
	})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	var body struct {
		Refresh string `json:"refresh"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RejectRefresh.Load() || body.Refresh != s.refresh {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	s.issued++
	s.access = Token(s.t, UserID, fmt.Sprintf("access-%d", s.issued))
	writeJSON(w, http.StatusOK, map[string]string{"access": s.access})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)
	w.WriteHeader(http.StatusResetContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.user())
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.cart))
	for id := range s.cart {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	items := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		p := s.products[id]
		items = append(items, map[string]interface{}{
			"producto_id": id,
			"cantidad":    s.cart[id],
			"producto_detalle": map[string]interface{}{
				"id":         id,
				"nombre":     p.name,
				"precio":     p.price,
				"imagen_url": fmt.Sprintf("/media/products/%d.jpg", id),
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) failing(w http.ResponseWriter) bool {
	if s.FailMutations.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return true
	}
	return false
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	var body struct {
		ProductoID int64 `json:"producto_id"`
		Cantidad   int   `json:"cantidad"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[body.ProductoID]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Producto no encontrado"})
		return
	}
	s.cart[body.ProductoID] += body.Cantidad
	writeJSON(w, http.StatusCreated, map[string]string{"message": "ok"})
}

func (s *Server) updateCart(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	id := pathID(r)
	var body struct {
		Cantidad int `json:"cantidad"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart[id] = body.Cantidad
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *Server) removeFromCart(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cart, pathID(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = make(map[int64]int)
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *Server) listFavorites(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]int64, 0, len(s.favorites))
	for pid, id := range s.favorites {
		out = append(out, map[string]int64{"id": id, "producto": pid})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

func (s *Server) addFavorite(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	var body struct {
		Producto int64 `json:"producto"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFav++
	s.favorites[body.Producto] = s.nextFav
	writeJSON(w, http.StatusCreated, map[string]int64{"id": s.nextFav, "producto": body.Producto})
}

func (s *Server) checkFavorite(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.favorites[pathID(r)]
	writeJSON(w, http.StatusOK, map[string]interface{}{"is_favorite": ok, "favorite_id": id})
}

func (s *Server) removeFavorite(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	record := pathID(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, id := range s.favorites {
		if id == record {
			delete(s.favorites, pid)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No encontrado."})
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(strings.TrimSuffix(chi.URLParam(r, "id"), "/"), 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
