package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

// ShippingCost is the flat delivery fee added to every order.
const ShippingCost = 150.0

const defaultProductLimit = 50

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeHidden := q.Get("include_hidden") == "true"
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultProductLimit
	}

	s.mu.Lock()
	categories := s.categoryWithChildren(q.Get("category_id"))
	var matched []synckit.Product
	for _, p := range s.catalog.Products {
		if p.HiddenStatus && !includeHidden {
			continue
		}
		if categories != nil && !categories[p.CategoryID] {
			continue
		}
		if b := q.Get("product_brand_id"); b != "" && p.ProductBrandID != b {
			continue
		}
		if m := q.Get("car_model_id"); m != "" && !contains(p.CarModelIDs, m) {
			continue
		}
		matched = append(matched, p)
	}
	s.mu.Unlock()

	total := len(matched)
	if skip > total {
		skip = total
	}
	end := skip + limit
	if end > total {
		end = total
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"products": nonNil(matched[skip:end]),
		"total":    total,
	})
}

// categoryWithChildren returns nil when id is empty. Callers hold s.mu.
func (s *Server) categoryWithChildren(id string) map[string]bool {
	if id == "" {
		return nil
	}
	set := map[string]bool{id: true}
	for _, c := range s.catalog.Categories {
		if c.ParentID == id {
			set[c.ID] = true
		}
	}
	return set
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]synckit.Category{}, s.catalog.Categories...)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listCarBrands(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]synckit.CarBrand{}, s.catalog.CarBrands...)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listCarModels(w http.ResponseWriter, r *http.Request) {
	brand := r.URL.Query().Get("brand_id")
	s.mu.Lock()
	var out []synckit.CarModel
	for _, m := range s.catalog.CarModels {
		if brand == "" || m.BrandID == brand {
			out = append(out, m)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) listProductBrands(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]synckit.ProductBrand{}, s.catalog.ProductBrands...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

type cartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	s.mu.Lock()
	items := s.cartItems(user)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": user, "items": items})
}

// cartItems returns the cart sorted by product. Callers hold s.mu.
func (s *Server) cartItems(user string) []synckit.CartItem {
	items := make([]synckit.CartItem, 0, len(s.carts[user]))
	for _, item := range s.carts[user] {
		line := *item
		line.Product = s.product(item.ProductID)
		items = append(items, line)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items
}

// product returns a copy of the catalog entry or nil. Callers hold s.mu.
func (s *Server) product(id string) *synckit.Product {
	for i := range s.catalog.Products {
		if s.catalog.Products[i].ID == id {
			p := s.catalog.Products[i]
			return &p
		}
	}
	return nil
}

func (s *Server) cart(user string) map[string]*synckit.CartItem {
	c, ok := s.carts[user]
	if !ok {
		c = make(map[string]*synckit.CartItem)
		s.carts[user] = c
	}
	return c
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.product(req.ProductID) == nil {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	cart := s.cart(userFrom(r))
	line, ok := cart[req.ProductID]
	if !ok {
		line = &synckit.CartItem{ProductID: req.ProductID}
		cart[req.ProductID] = line
	}
	line.Quantity += req.Quantity
	line.Version = s.bump()
	writeVersioned(w, http.StatusOK, line.Version, map[string]string{"message": "Added to cart"})
}

func (s *Server) updateCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	version := s.setCartLine(userFrom(r), req.ProductID, req.Quantity)
	writeVersioned(w, http.StatusOK, version, map[string]string{"message": "Cart updated"})
}

// setCartLine sets an absolute quantity; zero or less removes the line.
// Callers hold s.mu.
func (s *Server) setCartLine(user, productID string, quantity int) int64 {
	cart := s.cart(user)
	version := s.bump()
	if quantity <= 0 {
		delete(cart, productID)
		return version
	}
	line, ok := cart[productID]
	if !ok {
		line = &synckit.CartItem{ProductID: productID}
		cart[productID] = line
	}
	line.Quantity = quantity
	line.Version = version
	return version
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.carts, userFrom(r))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cart cleared"})
}

type toggleRequest struct {
	ProductID string `json:"product_id"`
	// Favorite pins the desired state. Absent means flip.
	Favorite *bool `json:"favorite,omitempty"`
}

func (s *Server) listFavorites(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	s.mu.Lock()
	out := make([]synckit.Favorite, 0)
	for _, row := range s.favorites[user] {
		if row.deleted {
			continue
		}
		fav := row.Favorite
		fav.Product = s.product(row.ProductID)
		if fav.Product == nil {
			continue
		}
		out = append(out, fav)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	writeJSON(w, http.StatusOK, map[string]interface{}{"favorites": out, "total": len(out)})
}

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	user := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	favs, ok := s.favorites[user]
	if !ok {
		favs = make(map[string]*favoriteRow)
		s.favorites[user] = favs
	}
	row, exists := favs[req.ProductID]
	if !exists {
		row = &favoriteRow{Favorite: synckit.Favorite{ID: uuid.NewString(), ProductID: req.ProductID}, deleted: true}
		favs[req.ProductID] = row
	}
	want := row.deleted
	if req.Favorite != nil {
		want = *req.Favorite
	}
	row.deleted = !want
	row.Version = s.bump()

	msg := "Removed from favorites"
	if want {
		msg = "Added to favorites"
	}
	writeVersioned(w, http.StatusOK, row.Version, map[string]interface{}{"is_favorite": want, "message": msg})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	placed := s.orders[userFrom(r)]
	out := make([]synckit.Order, len(placed))
	for i := range placed {
		out[len(placed)-1-i] = placed[i]
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req synckit.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if missing := missingOrderFields(req); len(missing) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "Missing fields: "+strings.Join(missing, ", "))
		return
	}

	user := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.cartItems(user)
	var (
		subtotal float64
		lines    []synckit.OrderItem
	)
	for _, item := range items {
		if item.Product == nil {
			continue
		}
		subtotal += item.Product.Price * float64(item.Quantity)
		lines = append(lines, synckit.OrderItem{
			ProductID:     item.ProductID,
			ProductName:   item.Product.Name,
			ProductNameAr: item.Product.NameAr,
			Quantity:      item.Quantity,
			Price:         item.Product.Price,
			ImageURL:      item.Product.ImageURL,
		})
	}
	if len(lines) == 0 {
		writeError(w, http.StatusBadRequest, "Cart is empty")
		return
	}

	now := s.now().UTC()
	order := synckit.Order{
		ID:            uuid.NewString(),
		OrderNumber:   fmt.Sprintf("ORD-%s-%s", now.Format("20060102150405"), strings.ToUpper(uuid.NewString()[:4])),
		CustomerName:  strings.TrimSpace(req.FirstName + " " + req.LastName),
		CustomerEmail: req.Email,
		Phone:         req.Phone,
		Status:        synckit.OrderStatusPending,
		Subtotal:      subtotal,
		ShippingCost:  ShippingCost,
		Total:         subtotal + ShippingCost,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		DeliveryAddress: synckit.DeliveryAddress{
			StreetAddress:        req.StreetAddress,
			City:                 req.City,
			State:                req.State,
			Country:              req.Country,
			DeliveryInstructions: req.DeliveryInstructions,
		},
		Items:     lines,
		CreatedAt: now,
		Version:   s.bump(),
	}
	s.orders[user] = append(s.orders[user], order)
	delete(s.carts, user)

	s.logger.Info("Order created", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.Total)
	writeVersioned(w, http.StatusOK, order.Version, order)
}

func missingOrderFields(req synckit.OrderRequest) []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"first_name", req.FirstName},
		{"last_name", req.LastName},
		{"phone", req.Phone},
		{"street_address", req.StreetAddress},
		{"city", req.City},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
