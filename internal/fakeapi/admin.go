package fakeapi

import "github.com/c0deZ3R0/go-offline-kit/synckit"

// The methods below change state behind the client's back, the way a
// second device or a back-office edit would.

// SetCartQuantity overwrites a cart line and returns its new version.
func (s *Server) SetCartQuantity(user, productID string, quantity int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCartLine(user, productID, quantity)
}

// UpdateProduct applies fn to a catalog product and bumps its version.
func (s *Server) UpdateProduct(id string, fn func(*synckit.Product)) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.catalog.Products {
		if s.catalog.Products[i].ID == id {
			fn(&s.catalog.Products[i])
			s.catalog.Products[i].Version = s.bump()
			return s.catalog.Products[i].Version, true
		}
	}
	return 0, false
}

// CartOf returns user's cart lines.
func (s *Server) CartOf(user string) []synckit.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartItems(user)
}

// OrdersOf returns user's orders, oldest first.
func (s *Server) OrdersOf(user string) []synckit.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]synckit.Order(nil), s.orders[user]...)
}

// IsFavorite reports whether user currently favors productID.
func (s *Server) IsFavorite(user, productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.favorites[user][productID]
	return ok && !row.deleted
}

// Revision is the last version handed out.
func (s *Server) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}
