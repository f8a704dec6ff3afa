package synckit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// DefaultShippingCost is the flat shipping fee the storefront charges.
const DefaultShippingCost = 150.0

// Mutation is a local change applied to the cache right away and queued for
// replay against the server.
type Mutation struct {
	Kind       ActionKind
	Endpoint   string
	Method     string
	Payload    any
	MaxRetries int

	// ResourceType and ResourceID link the queued action to a record.
	ResourceType ResourceType
	ResourceID   string

	// Track records a local edit in the version tracker so later server
	// versions of the record are checked for conflicts.
	Track bool

	// Reassert is stored as the record's latest edit. It must restate the
	// local state rather than a delta. Defaults to the action itself.
	Reassert *EditTemplate

	// Apply performs the optimistic cache change. It runs only after the
	// payload has been validated.
	Apply func() error
}

// Mutate applies m optimistically and enqueues it. A non-nil error with a
// populated action means the action was queued but could not be persisted.
func (e *Engine) Mutate(ctx context.Context, m Mutation) (OfflineAction, error) {
	if err := e.ensureOpen(syncErrors.OpEnqueue); err != nil {
		return OfflineAction{}, err
	}
	raw, err := marshalPayload(m.Payload)
	if err != nil {
		return OfflineAction{}, syncErrors.E(
			syncErrors.OpEnqueue,
			syncErrors.Component("engine"),
			syncErrors.KindInvalid,
			err,
		)
	}

	var base int64
	if m.Track && m.ResourceType != "" {
		if set, ok := e.cache.get(m.ResourceType); ok {
			base = set.version(m.ResourceID)
		}
	}

	if m.Apply != nil {
		if err := m.Apply(); err != nil {
			return OfflineAction{}, err
		}
		if m.ResourceType != "" {
			e.notify(Event{Type: EventCacheUpdated, Resource: m.ResourceType, ResourceID: m.ResourceID})
		}
	}

	var opts []EnqueueOption
	if m.ResourceType != "" {
		opts = append(opts, ForResource(m.ResourceType, m.ResourceID))
	}
	if m.Track && m.ResourceType != "" {
		opts = append(opts, Tracked())
	}
	action, enqErr := e.queue.Enqueue(ctx, m.Kind, m.Endpoint, m.Method, raw, m.MaxRetries, opts...)
	if action.ID == "" {
		return action, enqErr
	}

	if m.Track && m.ResourceType != "" {
		edit := m.Reassert
		if edit == nil {
			edit = &EditTemplate{Kind: m.Kind, Endpoint: m.Endpoint, Method: m.Method, Payload: raw}
		}
		e.conflicts.RecordLocalEdit(m.ResourceType, m.ResourceID, base, edit)
	}

	e.setFlag(action, FlagQueued)
	pending, failed := e.queue.Counts()
	e.metrics.RecordQueueDepth(pending, failed)
	e.notify(Event{Type: EventQueueChanged, ActionID: action.ID})
	return action, enqErr
}

type cartPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type favoritePayload struct {
	ProductID string `json:"product_id"`
	Favorite  bool   `json:"favorite"`
}

// AddToCart adds quantity of a product to the cart.
func (e *Engine) AddToCart(ctx context.Context, productID string, quantity int) (OfflineAction, error) {
	if productID == "" || quantity <= 0 {
		return OfflineAction{}, syncErrors.NewValidationError(syncErrors.OpEnqueue,
			fmt.Errorf("add to cart needs a product and a positive quantity, got %q x%d", productID, quantity))
	}

	current := 0
	if item, ok := e.cartItem(productID); ok {
		current = item.Quantity
	}
	total := current + quantity

	return e.Mutate(ctx, Mutation{
		Kind:         ActionCartAdd,
		Endpoint:     "/cart/add",
		Method:       http.MethodPost,
		Payload:      cartPayload{ProductID: productID, Quantity: quantity},
		ResourceType: ResourceCart,
		ResourceID:   productID,
		Track:        true,
		Reassert:     cartReassert(productID, total),
		Apply: func() error {
			return e.setCartQuantity(productID, func(cur int) int { return cur + quantity })
		},
	})
}

// UpdateCartItem sets the quantity of a cart line. A quantity of zero or
// less removes the line.
func (e *Engine) UpdateCartItem(ctx context.Context, productID string, quantity int) (OfflineAction, error) {
	if productID == "" {
		return OfflineAction{}, syncErrors.NewValidationError(syncErrors.OpEnqueue,
			fmt.Errorf("update cart needs a product id"))
	}
	if quantity < 0 {
		quantity = 0
	}
	return e.Mutate(ctx, Mutation{
		Kind:         ActionCartUpdate,
		Endpoint:     "/cart/update",
		Method:       http.MethodPut,
		Payload:      cartPayload{ProductID: productID, Quantity: quantity},
		ResourceType: ResourceCart,
		ResourceID:   productID,
		Track:        true,
		Apply: func() error {
			return e.setCartQuantity(productID, func(int) int { return quantity })
		},
	})
}

// ClearCart empties the cart.
func (e *Engine) ClearCart(ctx context.Context) (OfflineAction, error) {
	return e.Mutate(ctx, Mutation{
		Kind:         ActionCartClear,
		Endpoint:     "/cart/clear",
		Method:       http.MethodDelete,
		ResourceType: ResourceCart,
		Apply: func() error {
			e.cache.replace(ResourceCart, NewCollection[CartItem](nil))
			return nil
		},
	})
}

// ToggleFavorite flips the favorite state of a product and reports the new
// local state.
func (e *Engine) ToggleFavorite(ctx context.Context, productID string) (bool, OfflineAction, error) {
	if productID == "" {
		return false, OfflineAction{}, syncErrors.NewValidationError(syncErrors.OpEnqueue,
			fmt.Errorf("toggle favorite needs a product id"))
	}
	favs, err := collectionOf[Favorite](e.cache, ResourceFavorites)
	if err != nil {
		return false, OfflineAction{}, err
	}
	_, present := favs.Get(productID)
	desired := !present

	action, err := e.Mutate(ctx, Mutation{
		Kind:         ActionFavoriteToggle,
		Endpoint:     "/favorites/toggle",
		Method:       http.MethodPost,
		Payload:      favoritePayload{ProductID: productID, Favorite: desired},
		ResourceType: ResourceFavorites,
		ResourceID:   productID,
		Track:        true,
		Apply: func() error {
			return e.setFavorite(productID, desired)
		},
	})
	return desired, action, err
}

// OrderRequest is the checkout form sent with order-create.
type OrderRequest struct {
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	Email                string `json:"email"`
	Phone                string `json:"phone"`
	StreetAddress        string `json:"street_address"`
	City                 string `json:"city"`
	State                string `json:"state"`
	Country              string `json:"country"`
	DeliveryInstructions string `json:"delivery_instructions,omitempty"`
	PaymentMethod        string `json:"payment_method"`
	Notes                string `json:"notes,omitempty"`
}

func (r OrderRequest) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"first_name":     r.FirstName,
		"last_name":      r.LastName,
		"phone":          r.Phone,
		"street_address": r.StreetAddress,
		"city":           r.City,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("order is missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// CreateOrder places an order from the current cart. The order shows up
// locally as pending right away and the cart is emptied; the server copy
// replaces it once the action is confirmed.
func (e *Engine) CreateOrder(ctx context.Context, req OrderRequest) (Order, OfflineAction, error) {
	if req.Country == "" {
		req.Country = "Egypt"
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash_on_delivery"
	}
	if err := req.validate(); err != nil {
		return Order{}, OfflineAction{}, syncErrors.NewValidationError(syncErrors.OpEnqueue, err)
	}

	cart := e.Cart()
	if len(cart) == 0 {
		return Order{}, OfflineAction{}, syncErrors.NewValidationError(syncErrors.OpEnqueue,
			fmt.Errorf("cart is empty"))
	}

	order := Order{
		ID:            "local-" + uuid.Must(uuid.NewV7()).String(),
		CustomerName:  strings.TrimSpace(req.FirstName + " " + req.LastName),
		CustomerEmail: req.Email,
		Phone:         req.Phone,
		Status:        OrderStatusPending,
		ShippingCost:  DefaultShippingCost,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		DeliveryAddress: DeliveryAddress{
			StreetAddress:        req.StreetAddress,
			City:                 req.City,
			State:                req.State,
			Country:              req.Country,
			DeliveryInstructions: req.DeliveryInstructions,
		},
		CreatedAt: e.now(),
		Local:     true,
	}
	for _, item := range cart {
		line := OrderItem{ProductID: item.ProductID, Quantity: item.Quantity}
		p := item.Product
		if p == nil {
			p = e.product(item.ProductID)
		}
		if p != nil {
			line.ProductName = p.Name
			line.ProductNameAr = p.NameAr
			line.Price = p.Price
			line.ImageURL = p.ImageURL
		}
		order.Subtotal += line.Price * float64(line.Quantity)
		order.Items = append(order.Items, line)
	}
	order.Total = order.Subtotal + order.ShippingCost

	action, err := e.Mutate(ctx, Mutation{
		Kind:         ActionOrderCreate,
		Endpoint:     "/orders",
		Method:       http.MethodPost,
		Payload:      req,
		ResourceType: ResourceOrders,
		ResourceID:   order.ID,
		Apply: func() error {
			if err := patchCollection(e.cache, ResourceOrders, func(c *Collection[Order]) *Collection[Order] {
				return c.Upsert(order)
			}); err != nil {
				return err
			}
			e.cache.replace(ResourceCart, NewCollection[CartItem](nil))
			return nil
		},
	})
	return order, action, err
}

// Resolve settles the tracked record rt/id. With keepLocal the pending
// actions for the record are replaced by a single action re-asserting the
// latest local edit. Otherwise tracking is dropped, the record's queued
// actions are cancelled and the next sync's copy wins.
func (e *Engine) Resolve(ctx context.Context, rt ResourceType, id string, keepLocal bool) (*OfflineAction, error) {
	if err := e.ensureOpen(syncErrors.OpConflictResolve); err != nil {
		return nil, err
	}
	v, ok := e.conflicts.Get(rt, id)
	if !ok {
		return nil, notTracked(rt, id)
	}
	if keepLocal && v.LastEdit == nil {
		return nil, syncErrors.NewConflictError(syncErrors.OpConflictResolve,
			fmt.Errorf("%s/%s has no local edit to keep", rt, id))
	}

	cancelled := e.queue.CancelResource(rt, id)
	for _, actionID := range cancelled {
		e.mu.Lock()
		delete(e.flags, actionID)
		e.mu.Unlock()
	}

	if !keepLocal {
		if err := e.conflicts.discard(rt, id); err != nil {
			return nil, err
		}
		e.logger.Info("Conflict resolved in favor of server",
			"resource", rt,
			"id", id,
			"cancelled_actions", len(cancelled))
		e.notify(Event{Type: EventQueueChanged})
		return nil, nil
	}

	if _, err := e.conflicts.keepLocal(rt, id); err != nil {
		return nil, err
	}
	edit := *v.LastEdit
	if err := e.reapply(rt, id, edit); err != nil {
		e.logger.Warn("Could not re-apply local edit to cache", "resource", rt, "id", id, "error", err)
	} else {
		e.notify(Event{Type: EventCacheUpdated, Resource: rt, ResourceID: id})
	}

	action, err := e.queue.Enqueue(ctx, edit.Kind, edit.Endpoint, edit.Method, edit.Payload, 0, ForResource(rt, id), Tracked())
	if action.ID == "" {
		return nil, err
	}
	e.setFlag(action, FlagQueued)
	e.logger.Info("Conflict resolved in favor of local edit",
		"resource", rt,
		"id", id,
		"cancelled_actions", len(cancelled),
		"action_id", action.ID)
	e.metrics.RecordConflicts(len(e.conflicts.Conflicts()))
	e.notify(Event{Type: EventQueueChanged, ActionID: action.ID})
	return &action, err
}

// reapply puts the state described by edit back into the cache.
func (e *Engine) reapply(rt ResourceType, id string, edit EditTemplate) error {
	switch edit.Kind {
	case ActionCartAdd, ActionCartUpdate:
		var p cartPayload
		if err := json.Unmarshal(edit.Payload, &p); err != nil {
			return err
		}
		return e.setCartQuantity(id, func(int) int { return p.Quantity })
	case ActionFavoriteToggle:
		var p favoritePayload
		if err := json.Unmarshal(edit.Payload, &p); err != nil {
			return err
		}
		return e.setFavorite(id, p.Favorite)
	default:
		return fmt.Errorf("no cache rule for %s on %s", edit.Kind, rt)
	}
}

func cartReassert(productID string, quantity int) *EditTemplate {
	raw, _ := json.Marshal(cartPayload{ProductID: productID, Quantity: quantity})
	return &EditTemplate{
		Kind:     ActionCartUpdate,
		Endpoint: "/cart/update",
		Method:   http.MethodPut,
		Payload:  raw,
	}
}

func (e *Engine) setCartQuantity(productID string, next func(current int) int) error {
	product := e.product(productID)
	return patchCollection(e.cache, ResourceCart, func(c *Collection[CartItem]) *Collection[CartItem] {
		item, ok := c.Get(productID)
		if !ok {
			item = CartItem{ProductID: productID, Product: product}
		}
		item.Quantity = next(item.Quantity)
		if item.Quantity <= 0 {
			return c.Remove(productID)
		}
		return c.Upsert(item)
	})
}

func (e *Engine) setFavorite(productID string, favorite bool) error {
	product := e.product(productID)
	return patchCollection(e.cache, ResourceFavorites, func(c *Collection[Favorite]) *Collection[Favorite] {
		if !favorite {
			return c.Remove(productID)
		}
		if _, ok := c.Get(productID); ok {
			return c
		}
		return c.Upsert(Favorite{ProductID: productID, Product: product})
	})
}

func (e *Engine) cartItem(productID string) (CartItem, bool) {
	cart, err := collectionOf[CartItem](e.cache, ResourceCart)
	if err != nil {
		return CartItem{}, false
	}
	return cart.Get(productID)
}

func (e *Engine) product(id string) *Product {
	products, err := collectionOf[Product](e.cache, ResourceProducts)
	if err != nil {
		return nil
	}
	if p, ok := products.Get(id); ok {
		return &p
	}
	return nil
}
