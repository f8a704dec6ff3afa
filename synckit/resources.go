package synckit

import (
	"time"
)

// ResourceType names one kind of cached storefront data.
type ResourceType string

const (
	ResourceProducts      ResourceType = "products"
	ResourceOrders        ResourceType = "orders"
	ResourceCategories    ResourceType = "categories"
	ResourceCart          ResourceType = "cart"
	ResourceFavorites     ResourceType = "favorites"
	ResourceCarBrands     ResourceType = "car_brands"
	ResourceCarModels     ResourceType = "car_models"
	ResourceProductBrands ResourceType = "product_brands"
)

// AllResourceTypes lists the built-in resource types in their default sync order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceProducts,
		ResourceCategories,
		ResourceCarBrands,
		ResourceCarModels,
		ResourceProductBrands,
		ResourceCart,
		ResourceFavorites,
		ResourceOrders,
	}
}

// Record is a single cached entity. IDs are unique within a resource type.
type Record interface {
	RecordID() string
}

// Versioned is implemented by records that carry a server-assigned version.
// Zero means the server did not report one.
type Versioned interface {
	ServerVersion() int64
}

type Product struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	NameAr         string   `json:"name_ar,omitempty"`
	Description    string   `json:"description,omitempty"`
	DescriptionAr  string   `json:"description_ar,omitempty"`
	Price          float64  `json:"price"`
	SKU            string   `json:"sku"`
	ProductBrandID string   `json:"product_brand_id,omitempty"`
	CategoryID     string   `json:"category_id,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	Images         []string `json:"images,omitempty"`
	CarModelIDs    []string `json:"car_model_ids,omitempty"`
	StockQuantity  int      `json:"stock_quantity"`
	HiddenStatus   bool     `json:"hidden_status,omitempty"`
	Version        int64    `json:"version,omitempty"`
}

func (p Product) RecordID() string     { return p.ID }
func (p Product) ServerVersion() int64 { return p.Version }

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	NameAr   string `json:"name_ar,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

func (c Category) RecordID() string { return c.ID }

type CarBrand struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	NameAr string `json:"name_ar,omitempty"`
	Logo   string `json:"logo,omitempty"`
}

func (b CarBrand) RecordID() string { return b.ID }

type CarModel struct {
	ID        string `json:"id"`
	BrandID   string `json:"brand_id"`
	Name      string `json:"name"`
	NameAr    string `json:"name_ar,omitempty"`
	YearStart int    `json:"year_start,omitempty"`
	YearEnd   int    `json:"year_end,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

func (m CarModel) RecordID() string { return m.ID }

type ProductBrand struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	NameAr          string `json:"name_ar,omitempty"`
	Logo            string `json:"logo,omitempty"`
	CountryOfOrigin string `json:"country_of_origin,omitempty"`
}

func (b ProductBrand) RecordID() string { return b.ID }

// CartItem is keyed by product: the server keeps one line per product.
type CartItem struct {
	ProductID string   `json:"product_id"`
	Quantity  int      `json:"quantity"`
	Product   *Product `json:"product,omitempty"`
	Version   int64    `json:"version,omitempty"`
}

func (c CartItem) RecordID() string     { return c.ProductID }
func (c CartItem) ServerVersion() int64 { return c.Version }

type Favorite struct {
	ID        string   `json:"id,omitempty"`
	ProductID string   `json:"product_id"`
	Product   *Product `json:"product,omitempty"`
	Version   int64    `json:"version,omitempty"`
}

func (f Favorite) RecordID() string     { return f.ProductID }
func (f Favorite) ServerVersion() int64 { return f.Version }

type OrderItem struct {
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	ProductNameAr string  `json:"product_name_ar,omitempty"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	ImageURL      string  `json:"image_url,omitempty"`
}

// DeliveryAddress mirrors the address block of an order checkout.
type DeliveryAddress struct {
	StreetAddress        string `json:"street_address"`
	City                 string `json:"city"`
	State                string `json:"state"`
	Country              string `json:"country"`
	DeliveryInstructions string `json:"delivery_instructions,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Status          string          `json:"status,omitempty"`
	Subtotal        float64         `json:"subtotal"`
	ShippingCost    float64         `json:"shipping_cost"`
	Total           float64         `json:"total"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	DeliveryAddress DeliveryAddress `json:"delivery_address"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	Version         int64           `json:"version,omitempty"`

	// Local is true for an order placed offline and not yet confirmed.
	Local bool `json:"local,omitempty"`
}

func (o Order) RecordID() string     { return o.ID }
func (o Order) ServerVersion() int64 { return o.Version }

// OrderStatusPending is shown for orders placed while offline.
const OrderStatusPending = "pending"
