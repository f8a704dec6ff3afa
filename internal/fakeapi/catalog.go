package fakeapi

import "github.com/c0deZ3R0/go-offline-kit/synckit"

// Catalog is the read-mostly reference data a Server starts with.
type Catalog struct {
	Products      []synckit.Product
	Categories    []synckit.Category
	CarBrands     []synckit.CarBrand
	CarModels     []synckit.CarModel
	ProductBrands []synckit.ProductBrand
}

// DefaultCatalog returns a small auto-parts catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		Categories: []synckit.Category{
			{ID: "cat-brakes", Name: "Brakes", NameAr: "فرامل", Icon: "disc"},
			{ID: "cat-pads", Name: "Brake Pads", NameAr: "تيل فرامل", ParentID: "cat-brakes"},
			{ID: "cat-filters", Name: "Filters", NameAr: "فلاتر", Icon: "filter"},
			{ID: "cat-engine", Name: "Engine", NameAr: "محرك", Icon: "engine"},
		},
		CarBrands: []synckit.CarBrand{
			{ID: "cb-toyota", Name: "Toyota", NameAr: "تويوتا"},
			{ID: "cb-hyundai", Name: "Hyundai", NameAr: "هيونداي"},
		},
		CarModels: []synckit.CarModel{
			{ID: "cm-corolla", BrandID: "cb-toyota", Name: "Corolla", YearStart: 2014, YearEnd: 2022},
			{ID: "cm-elantra", BrandID: "cb-hyundai", Name: "Elantra", YearStart: 2016, YearEnd: 2023},
		},
		ProductBrands: []synckit.ProductBrand{
			{ID: "pb-bosch", Name: "Bosch", CountryOfOrigin: "Germany"},
			{ID: "pb-denso", Name: "Denso", CountryOfOrigin: "Japan"},
		},
		Products: []synckit.Product{
			{
				ID: "p-brake-pad", Name: "Front Brake Pad Set", NameAr: "طقم تيل أمامي",
				Price: 850, SKU: "BP-1001", ProductBrandID: "pb-bosch", CategoryID: "cat-pads",
				CarModelIDs: []string{"cm-corolla"}, StockQuantity: 12,
			},
			{
				ID: "p-oil-filter", Name: "Oil Filter", NameAr: "فلتر زيت",
				Price: 120, SKU: "OF-2040", ProductBrandID: "pb-denso", CategoryID: "cat-filters",
				CarModelIDs: []string{"cm-corolla", "cm-elantra"}, StockQuantity: 40,
			},
			{
				ID: "p-air-filter", Name: "Air Filter", NameAr: "فلتر هواء",
				Price: 180, SKU: "AF-3300", ProductBrandID: "pb-denso", CategoryID: "cat-filters",
				CarModelIDs: []string{"cm-elantra"}, StockQuantity: 25,
			},
			{
				ID: "p-spark-plug", Name: "Iridium Spark Plug", NameAr: "بوجيه إيريديوم",
				Price: 210, SKU: "SP-0007", ProductBrandID: "pb-bosch", CategoryID: "cat-engine",
				StockQuantity: 0, HiddenStatus: true,
			},
		},
	}
}
