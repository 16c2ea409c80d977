package memory

import "github.com/vladislavdragonenkov/printme/internal/domain"

// DemoCatalogue возвращает небольшой набор вариантов для локального запуска витрины.
func DemoCatalogue() []domain.Variant {
	const stock = 100
	type product struct {
		id, name string
		price    int64
		sizes    []string
		colors   []string
	}
	products := []product{
		{id: "tee-classic", name: "Classic T-Shirt", price: 59900, sizes: []string{"S", "M", "L", "XL"}, colors: []string{"black", "white"}},
		{id: "hoodie-zip", name: "Zip Hoodie", price: 149900, sizes: []string{"M", "L"}, colors: []string{"grey"}},
		{id: "mug-ceramic", name: "Ceramic Mug", price: 34900, sizes: []string{"11oz"}, colors: []string{"white"}},
	}

	var variants []domain.Variant
	for _, p := range products {
		for _, size := range p.sizes {
			for _, color := range p.colors {
				variants = append(variants, domain.Variant{
					ID:            p.id + "-" + size + "-" + color,
					ProductID:     p.id,
					ProductName:   p.name,
					ProductActive: true,
					Size:          size,
					Color:         color,
					PriceMinor:    p.price,
					Stock:         stock,
				})
			}
		}
	}
	return variants
}
