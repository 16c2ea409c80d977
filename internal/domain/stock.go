package domain

// Variant: запись складского реестра: конкретный размер и цвет товара со своей ценой и остатком.
type Variant struct {
	ID            string
	ProductID     string
	ProductName   string
	ProductActive bool
	Size          string
	Color         string
	PriceMinor    int64
	// Stock никогда не уходит в минус.
	Stock int32
}

// CheckAvailability проверяет, можно ли продать qty единиц варианта.
func (v Variant) CheckAvailability(qty int32) error {
	if !v.ProductActive {
		return WrapError(KindProductUnavailable, ErrProductUnavailable, "variant %s", v.ID)
	}
	if v.Stock < qty {
		return &InsufficientStockError{VariantID: v.ID, Requested: qty, Available: v.Stock}
	}
	return nil
}
