package domain

import (
	"strings"
	"time"
)

const (
	// DefaultAddressLabel подставляется, если клиент не подписал адрес.
	DefaultAddressLabel = "Home"
	// DefaultCountry: страна доставки по умолчанию.
	DefaultCountry = "IN"
)

// Address: адрес доставки, принадлежащий пользователю.
type Address struct {
	ID        string
	UserID    string
	Label     string
	Line1     string
	Line2     string
	City      string
	State     string
	Zip       string
	Country   string
	CreatedAt time.Time
}

// Normalize обрезает пробелы и подставляет значения по умолчанию.
func (a *Address) Normalize() {
	a.Label = strings.TrimSpace(a.Label)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.Zip = strings.TrimSpace(a.Zip)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Label == "" {
		a.Label = DefaultAddressLabel
	}
	if a.Country == "" {
		a.Country = DefaultCountry
	}
}

// Validate проверяет обязательные поля адреса.
func (a Address) Validate() error {
	switch {
	case a.Line1 == "":
		return ValidationError("address line1 is required")
	case a.City == "":
		return ValidationError("address city is required")
	case a.State == "":
		return ValidationError("address state is required")
	case a.Zip == "":
		return ValidationError("address zip is required")
	}
	return nil
}
