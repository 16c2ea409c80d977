package httpapi

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/service/checkout"
	"github.com/vladislavdragonenkov/printme/internal/service/fulfillment"
)

// minorUnitsExp: цены хранятся в сотых долях.
const minorUnitsExp = -2

// formatMoney переводит сумму в минимальных единицах в строку вида "250.00".
func formatMoney(minor int64) string {
	return decimal.New(minor, minorUnitsExp).StringFixed(-minorUnitsExp)
}

type orderItemRequest struct {
	VariantID string          `json:"variantId" validate:"required,max=64"`
	Quantity  int32           `json:"quantity" validate:"required,min=1,max=99"`
	Design    json.RawMessage `json:"design,omitempty"`
}

type addressRequest struct {
	Label   string `json:"label" validate:"max=50"`
	Line1   string `json:"line1" validate:"required,max=200"`
	Line2   string `json:"line2" validate:"max=200"`
	City    string `json:"city" validate:"required,max=100"`
	State   string `json:"state" validate:"required,max=100"`
	Zip     string `json:"zip" validate:"required,max=20"`
	Country string `json:"country" validate:"max=5"`
}

type createOrderRequest struct {
	IdempotencyKey string             `json:"idempotencyKey" validate:"max=64"`
	Items          []orderItemRequest `json:"items" validate:"required,min=1,max=20,dive"`
	Address        addressRequest     `json:"address"`
}

func (r createOrderRequest) toCheckout(id identity, headerKey string) checkout.CreateOrderRequest {
	key := r.IdempotencyKey
	if key == "" {
		key = headerKey
	}
	items := make([]checkout.ItemRequest, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, checkout.ItemRequest{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Design:    item.Design,
		})
	}
	return checkout.CreateOrderRequest{
		UserID:         id.UserID,
		Contact:        id.Contact,
		Items:          items,
		IdempotencyKey: key,
		Address: domain.Address{
			UserID:  id.UserID,
			Label:   r.Address.Label,
			Line1:   r.Address.Line1,
			Line2:   r.Address.Line2,
			City:    r.Address.City,
			State:   r.Address.State,
			Zip:     r.Address.Zip,
			Country: r.Address.Country,
		},
	}
}

type listOrdersQuery struct {
	Status string `form:"status"`
	Page   int    `form:"page" validate:"omitempty,min=1"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

func (q listOrdersQuery) toFilter() (fulfillment.ListFilter, error) {
	filter := fulfillment.ListFilter{Page: q.Page, Limit: q.Limit}
	if q.Status != "" {
		status, err := domain.ParseOrderStatus(q.Status)
		if err != nil {
			return fulfillment.ListFilter{}, err
		}
		filter.Status = status
	}
	return filter, nil
}

type changeStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type createIntentRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

type createIntentResponse struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
}

type orderItemResponse struct {
	ID        string          `json:"id"`
	VariantID string          `json:"variantId"`
	Quantity  int32           `json:"quantity"`
	UnitPrice string          `json:"unitPrice"`
	LineTotal string          `json:"lineTotal"`
	Design    json.RawMessage `json:"design,omitempty"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	Reference        string              `json:"reference"`
	UserID           string              `json:"userId"`
	Status           domain.OrderStatus  `json:"status"`
	Total            string              `json:"total"`
	AddressID        string              `json:"addressId"`
	PaymentReference string              `json:"paymentReference,omitempty"`
	Items            []orderItemResponse `json:"items"`
	Version          int64               `json:"version"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

func newOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		resp := orderItemResponse{
			ID:        item.ID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: formatMoney(item.UnitPriceMinor),
			LineTotal: formatMoney(item.LineTotalMinor()),
		}
		if item.HasDesign() {
			resp.Design = item.Design
		}
		items = append(items, resp)
	}
	return orderResponse{
		ID:               order.ID,
		Reference:        domain.ShortRef(order.ID),
		UserID:           order.UserID,
		Status:           order.Status,
		Total:            formatMoney(order.TotalMinor),
		AddressID:        order.AddressID,
		PaymentReference: order.PaymentReference,
		Items:            items,
		Version:          order.Version,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}

func newOrderList(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, newOrderResponse(order))
	}
	return out
}

type timelineEventResponse struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func newTimelineResponse(events []domain.TimelineEvent) []timelineEventResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventResponse{Type: e.Type, Reason: e.Reason, OccurredAt: e.Occurred})
	}
	return out
}

type statsResponse struct {
	CountByStatus map[domain.OrderStatus]int `json:"countByStatus"`
	TotalOrders   int                        `json:"totalOrders"`
	Revenue       string                     `json:"revenue"`
}

func newStatsResponse(stats domain.OrderStats) statsResponse {
	counts := make(map[domain.OrderStatus]int, len(domain.OrderStatuses()))
	total := 0
	for _, status := range domain.OrderStatuses() {
		counts[status] = stats.CountByStatus[status]
		total += stats.CountByStatus[status]
	}
	return statsResponse{CountByStatus: counts, TotalOrders: total, Revenue: formatMoney(stats.RevenueMinor)}
}
