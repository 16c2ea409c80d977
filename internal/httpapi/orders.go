package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey: альтернатива полю idempotencyKey в теле.
const HeaderIdempotencyKey = "Idempotency-Key"

// createOrder: 201 для нового заказа, 200 для повтора с тем же ключом.
func (a *api) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := bindJSON(c, a.validate, &req); err != nil {
		writeError(c, a.logger, err)
		return
	}

	order, created, err := a.deps.Checkout.Create(c.Request.Context(), req.toCheckout(currentIdentity(c), c.GetHeader(HeaderIdempotencyKey)))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		c.Header("Location", "/api/orders/"+order.ID)
	}
	c.JSON(status, gin.H{"order": newOrderResponse(order), "created": created})
}

func (a *api) listOrders(c *gin.Context) {
	var query listOrdersQuery
	if err := bindQuery(c, a.validate, &query); err != nil {
		writeError(c, a.logger, err)
		return
	}
	filter, err := query.toFilter()
	if err != nil {
		writeError(c, a.logger, err)
		return
	}

	orders, err := a.deps.Orders.List(c.Request.Context(), currentIdentity(c).UserID, filter)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": newOrderList(orders), "page": pageOf(query.Page)})
}

func (a *api) getOrder(c *gin.Context) {
	order, err := a.deps.Orders.Get(c.Request.Context(), currentIdentity(c).UserID, c.Param("id"))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": newOrderResponse(order)})
}

func (a *api) orderTimeline(c *gin.Context) {
	events, err := a.deps.Orders.Timeline(c.Request.Context(), currentIdentity(c).UserID, c.Param("id"))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": newTimelineResponse(events)})
}

func (a *api) cancelOrder(c *gin.Context) {
	order, err := a.deps.Orders.Cancel(c.Request.Context(), currentIdentity(c).UserID, c.Param("id"))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": newOrderResponse(order)})
}

func pageOf(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

