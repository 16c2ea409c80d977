package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

func (a *api) adminListOrders(c *gin.Context) {
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

	orders, err := a.deps.Orders.AdminList(c.Request.Context(), filter)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": newOrderList(orders), "page": pageOf(query.Page)})
}

func (a *api) adminStats(c *gin.Context) {
	stats, err := a.deps.Orders.Stats(c.Request.Context())
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, newStatsResponse(stats))
}

// adminChangeStatus применяет переход; недопустимый переход отвечает 400 со списком allowed.
func (a *api) adminChangeStatus(c *gin.Context) {
	var req changeStatusRequest
	if err := bindJSON(c, a.validate, &req); err != nil {
		writeError(c, a.logger, err)
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}

	order, err := a.deps.Orders.ChangeStatus(c.Request.Context(), c.Param("id"), target)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	a.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
		"admin_id": currentIdentity(c).UserID,
	}).Info("order status changed by admin")
	c.JSON(http.StatusOK, gin.H{"order": newOrderResponse(order)})
}

func (a *api) adminDeadLetters(c *gin.Context) {
	if a.deps.DeadLetters == nil {
		c.JSON(http.StatusOK, gin.H{"deadLetters": []domain.DeadLetterEntry{}})
		return
	}
	entries, err := a.deps.DeadLetters.DeadLetters(c.Request.Context())
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.DeadLetterEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"deadLetters": entries, "count": len(entries)})
}
