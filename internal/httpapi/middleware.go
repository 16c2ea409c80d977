package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// Заголовки, которые проставляет шлюз аутентификации.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserPhone = "X-User-Phone"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-Id"

	// RoleAdmin: роль с доступом к /api/admin.
	RoleAdmin = "ADMIN"
)

const identityKey = "printme.identity"

// identity: пользователь запроса по данным шлюза.
type identity struct {
	UserID  string
	Role    string
	Contact domain.Contact
}

// requestLogger пишет одну строку лога на запрос.
func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)

		c.Next()

		entry := logger.WithFields(log.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request completed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request completed")
		default:
			entry.Debug("request completed")
		}
	}
}

// requireUser отклоняет запросы без X-User-ID.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity{
			UserID: strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Role:   strings.ToUpper(strings.TrimSpace(c.GetHeader(HeaderUserRole))),
			Contact: domain.Contact{
				Email: strings.TrimSpace(c.GetHeader(HeaderUserEmail)),
				Phone: strings.TrimSpace(c.GetHeader(HeaderUserPhone)),
			},
		}
		if id.UserID == "" {
			abortWith(c, http.StatusUnauthorized, codeUnauthenticated, "missing "+HeaderUserID+" header")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// requireAdmin пропускает только роль ADMIN; ставится после requireUser.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentIdentity(c).Role != RoleAdmin {
			abortWith(c, http.StatusForbidden, codeForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

func currentIdentity(c *gin.Context) identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return identity{}
	}
	id, _ := value.(identity)
	return id
}
