package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// Коды ошибок уровня HTTP, не имеющие доменной категории.
const (
	codeInternal         = "INTERNAL"
	codeUnauthenticated  = "UNAUTHENTICATED"
	codeForbidden        = "FORBIDDEN"
	codeInvalidSignature = "INVALID_SIGNATURE"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Allowed []string          `json:"allowed,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusForKind сопоставляет категорию ошибки с HTTP-статусом.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation,
		domain.KindInvalidTransition,
		domain.KindInsufficientStock,
		domain.KindProductUnavailable:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError отвечает телом {"error": {...}}. Внутренние ошибки логируются, а наружу
// уходит только общий текст.
func writeError(c *gin.Context, logger *log.Entry, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	body := errorBody{Code: kind.Code(), Message: err.Error()}

	var transitionErr *domain.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		body.Allowed = make([]string, 0, len(transitionErr.Allowed))
		for _, s := range transitionErr.Allowed {
			body.Allowed = append(body.Allowed, string(s))
		}
	}
	var fieldsErr *fieldErrors
	if errors.As(err, &fieldsErr) {
		body.Fields = fieldsErr.fields
	}

	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
		body = errorBody{Code: codeInternal, Message: "internal server error"}
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: body})
}

func abortWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: errorBody{Code: code, Message: message}})
}
