// Package jobs содержит обработчики фоновых задач: подготовку файлов печати и уведомления.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// DefaultRenderDir: каталог файлов печати по умолчанию.
const DefaultRenderDir = "output/prints"

// Renderer готовит файл печати по макету позиции.
type Renderer interface {
	Render(ctx context.Context, payload domain.RenderPrintPayload) (path string, err error)
}

// PrintDocument: содержимое файла печати.
type PrintDocument struct {
	OrderID     string          `json:"orderId"`
	OrderItemID string          `json:"orderItemId"`
	Design      json.RawMessage `json:"design"`
	RenderedAt  time.Time       `json:"renderedAt"`
}

// FileRenderer пишет макет в <dir>/print_<orderId>_<itemId>.json.
// Повторная доставка перезаписывает файл целиком.
type FileRenderer struct {
	dir string
	now func() time.Time
}

// NewFileRenderer создаёт FileRenderer.
func NewFileRenderer(dir string) *FileRenderer {
	if dir == "" {
		dir = DefaultRenderDir
	}
	return &FileRenderer{dir: dir, now: func() time.Time { return time.Now().UTC() }}
}

// PrintFileName возвращает имя файла печати для позиции.
func PrintFileName(orderID, orderItemID string) string {
	return fmt.Sprintf("print_%s_%s.json", orderID, orderItemID)
}

// Render реализует Renderer.
func (r *FileRenderer) Render(ctx context.Context, payload domain.RenderPrintPayload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create render dir: %w", err)
	}

	body, err := json.MarshalIndent(PrintDocument{
		OrderID:     payload.OrderID,
		OrderItemID: payload.OrderItemID,
		Design:      payload.Design,
		RenderedAt:  r.now(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode print document: %w", err)
	}

	path := filepath.Join(r.dir, PrintFileName(payload.OrderID, payload.OrderItemID))
	tmp, err := os.CreateTemp(r.dir, ".print-*")
	if err != nil {
		return "", fmt.Errorf("create temp print file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write print file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close print file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish print file: %w", err)
	}
	return path, nil
}

// RenderPrint: обработчик задачи RENDER_PRINT.
type RenderPrint struct {
	renderer Renderer
	logger   *log.Entry
}

// NewRenderPrint создаёт обработчик.
func NewRenderPrint(renderer Renderer, logger *log.Entry) *RenderPrint {
	if logger == nil {
		logger = log.WithField("component", "render-print")
	}
	return &RenderPrint{renderer: renderer, logger: logger}
}

// Handle декодирует полезную нагрузку и передаёт её рендереру.
func (h *RenderPrint) Handle(ctx context.Context, job domain.Job) error {
	var payload domain.RenderPrintPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return domain.WrapError(domain.KindValidation, err, "decode render payload")
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	path, err := h.renderer.Render(ctx, payload)
	if err != nil {
		return fmt.Errorf("render order %s item %s: %w", payload.OrderID, payload.OrderItemID, err)
	}
	h.logger.WithFields(log.Fields{
		"job_id":        job.ID,
		"order_id":      payload.OrderID,
		"order_item_id": payload.OrderItemID,
		"path":          path,
	}).Info("print file rendered")
	return nil
}
