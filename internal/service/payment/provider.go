package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultCurrency: валюта магазина.
const DefaultCurrency = "inr"

// Intent: платёжное намерение у процессора.
type Intent struct {
	ID           string
	ClientSecret string
}

// IntentRequest: параметры создания намерения.
type IntentRequest struct {
	OrderID     string
	UserID      string
	AmountMinor int64
	Currency    string
}

// IntentProvider создаёт платёжные намерения у внешнего процессора.
type IntentProvider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// MockProvider: процессор для локального запуска и тестов: выдаёт pi_mock_<uuid>.
type MockProvider struct {
	mu sync.Mutex

	Err   error
	Calls []IntentRequest
}

// NewMockProvider возвращает mock с успешным сценарием по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// CreateIntent возвращает заранее настроенную ошибку или новое намерение и запоминает вызов.
func (m *MockProvider) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return Intent{}, m.Err
	}
	id := "pi_mock_" + uuid.NewString()
	return Intent{ID: id, ClientSecret: id + "_secret_mock"}, nil
}

// CallCount возвращает число вызовов.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ IntentProvider = (*MockProvider)(nil)
