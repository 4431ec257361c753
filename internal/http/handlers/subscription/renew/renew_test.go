package renew

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ruslanovk/vpnshop-sync/internal/services/billing"
	"github.com/ruslanovk/vpnshop-sync/internal/storage/repository"
)

// MockService реализует интерфейс renew.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Renew(ctx context.Context, accountID, monthsCount int) (int, error) {
	args := m.Called(ctx, accountID, monthsCount)
	return args.Int(0), args.Error(1)
}

func TestRenewHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешное продление",
			body: `{"account_id":7,"months":3}`,
			setupMock: func(m *MockService) {
				m.On("Renew", mock.Anything, 7, 3).Return(300000, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"charged_kopeks":300000`,
		},
		{
			name:           "нулевое количество месяцев",
			body:           `{"account_id":7,"months":0}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field Months is a required field`,
		},
		{
			name: "недостаточно средств",
			body: `{"account_id":7,"months":12}`,
			setupMock: func(m *MockService) {
				m.On("Renew", mock.Anything, 7, 12).Return(0, billing.ErrInsufficientBalance)
			},
			expectedStatus: http.StatusPaymentRequired,
			expectedBody:   `"error":"insufficient balance"`,
		},
		{
			name: "аккаунт не найден",
			body: `{"account_id":404,"months":1}`,
			setupMock: func(m *MockService) {
				m.On("Renew", mock.Anything, 404, 1).Return(0, repository.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `"error":"account not found"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/renew",
				strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
