package status

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ruslanovk/vpnshop-sync/internal/models"
	"github.com/ruslanovk/vpnshop-sync/internal/syncer"
)

// MockOrchestrator реализует интерфейс status.Orchestrator
type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) Status() syncer.Status {
	args := m.Called()
	return args.Get(0).(syncer.Status)
}

func TestStatusHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lastRun := time.Date(2026, 3, 1, 4, 30, 0, 0, time.UTC)

	tests := []struct {
		name         string
		status       syncer.Status
		expectedBody []string
	}{
		{
			name: "расписание включено, есть последний проход",
			status: syncer.Status{
				Enabled:      true,
				Times:        []string{"04:30", "16:30"},
				IsRunning:    false,
				LastRunAt:    &lastRun,
				LastDuration: "1.5s",
				LastReport:   &models.SyncReport{Created: 3, Retired: 1},
			},
			expectedBody: []string{`"enabled":true`, `"04:30"`, `"created":3`, `"last_duration":"1.5s"`},
		},
		{
			name: "проход идёт прямо сейчас",
			status: syncer.Status{
				Enabled:   true,
				Times:     []string{"04:30"},
				IsRunning: true,
			},
			expectedBody: []string{`"is_running":true`},
		},
		{
			name: "последний проход упал",
			status: syncer.Status{
				Enabled:   false,
				LastError: "panel unreachable",
			},
			expectedBody: []string{`"enabled":false`, `"last_error":"panel unreachable"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockOrchestrator := new(MockOrchestrator)
			mockOrchestrator.On("Status").Return(tt.status)

			handler := New(logger, mockOrchestrator)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			for _, want := range tt.expectedBody {
				assert.True(t, strings.Contains(w.Body.String(), want),
					"response body should contain %s, got %s", want, w.Body.String())
			}

			mockOrchestrator.AssertExpectations(t)
		})
	}
}
