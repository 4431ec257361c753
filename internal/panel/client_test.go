package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslanovk/vpnshop-sync/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(config.PanelConnection{
		BaseURL:           srv.URL,
		APIKey:            "test-token",
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 1000,
	})
	return client, srv
}

func TestAuthHeaders(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		isLocal bool
		want    map[string]string
	}{
		{
			name:   "token mode",
			apiKey: "secret",
			want: map[string]string{
				"Content-Type":  "application/json",
				"Authorization": "Bearer secret",
			},
		},
		{
			name: "no credentials",
			want: map[string]string{
				"Content-Type": "application/json",
			},
		},
		{
			name:    "local mode adds forwarding headers",
			apiKey:  "secret",
			isLocal: true,
			want: map[string]string{
				"Content-Type":      "application/json",
				"Authorization":     "Bearer secret",
				"X-Forwarded-For":   "127.0.0.1",
				"X-Forwarded-Proto": "https",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authHeaders(tt.apiKey, tt.isLocal))
		})
	}
}

func TestFetchAllUsers_Pagination(t *testing.T) {
	const total = 5
	var requests []int

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		size, _ := strconv.Atoi(r.URL.Query().Get("size"))
		requests = append(requests, start)

		var users []map[string]any
		for i := start; i < total && i < start+size; i++ {
			users = append(users, map[string]any{
				"uuid":       fmt.Sprintf("uuid-%d", i),
				"telegramId": int64(100 + i),
				"status":     "ACTIVE",
				"expireAt":   "2025-12-01T00:00:00.000Z+00:00",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{"users": users, "total": total},
		})
	})

	client, _ := newTestClient(t, handler)

	users, err := client.FetchAllUsers(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, users, total)
	assert.Equal(t, []int{0, 2, 4}, requests)

	// Задвоенный суффикс таймзоны нормализован на границе клиента.
	require.NotNil(t, users[0].ExpireAt)
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), *users[0].ExpireAt)
}

func TestFetchAllUsers_ShortLastPage(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		// total завышен, но страница короче size — выгрузка должна
		// остановиться, а не зациклиться.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"users": []map[string]any{{"uuid": "u1", "telegramId": 1}},
				"total": 100,
			},
		})
	})

	client, _ := newTestClient(t, handler)

	users, err := client.FetchAllUsers(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, calls)
}

func TestFetchAllUsers_UnparsableExpiry(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"users": []map[string]any{
					{"uuid": "u1", "telegramId": 1, "expireAt": "garbage"},
				},
				"total": 1,
			},
		})
	})

	client, _ := newTestClient(t, handler)

	users, err := client.FetchAllUsers(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Nil(t, users[0].ExpireAt)
}

func TestGetUserByUUID_NotFoundIsAbsent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "user not found"})
	})

	client, _ := newTestClient(t, handler)

	user, err := client.GetUserByUUID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestDo_NonOKStatusIsPanelError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "boom"})
	})

	client, _ := newTestClient(t, handler)

	_, err := client.FetchAllSquads(context.Background())
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	assert.Equal(t, "boom", perr.Message)
}

func TestDeleteUser_NotFoundIsSuccess(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	client, _ := newTestClient(t, handler)
	assert.NoError(t, client.DeleteUser(context.Background(), "gone"))
}

func TestFetchAllSquads(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/internal-squads", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"internalSquads": []map[string]any{
					{"uuid": "sq-1", "name": "Amsterdam", "info": map[string]any{"membersCount": 12}},
					{"uuid": "sq-2", "name": "Tokyo", "info": map[string]any{"membersCount": 0}},
				},
			},
		})
	})

	client, _ := newTestClient(t, handler)

	squads, err := client.FetchAllSquads(context.Background())
	require.NoError(t, err)
	require.Len(t, squads, 2)
	assert.Equal(t, RemoteSquad{UUID: "sq-1", Name: "Amsterdam", MembersCount: 12}, squads[0])
}

func TestCreateUser(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req CreateUserRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(555), req.TelegramID)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"uuid":            "new-uuid",
				"shortUuid":       "short1",
				"telegramId":      555,
				"status":          "ACTIVE",
				"expireAt":        "2026-01-01T00:00:00Z",
				"subscriptionUrl": "https://sub.example/short1",
			},
		})
	})

	client, _ := newTestClient(t, handler)

	user, err := client.CreateUser(context.Background(), CreateUserRequest{
		Username:   "tg_555",
		TelegramID: 555,
		ExpireAt:   "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "new-uuid", user.UUID)
	assert.Equal(t, "short1", user.ShortUUID)
	assert.Equal(t, "https://sub.example/short1", user.SubscriptionURL)
}
