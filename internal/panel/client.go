package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/ruslanovk/vpnshop-sync/internal/config"
)

// Error — ответ панели со статусом вне 2xx.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("panel: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound сообщает, что панель ответила 404. Для идемпотентных
// операций отсутствие записи не является ошибкой.
func IsNotFound(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.StatusCode == http.StatusNotFound
	}
	return false
}

// Client — клиент панели. Все запросы ограничены таймаутом и общим
// лимитером частоты, чтобы недоступная панель не подвесила проход.
type Client struct {
	baseURL    string
	apiKey     string
	isLocal    bool
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New создаёт клиент панели из конфигурации.
func New(cfg config.PanelConnection) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		isLocal:    cfg.IsLocal,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// authHeaders — заголовки аутентификации как чистая функция
// конфигурации. В локальном режиме панель требует forwarding-заголовки.
func authHeaders(apiKey string, isLocal bool) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	if isLocal {
		headers["X-Forwarded-For"] = "127.0.0.1"
		headers["X-Forwarded-Proto"] = "https"
	}
	return headers
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	for k, v := range authHeaders(c.apiKey, c.isLocal) {
		req.Header.Set(k, v)
	}
	return req, nil
}

// do выполняет запрос и раскладывает конверт {"response": ...} в out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("panel request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read panel response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode panel response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return string(body)
}

// FetchAllUsers выгружает всех пользователей панели offset-пагинацией:
// остановка, когда страница короче запрошенной или offset достиг total.
func (c *Client) FetchAllUsers(ctx context.Context, pageSize int) ([]RemoteUser, error) {
	const op = "panel.FetchAllUsers"

	if pageSize <= 0 {
		pageSize = 250
	}

	var users []RemoteUser
	start := 0
	for {
		var envelope struct {
			Response struct {
				Users []remoteUserDTO `json:"users"`
				Total int             `json:"total"`
			} `json:"response"`
		}
		path := "/api/users?start=" + strconv.Itoa(start) + "&size=" + strconv.Itoa(pageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		for _, dto := range envelope.Response.Users {
			users = append(users, dto.toSnapshot())
		}

		start += len(envelope.Response.Users)
		if len(envelope.Response.Users) < pageSize || start >= envelope.Response.Total {
			return users, nil
		}
	}
}

// FetchAllSquads выгружает полный список сквадов.
func (c *Client) FetchAllSquads(ctx context.Context) ([]RemoteSquad, error) {
	const op = "panel.FetchAllSquads"

	var envelope struct {
		Response struct {
			InternalSquads []remoteSquadDTO `json:"internalSquads"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/internal-squads", nil, &envelope); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	squads := make([]RemoteSquad, 0, len(envelope.Response.InternalSquads))
	for _, dto := range envelope.Response.InternalSquads {
		squads = append(squads, dto.toSnapshot())
	}
	return squads, nil
}

// GetUserByUUID возвращает пользователя панели; 404 — (nil, nil).
func (c *Client) GetUserByUUID(ctx context.Context, uuid string) (*RemoteUser, error) {
	const op = "panel.GetUserByUUID"

	var envelope struct {
		Response remoteUserDTO `json:"response"`
	}
	err := c.do(ctx, http.MethodGet, "/api/users/"+uuid, nil, &envelope)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u := envelope.Response.toSnapshot()
	return &u, nil
}

// CreateUser создаёт пользователя на панели.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*RemoteUser, error) {
	const op = "panel.CreateUser"

	var envelope struct {
		Response remoteUserDTO `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/users", req, &envelope); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u := envelope.Response.toSnapshot()
	return &u, nil
}

// UpdateUser частично обновляет пользователя панели.
func (c *Client) UpdateUser(ctx context.Context, req UpdateUserRequest) (*RemoteUser, error) {
	const op = "panel.UpdateUser"

	var envelope struct {
		Response remoteUserDTO `json:"response"`
	}
	if err := c.do(ctx, http.MethodPatch, "/api/users", req, &envelope); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u := envelope.Response.toSnapshot()
	return &u, nil
}

// DisableUser выключает пользователя на панели.
func (c *Client) DisableUser(ctx context.Context, uuid string) error {
	const op = "panel.DisableUser"

	if err := c.do(ctx, http.MethodPost, "/api/users/"+uuid+"/actions/disable", nil, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteUser удаляет пользователя; 404 считается успехом.
func (c *Client) DeleteUser(ctx context.Context, uuid string) error {
	const op = "panel.DeleteUser"

	err := c.do(ctx, http.MethodDelete, "/api/users/"+uuid, nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResetUserDevices отвязывает устройства пользователя (HWID).
// Используется при ретайре как best-effort операция.
func (c *Client) ResetUserDevices(ctx context.Context, uuid string) error {
	const op = "panel.ResetUserDevices"

	err := c.do(ctx, http.MethodPost, "/api/users/"+uuid+"/actions/reset-devices", nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AddUsersToSquad массово добавляет пользователей в сквад.
func (c *Client) AddUsersToSquad(ctx context.Context, squadUUID string, userUUIDs []string) error {
	const op = "panel.AddUsersToSquad"

	body := map[string]any{"uuids": userUUIDs}
	if err := c.do(ctx, http.MethodPost, "/api/internal-squads/"+squadUUID+"/bulk-actions/add-users", body, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RemoveUsersFromSquad массово убирает пользователей из сквада.
func (c *Client) RemoveUsersFromSquad(ctx context.Context, squadUUID string, userUUIDs []string) error {
	const op = "panel.RemoveUsersFromSquad"

	body := map[string]any{"uuids": userUUIDs}
	if err := c.do(ctx, http.MethodPost, "/api/internal-squads/"+squadUUID+"/bulk-actions/remove-users", body, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteSquad удаляет сквад на панели; 404 считается успехом.
func (c *Client) DeleteSquad(ctx context.Context, uuid string) error {
	const op = "panel.DeleteSquad"

	err := c.do(ctx, http.MethodDelete, "/api/internal-squads/"+uuid, nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
