package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agstack-go/internal/model"
	"agstack-go/internal/repository"
	"agstack-go/internal/service"
	"agstack-go/pkg/notify"
	"agstack-go/pkg/prober"
	"agstack-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConnections struct {
	createErr error
	created   service.CreateConnectionRequest
}

func (s *stubConnections) CreateConnection(_ context.Context, req service.CreateConnectionRequest) (*service.ConnectionResult, error) {
	s.created = req
	if s.createErr != nil {
		return &service.ConnectionResult{Message: s.createErr.Error(), Tables: []string{}}, s.createErr
	}
	return &service.ConnectionResult{Success: true, Message: "Connection successful and data saved", Tables: []string{"orders"}}, nil
}

func (s *stubConnections) ListConnections(context.Context) ([]model.DatabaseConnection, error) {
	return []model.DatabaseConnection{{ID: 1, ConnectionName: "sales_db", Password: "v1:secret"}}, nil
}

func (s *stubConnections) DeleteConnection(_ context.Context, id uint) (*service.ConnectionResult, error) {
	if id != 1 {
		return &service.ConnectionResult{Message: "Connection with ID 2 not found"}, service.ErrConnectionNotFound
	}
	return &service.ConnectionResult{Success: true, Message: "Connection 'sales_db' successfully deleted"}, nil
}

func (s *stubConnections) ListTables(context.Context, uint) (*service.ConnectionResult, error) {
	return &service.ConnectionResult{Success: true, Message: "Tables retrieved successfully", Tables: []string{"orders"}}, nil
}

func (s *stubConnections) ListColumns(_ context.Context, _ uint, table string) ([]string, error) {
	if table == "orders" {
		return []string{"id", "amount"}, nil
	}
	return []string{}, nil
}

func (s *stubConnections) Metadata(context.Context, *model.DatabaseConnection) (model.ConnectionMetadata, error) {
	return nil, nil
}

func (s *stubConnections) Target(*model.DatabaseConnection) (prober.Target, error) {
	return prober.Target{}, nil
}

type stubChats struct {
	processed string
}

func (s *stubChats) CreateChat(_ context.Context, title string, ids []uint) (*model.Chat, error) {
	return &model.Chat{ID: 5, Title: title}, nil
}

func (s *stubChats) ListChats(context.Context) ([]model.Chat, error) { return []model.Chat{{ID: 5}}, nil }

func (s *stubChats) GetChat(_ context.Context, id uint) (*model.Chat, error) {
	if id != 5 {
		return nil, service.ErrChatNotFound
	}
	return &model.Chat{ID: 5, Title: "sales"}, nil
}

func (s *stubChats) DeleteChat(_ context.Context, id uint) error {
	if id != 5 {
		return service.ErrChatNotFound
	}
	return nil
}

func (s *stubChats) ListMessages(context.Context, uint) ([]model.ChatMessage, error) {
	return []model.ChatMessage{{ID: 1, MessageIndex: 0}, {ID: 2, MessageIndex: 1}}, nil
}

func (s *stubChats) GetMessage(_ context.Context, id uint) (*model.ChatMessage, error) {
	if id != 2 {
		return nil, service.ErrMessageNotFound
	}
	return &model.ChatMessage{ID: 2}, nil
}

func (s *stubChats) ProcessMessage(_ context.Context, chatID uint, content string) (*model.ChatMessage, error) {
	if chatID == 6 {
		return nil, service.ErrChatHasNoConnections
	}
	s.processed = content
	return &model.ChatMessage{ID: 2, ChatID: chatID, Role: model.RoleAssistant, Status: model.StatusCompleted, MessageIndex: 1}, nil
}

type stubCatalog struct{}

func (stubCatalog) Search(_ context.Context, q string, _ int) ([]model.CatalogHit, error) {
	return []model.CatalogHit{{TableName: "orders", ColumnName: q}}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router  *gin.Engine
	conns   *stubConnections
	chats   *stubChats
	hub     *notify.Hub
	tickets *token.TicketManager
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		router:  gin.New(),
		conns:   &stubConnections{},
		chats:   &stubChats{},
		hub:     notify.NewHub(),
		tickets: token.NewTicketManager("ticket-secret", time.Minute),
	}
	RegisterRoutes(ts.router,
		NewConnectionHandler(ts.conns),
		NewChatHandler(ts.chats, ts.tickets, ts.hub),
		NewCatalogHandler(stubCatalog{}))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

const createBody = `{"connection_name":"sales_db","host":"db","port":5432,"username":"u","password":"p","database_name":"sales"}`

func TestConnectionHandler_CreateStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"created", nil, http.StatusCreated},
		{"duplicate", repository.ErrDuplicateConnection, http.StatusConflict},
		{"connectivity", prober.ErrConnectivity, http.StatusBadRequest},
		{"schema", prober.ErrSchemaNotFound, http.StatusBadRequest},
		{"table", &prober.TableError{Table: "orders", Err: errors.New("boom")}, http.StatusUnprocessableEntity},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			ts.conns.createErr = tt.err
			status, env := ts.do(t, http.MethodPost, "/api/v1/connections", createBody)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.status, env.Code)

			var result service.ConnectionResult
			require.NoError(t, json.Unmarshal(env.Data, &result))
			assert.Equal(t, tt.err == nil, result.Success)
		})
	}
}

func TestConnectionHandler_Validation(t *testing.T) {
	ts := newTestServer()
	status, _ := ts.do(t, http.MethodPost, "/api/v1/connections", `{"connection_name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodDelete, "/api/v1/connections/abc", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestConnectionHandler_ReadRoutes(t *testing.T) {
	ts := newTestServer()

	status, env := ts.do(t, http.MethodGet, "/api/v1/connections", "")
	assert.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(env.Data), "secret")

	status, env = ts.do(t, http.MethodGet, "/api/v1/connections/1/tables/orders/columns", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `["id","amount"]`, string(env.Data))

	status, env = ts.do(t, http.MethodGet, "/api/v1/connections/1/tables", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"tables":["orders"]`)

	status, _ = ts.do(t, http.MethodDelete, "/api/v1/connections/2", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, env = ts.do(t, http.MethodDelete, "/api/v1/connections/1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Connection 'sales_db' successfully deleted", env.Message)
}

func TestChatHandler_Routes(t *testing.T) {
	ts := newTestServer()

	status, _ := ts.do(t, http.MethodPost, "/api/v1/chats", `{"title":"t"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env := ts.do(t, http.MethodPost, "/api/v1/chats", `{"title":"t","connection_ids":[1]}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.Contains(t, string(env.Data), `"title":"t"`)

	status, _ = ts.do(t, http.MethodGet, "/api/v1/chats/9", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, env = ts.do(t, http.MethodPost, "/api/v1/chats/5/messages", `{"content":"What is total revenue?"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "What is total revenue?", ts.chats.processed)
	assert.Contains(t, string(env.Data), `"status":"completed"`)

	status, _ = ts.do(t, http.MethodPost, "/api/v1/chats/6/messages", `{"content":"q"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodGet, "/api/v1/messages/3", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodDelete, "/api/v1/chats/5", "")
	assert.Equal(t, http.StatusOK, status)

	status, env = ts.do(t, http.MethodGet, "/api/v1/catalog/search?q=amount", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"column_name":"amount"`)

	status, _ = ts.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestChatHandler_TicketAndStream(t *testing.T) {
	ts := newTestServer()
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	status, env := ts.do(t, http.MethodGet, "/api/v1/chats/9/ws-ticket", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, env = ts.do(t, http.MethodGet, "/api/v1/chats/5/ws-ticket", "")
	require.Equal(t, http.StatusOK, status)
	var data struct {
		Ticket string `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chats/"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client, _, err := websocket.DefaultDialer.Dial(wsURL+data.Ticket, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return ts.hub.Subscribers(5) == 1 }, 2*time.Second, 10*time.Millisecond)
	ts.hub.Publish(notify.StatusEvent{ChatID: 5, MessageID: 2, Role: model.RoleAssistant, Status: "completed"})

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt notify.StatusEvent
	require.NoError(t, client.ReadJSON(&evt))
	assert.Equal(t, notify.MessageStatusType, evt.Type)
	assert.Equal(t, uint(2), evt.MessageID)
}
