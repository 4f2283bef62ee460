package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/orderchat/internal/auth"
	"github.com/vedran77/orderchat/internal/auth/authtest"
	"github.com/vedran77/orderchat/internal/domain"
	"github.com/vedran77/orderchat/internal/repository/memory"
	"github.com/vedran77/orderchat/internal/service"
	"github.com/vedran77/orderchat/internal/transport/http/handlers"
)

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("down") }

type apiTest struct {
	t        *testing.T
	server   *httptest.Server
	orderID  uuid.UUID
	customer domain.Identity
	courier  domain.Identity
	stranger domain.Identity
}

func newAPITest(t *testing.T, deps map[string]handlers.Pinger) *apiTest {
	t.Helper()
	logger := zerolog.Nop()

	a := &apiTest{
		t:        t,
		orderID:  uuid.New(),
		customer: domain.Identity{UserID: uuid.New(), DisplayName: "Carla"},
		courier:  domain.Identity{UserID: uuid.New(), DisplayName: "Dino"},
		stranger: domain.Identity{UserID: uuid.New(), DisplayName: "Eve"},
	}

	participants := memory.NewParticipantRepo()
	courierID := a.courier.UserID
	participants.Put(domain.Participants{OrderID: a.orderID, CustomerID: a.customer.UserID, CourierID: &courierID})

	messages := memory.NewMessageRepo()
	if deps == nil {
		deps = map[string]handlers.Pinger{"store": messages}
	}
	chat := service.NewChatService(messages, participants, 500, logger)

	a.server = httptest.NewServer(New(Deps{
		Logger:   logger,
		Verifier: auth.NewJWTVerifier(authtest.Secret),
		Messages: handlers.NewMessageHandler(chat, logger),
		Health:   handlers.NewHealthHandler(deps, func() int { return 0 }),
	}))
	t.Cleanup(a.server.Close)
	return a
}

func (a *apiTest) do(method, path string, as *domain.Identity, body string, into any) int {
	a.t.Helper()
	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, a.server.URL+path, strings.NewReader(body))
		require.NoError(a.t, err)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, a.server.URL+path, nil)
		require.NoError(a.t, err)
	}
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+authtest.Token(a.t, as.UserID, as.DisplayName))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

type apiError struct {
	Error struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func TestSendAndHistory(t *testing.T) {
	a := newAPITest(t, nil)
	path := "/api/v1/orders/" + a.orderID.String() + "/messages"

	var msg domain.Message
	status := a.do(http.MethodPost, path, &a.customer, `{"body":"where are you?"}`, &msg)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, domain.RoleCustomer, msg.SenderRole)

	a.do(http.MethodPost, path, &a.courier, `{"body":"2 minutes away"}`, nil)

	var history struct {
		Messages []domain.Message `json:"messages"`
		LastSeq  int64            `json:"last_seq"`
	}
	status = a.do(http.MethodGet, path, &a.courier, "", &history)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "where are you?", history.Messages[0].Body)
	assert.Equal(t, int64(2), history.LastSeq)

	status = a.do(http.MethodGet, path+"?after_seq=1", &a.customer, "", &history)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "2 minutes away", history.Messages[0].Body)
}

func TestErrorMapping(t *testing.T) {
	a := newAPITest(t, nil)
	path := "/api/v1/orders/" + a.orderID.String() + "/messages"

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, path, nil, "", nil))

	var e apiError
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, path, &a.stranger, "", &e))
	assert.Equal(t, "FORBIDDEN", e.Error.Code)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/orders/"+uuid.NewString()+"/messages", &a.customer, "", nil))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/v1/orders/nope/messages", &a.customer, "", nil))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, path+"?after_seq=-3", &a.customer, "", nil))

	e = apiError{}
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, path, &a.customer, `{"body":"  "}`, &e))
	assert.Equal(t, "VALIDATION_ERROR", e.Error.Code)
	assert.Contains(t, e.Error.Fields, "body")

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/api/v1/messages/unknown/read", &a.customer, "", nil))
}

func TestReadReceipts(t *testing.T) {
	a := newAPITest(t, nil)
	path := "/api/v1/orders/" + a.orderID.String() + "/messages"

	var m1, m2 domain.Message
	a.do(http.MethodPost, path, &a.courier, `{"body":"arrived"}`, &m1)
	a.do(http.MethodPost, path, &a.courier, `{"body":"at the door"}`, &m2)

	var resp struct {
		Receipts []domain.ReadReceipt `json:"receipts"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/v1/messages/"+m1.ID+"/read", &a.customer, "", &resp))
	require.Len(t, resp.Receipts, 1)
	assert.Equal(t, a.customer.UserID, resp.Receipts[0].ReaderID)

	// Courier reading their own message is a no-op.
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/v1/messages/"+m2.ID+"/read", &a.courier, "", &resp))
	assert.Empty(t, resp.Receipts)

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, path+"/read", &a.customer, "", &resp))
	require.Len(t, resp.Receipts, 1)
	assert.Equal(t, m2.ID, resp.Receipts[0].MessageID)
}

func TestHealth(t *testing.T) {
	a := newAPITest(t, nil)
	var body handlers.HealthResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", nil, "", &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "pass", body.Checks["store"].Status)

	degraded := newAPITest(t, map[string]handlers.Pinger{"redis": downPinger{}})
	require.Equal(t, http.StatusServiceUnavailable, degraded.do(http.MethodGet, "/health", nil, "", &body))
	assert.Equal(t, "degraded", body.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newAPITest(t, nil)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/metrics", nil, "", nil))
}
