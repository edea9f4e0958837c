package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/merkatolabs/merkato/backend/internal/auth"
	"github.com/merkatolabs/merkato/backend/internal/delivery"
	"github.com/merkatolabs/merkato/backend/internal/feed"
	"github.com/merkatolabs/merkato/backend/internal/notify"
	"github.com/merkatolabs/merkato/backend/internal/orders"
	"github.com/merkatolabs/merkato/backend/internal/prefs"
	"github.com/merkatolabs/merkato/backend/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubOrderDispatcher struct {
	result delivery.Result
	err    error
}

func (d *stubOrderDispatcher) DispatchOrder(ctx context.Context, orderID string) (delivery.Result, error) {
	return d.result, d.err
}

type stubSessionController struct {
	initErr error
	status  session.Status
	logouts int
}

func (s *stubSessionController) Initialize(ctx context.Context) error { return s.initErr }

func (s *stubSessionController) Logout(ctx context.Context) { s.logouts++ }

func (s *stubSessionController) Status() session.Status { return s.status }

type testServer struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
	store   *notify.Store
}

func newTestServer(t *testing.T, mutate func(*Dependencies)) *testServer {
	t.Helper()
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "merkato-notify",
		Audience:      "merkato-api",
	})
	store := notify.NewStore(notify.StoreConfig{RetentionCap: 50})
	deps := Dependencies{
		TokenManager:   issuer,
		Notifications:  store,
		AllowDevTokens: true,
	}
	if mutate != nil {
		mutate(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("NewHTTPHandler: %v", err)
	}
	return &testServer{handler: handler, issuer: issuer, store: store}
}

func (s *testServer) token(t *testing.T, subject string, role auth.Role) string {
	t.Helper()
	token, _, err := s.issuer.IssueToken(context.Background(), subject, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (s *testServer) request(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func pendingInsert(orderID, customerID string) feed.OrderEvent {
	return feed.NewInsertEvent(orders.Order{
		ID:                orderID,
		Status:            string(orders.StatusPending),
		CustomerProfileID: customerID,
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, nil)
	recorder := server.request(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	server := newTestServer(t, nil)
	recorder := server.request(t, http.MethodGet, "/notifications", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRejectInvalidToken(t *testing.T) {
	server := newTestServer(t, nil)
	recorder := server.request(t, http.MethodGet, "/notifications", "not-a-jwt", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestAccessTokenQueryParameterAccepted(t *testing.T) {
	server := newTestServer(t, nil)
	token := server.token(t, "staff-1", auth.RoleAdmin)
	recorder := server.request(t, http.MethodGet, "/notifications/unread_count?access_token="+token, "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 via query token, got %d", recorder.Code)
	}
}

func TestMintTokenEndpointGatedByConfig(t *testing.T) {
	disabled := newTestServer(t, func(deps *Dependencies) { deps.AllowDevTokens = false })
	payload := []byte(`{"subject":"user-1","role":"admin"}`)
	recorder := disabled.request(t, http.MethodPost, "/auth/token", "", payload)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when dev tokens disabled, got %d", recorder.Code)
	}

	enabled := newTestServer(t, nil)
	recorder = enabled.request(t, http.MethodPost, "/auth/token", "", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response mintTokenResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.AccessToken == "" || response.TokenType != "Bearer" {
		t.Fatalf("unexpected mint response: %#v", response)
	}

	recorder = enabled.request(t, http.MethodPost, "/auth/token", "", []byte(`{"subject":"user-1","role":"root"}`))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", recorder.Code)
	}
}

func TestListNotificationsFiltersByRole(t *testing.T) {
	server := newTestServer(t, nil)
	server.store.Apply(pendingInsert("O1", "cust-1"))
	server.store.Apply(pendingInsert("O2", "cust-2"))

	adminToken := server.token(t, "staff-1", auth.RoleAdmin)
	recorder := server.request(t, http.MethodGet, "/notifications", adminToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var adminView notificationListResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &adminView); err != nil {
		t.Fatalf("decode admin response: %v", err)
	}
	if len(adminView.Notifications) != 2 || adminView.UnreadCount != 2 {
		t.Fatalf("expected admin to see both records, got %#v", adminView)
	}

	customerToken := server.token(t, "cust-1", auth.RoleCustomer)
	recorder = server.request(t, http.MethodGet, "/notifications", customerToken, nil)
	var customerView notificationListResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &customerView); err != nil {
		t.Fatalf("decode customer response: %v", err)
	}
	if len(customerView.Notifications) != 1 {
		t.Fatalf("expected customer to see only their record, got %d", len(customerView.Notifications))
	}
	if customerView.Notifications[0].CustomerProfileID != "cust-1" {
		t.Fatalf("customer sees foreign record: %#v", customerView.Notifications[0])
	}
}

func TestMarkReadEndpoints(t *testing.T) {
	server := newTestServer(t, nil)
	server.store.Apply(pendingInsert("O1", "cust-1"))
	server.store.Apply(pendingInsert("O2", "cust-2"))
	adminToken := server.token(t, "staff-1", auth.RoleAdmin)

	records := server.store.List(auth.Viewer{Subject: "staff-1", Role: auth.RoleAdmin})
	recorder := server.request(t, http.MethodPost, "/notifications/"+records[0].ID+"/read", adminToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if server.store.UnreadCount() != 1 {
		t.Fatalf("expected unread 1 after mark read, got %d", server.store.UnreadCount())
	}

	recorder = server.request(t, http.MethodPost, "/notifications/missing/read", adminToken, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown record, got %d", recorder.Code)
	}

	recorder = server.request(t, http.MethodPost, "/notifications/read_all", adminToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if server.store.UnreadCount() != 0 {
		t.Fatalf("expected unread 0 after read_all, got %d", server.store.UnreadCount())
	}

	recorder = server.request(t, http.MethodDelete, "/notifications/"+records[1].ID, adminToken, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestDispatchEndpointRequiresStaff(t *testing.T) {
	server := newTestServer(t, func(deps *Dependencies) {
		deps.Dispatcher = &stubOrderDispatcher{result: delivery.Result{Success: true, Provider: "meta", MessageID: "wamid.1"}}
	})

	customerToken := server.token(t, "cust-1", auth.RoleCustomer)
	recorder := server.request(t, http.MethodPost, "/orders/O1/notify", customerToken, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", recorder.Code)
	}

	salesToken := server.token(t, "staff-1", auth.RoleSales)
	recorder = server.request(t, http.MethodPost, "/orders/O1/notify", salesToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for sales, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestDispatchEndpointOutcomes(t *testing.T) {
	failed := newTestServer(t, func(deps *Dependencies) {
		deps.Dispatcher = &stubOrderDispatcher{result: delivery.Result{
			Success: false,
			Err:     &delivery.ChainFailure{Attempts: []delivery.Attempt{{Provider: "meta", Error: "down"}}},
		}}
	})
	adminToken := failed.token(t, "staff-1", auth.RoleAdmin)
	recorder := failed.request(t, http.MethodPost, "/orders/O1/notify", adminToken, nil)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for failed chain, got %d", recorder.Code)
	}

	missing := newTestServer(t, func(deps *Dependencies) {
		deps.Dispatcher = &stubOrderDispatcher{err: errors.New("order not found")}
	})
	adminToken = missing.token(t, "staff-1", auth.RoleAdmin)
	recorder = missing.request(t, http.MethodPost, "/orders/ghost/notify", adminToken, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", recorder.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	sessions := &stubSessionController{status: session.Status{State: session.StateUninitialized}}
	server := newTestServer(t, func(deps *Dependencies) { deps.Sessions = sessions })
	adminToken := server.token(t, "staff-1", auth.RoleAdmin)

	recorder := server.request(t, http.MethodGet, "/session", adminToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	recorder = server.request(t, http.MethodPost, "/session/initialize", adminToken, nil)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}

	sessions.initErr = session.ErrAlreadyAuthenticating
	recorder = server.request(t, http.MethodPost, "/session/initialize", adminToken, nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for concurrent initialize, got %d", recorder.Code)
	}

	recorder = server.request(t, http.MethodPost, "/session/logout", adminToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if sessions.logouts != 1 {
		t.Fatalf("expected one logout call, got %d", sessions.logouts)
	}
}

func TestSessionEndpointsUnavailableWithoutManager(t *testing.T) {
	server := newTestServer(t, nil)
	adminToken := server.token(t, "staff-1", auth.RoleAdmin)
	recorder := server.request(t, http.MethodGet, "/session", adminToken, nil)
	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without session manager, got %d", recorder.Code)
	}
}

func TestSetSoundPreference(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "prefs.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&prefs.Preference{}); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	preferences, err := prefs.NewStore(db)
	if err != nil {
		t.Fatalf("prefs.NewStore: %v", err)
	}

	server := newTestServer(t, func(deps *Dependencies) {
		deps.Preferences = preferences
		deps.Clock = func() time.Time { return time.Unix(1700000000, 0) }
	})
	token := server.token(t, "staff-1", auth.RoleAdmin)

	recorder := server.request(t, http.MethodPut, "/preferences/sound", token, []byte(`{"enabled":false}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if preferences.GetBool(context.Background(), prefs.KeySoundEnabled, true) {
		t.Fatalf("expected persisted preference false")
	}

	recorder = server.request(t, http.MethodPut, "/preferences/sound", token, []byte(`{}`))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing enabled flag, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerValidatesDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing token manager")
	}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("s")})
	if _, err := NewHTTPHandler(Dependencies{TokenManager: issuer}); err == nil {
		t.Fatalf("expected error for missing notification store")
	}
}
