package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sms-auth-service/internal/audit"
	"sms-auth-service/internal/config"
	"sms-auth-service/internal/hashing"
	"sms-auth-service/internal/models"
	"sms-auth-service/internal/repository/redis"
	"sms-auth-service/internal/repository/scylla"
	"sms-auth-service/internal/service"
	"sms-auth-service/internal/token"
	"sms-auth-service/internal/util"
)

// In-memory stores backing the router under test.

type memCodes struct {
	mu       sync.Mutex
	records  map[string]models.VerificationRecord
	attempts map[string]int
}

func (m *memCodes) SetCode(ctx context.Context, phone string, rec models.VerificationRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[phone] = rec
	delete(m.attempts, phone)
	return nil
}

func (m *memCodes) GetRecord(ctx context.Context, phone string) (*models.VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[phone]
	if !ok {
		return nil, redis.ErrCodeNotFound
	}
	return &rec, nil
}

func (m *memCodes) Delete(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, phone)
	delete(m.attempts, phone)
	return nil
}

func (m *memCodes) IncrementAttempts(ctx context.Context, phone string, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[phone]++
	return m.attempts[phone], nil
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]models.RefreshSession
}

func (m *memSessions) Create(ctx context.Context, tok string, sess models.RefreshSession, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tok] = sess
	return nil
}

func (m *memSessions) Redeem(ctx context.Context, tok string) (*models.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[tok]
	if !ok {
		return nil, redis.ErrSessionNotFound
	}
	delete(m.sessions, tok)
	return &sess, nil
}

func (m *memSessions) RevokeAll(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for tok, sess := range m.sessions {
		if sess.UserID == userID {
			delete(m.sessions, tok)
			n++
		}
	}
	return n, nil
}

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	byPhone map[string]string
}

func (m *memUsers) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byPhone[user.PhoneHash]; taken {
		return scylla.ErrPhoneAlreadyRegistered
	}
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	cp := *user
	m.byID[user.UserID] = &cp
	m.byPhone[user.PhoneHash] = user.UserID
	return nil
}

func (m *memUsers) GetUserByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPhone[phoneHash]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memUsers) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpdateVerified(ctx context.Context, userID string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[userID]; ok {
		u.Verified = verified
	}
	return nil
}

func (m *memUsers) UpdateRole(ctx context.Context, userID string, role models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[userID]; ok {
		u.Role = role
	}
	return nil
}

func (m *memUsers) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return nil
}

func (m *memUsers) HealthCheck(ctx context.Context) error { return nil }

type memSender struct {
	mu   sync.Mutex
	body string
}

var smsCode = regexp.MustCompile(`\d{6}`)

func (m *memSender) Send(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = body
	return nil
}

func (m *memSender) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return smsCode.FindString(m.body)
}

func newTestRouter(t *testing.T) (chi.Router, *memSender, *config.Config) {
	t.Helper()

	cfg := &config.Config{Environment: "development"}
	cfg.Server.EnableTLS = false
	cfg.Auth.JWTSecret = "handler-test-secret-0123456789ab"
	cfg.Auth.JWTIssuer = "sms-auth-service"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.CodeTTL = 300 * time.Second
	cfg.Auth.RefreshTTL = 720 * time.Hour
	cfg.Auth.MaxCodeAttempts = 5
	cfg.Auth.MasterCode = "master-code-for-tests"
	cfg.Auth.AdminPhone = "+34999888777"
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1

	sender := &memSender{}
	tokens := token.NewGenerator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)
	svc := service.NewAuthService(
		&memCodes{records: map[string]models.VerificationRecord{}, attempts: map[string]int{}},
		&memSessions{sessions: map[string]models.RefreshSession{}},
		&memUsers{byID: map[string]*models.User{}, byPhone: map[string]string{}},
		tokens,
		hashing.NewHasher(cfg),
		sender,
		audit.Noop{},
		cfg,
	)

	guard := NewAccessGuard(tokens, svc)
	h := NewAuthHandler(svc, guard)
	return NewRouter(h, cfg, util.Get()), sender, cfg
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return rr, resp
}

const testPhone = "+34600111222"

func TestRegisterLoginEndToEnd(t *testing.T) {
	router, sender, _ := newTestRouter(t)

	rr, resp := doJSON(t, router, http.MethodPost, "/registro", map[string]string{"telefono": testPhone}, nil)
	if rr.Code != http.StatusOK || !resp.Exito {
		t.Fatalf("registro: status %d, body %+v", rr.Code, resp)
	}

	code := sender.lastCode()
	if code == "" {
		t.Fatal("no code captured from sms")
	}

	rr, resp = doJSON(t, router, http.MethodPost, "/login", map[string]string{
		"telefono": testPhone,
		"codigo":   code,
	}, nil)
	if rr.Code != http.StatusOK || !resp.Exito {
		t.Fatalf("login: status %d, body %+v", rr.Code, resp)
	}

	datos, ok := resp.Datos.(map[string]interface{})
	if !ok {
		t.Fatalf("datos is %T", resp.Datos)
	}
	tok, _ := datos["token"].(string)
	refresh, _ := datos["refreshToken"].(string)
	if tok == "" || refresh == "" {
		t.Fatalf("missing tokens in %v", datos)
	}
	usuario, ok := datos["usuario"].(map[string]interface{})
	if !ok || usuario["telefono"] != testPhone {
		t.Fatalf("usuario = %v", datos["usuario"])
	}
}

func TestVerifyFlow(t *testing.T) {
	router, sender, _ := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/registro", map[string]string{"telefono": testPhone}, nil)
	code := sender.lastCode()

	rr, resp := doJSON(t, router, http.MethodPost, "/verificar", map[string]string{
		"telefono": testPhone,
		"codigo":   code,
	}, nil)
	if rr.Code != http.StatusOK || !resp.Exito {
		t.Fatalf("verificar: status %d, body %+v", rr.Code, resp)
	}

	// Consumed: the same code fails now.
	rr, resp = doJSON(t, router, http.MethodPost, "/verificar", map[string]string{
		"telefono": testPhone,
		"codigo":   code,
	}, nil)
	if rr.Code != http.StatusBadRequest || resp.Codigo != "CODE_INVALID_OR_EXPIRED" {
		t.Fatalf("second verificar: status %d, codigo %q", rr.Code, resp.Codigo)
	}
}

func TestLoginWrongCodeWire(t *testing.T) {
	router, _, _ := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/registro", map[string]string{"telefono": testPhone}, nil)

	rr, resp := doJSON(t, router, http.MethodPost, "/login", map[string]string{
		"telefono": testPhone,
		"codigo":   "000000",
	}, nil)
	if rr.Code != http.StatusUnauthorized || resp.Codigo != "CODE_INVALID" {
		t.Fatalf("status %d, codigo %q", rr.Code, resp.Codigo)
	}
}

func TestValidationErrors(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr, resp := doJSON(t, router, http.MethodPost, "/registro", map[string]string{"telefono": "abc"}, nil)
	if rr.Code != http.StatusBadRequest || resp.Codigo != "VALIDATION_ERROR" {
		t.Fatalf("status %d, codigo %q", rr.Code, resp.Codigo)
	}
	if len(resp.Errores) == 0 || resp.Errores[0].Campo != "telefono" {
		t.Fatalf("errores = %+v", resp.Errores)
	}

	rr, resp = doJSON(t, router, http.MethodPost, "/login", map[string]string{
		"telefono": testPhone,
		"codigo":   "12",
	}, nil)
	if rr.Code != http.StatusBadRequest || resp.Codigo != "VALIDATION_ERROR" {
		t.Fatalf("short code: status %d, codigo %q", rr.Code, resp.Codigo)
	}
}

func TestRefreshRotationWire(t *testing.T) {
	router, sender, _ := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/registro", map[string]string{"telefono": testPhone}, nil)
	_, loginResp := doJSON(t, router, http.MethodPost, "/login", map[string]string{
		"telefono": testPhone,
		"codigo":   sender.lastCode(),
	}, nil)
	refreshToken := loginResp.Datos.(map[string]interface{})["refreshToken"].(string)

	rr, resp := doJSON(t, router, http.MethodPost, "/refresh", map[string]string{"refreshToken": refreshToken}, nil)
	if rr.Code != http.StatusOK || !resp.Exito {
		t.Fatalf("refresh: status %d, body %+v", rr.Code, resp)
	}

	rr, resp = doJSON(t, router, http.MethodPost, "/refresh", map[string]string{"refreshToken": refreshToken}, nil)
	if rr.Code != http.StatusUnauthorized || resp.Codigo != "REFRESH_TOKEN_INVALID" {
		t.Fatalf("replayed refresh: status %d, codigo %q", rr.Code, resp.Codigo)
	}
}

func TestMasterAccessWire(t *testing.T) {
	router, _, cfg := newTestRouter(t)

	rr, resp := doJSON(t, router, http.MethodPost, "/acceso-maestro", map[string]string{"codigo": "wrong"}, nil)
	if rr.Code != http.StatusUnauthorized || resp.Codigo != "MASTER_CODE_INVALID" {
		t.Fatalf("wrong master code: status %d, codigo %q", rr.Code, resp.Codigo)
	}

	rr, resp = doJSON(t, router, http.MethodPost, "/acceso-maestro", map[string]string{"codigo": cfg.Auth.MasterCode}, nil)
	if rr.Code != http.StatusOK || !resp.Exito {
		t.Fatalf("master access: status %d, body %+v", rr.Code, resp)
	}
	usuario := resp.Datos.(map[string]interface{})["usuario"].(map[string]interface{})
	if usuario["rol"] != "admin" {
		t.Fatalf("rol = %v", usuario["rol"])
	}
}

func TestGuardRejectsBadTokens(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr, resp := doJSON(t, router, http.MethodGet, "/admin/test", nil, nil)
	if rr.Code != http.StatusUnauthorized || resp.Codigo != "TOKEN_MISSING" {
		t.Fatalf("no token: status %d, codigo %q", rr.Code, resp.Codigo)
	}

	rr, resp = doJSON(t, router, http.MethodGet, "/admin/test", nil, map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	if rr.Code != http.StatusUnauthorized || resp.Codigo != "TOKEN_INVALID" {
		t.Fatalf("garbage token: status %d, codigo %q", rr.Code, resp.Codigo)
	}
}

func TestGuardRoleEnforcement(t *testing.T) {
	router, sender, cfg := newTestRouter(t)

	// Standard user token.
	doJSON(t, router, http.MethodPost, "/registro", map[string]string{"telefono": testPhone}, nil)
	_, loginResp := doJSON(t, router, http.MethodPost, "/login", map[string]string{
		"telefono": testPhone,
		"codigo":   sender.lastCode(),
	}, nil)
	userToken := loginResp.Datos.(map[string]interface{})["token"].(string)

	rr, resp := doJSON(t, router, http.MethodGet, "/admin/test", nil, map[string]string{
		"Authorization": "Bearer " + userToken,
	})
	if rr.Code != http.StatusForbidden || resp.Codigo != "FORBIDDEN" {
		t.Fatalf("standard user: status %d, codigo %q", rr.Code, resp.Codigo)
	}

	// Admin token passes.
	_, masterResp := doJSON(t, router, http.MethodPost, "/acceso-maestro", map[string]string{"codigo": cfg.Auth.MasterCode}, nil)
	adminToken := masterResp.Datos.(map[string]interface{})["token"].(string)

	rr, resp = doJSON(t, router, http.MethodGet, "/admin/test", nil, map[string]string{
		"Authorization": "Bearer " + adminToken,
	})
	if rr.Code != http.StatusOK || !resp.Exito {
		t.Fatalf("admin: status %d, body %+v", rr.Code, resp)
	}
}

func TestLogoutWire(t *testing.T) {
	router, sender, _ := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/registro", map[string]string{"telefono": testPhone}, nil)
	_, loginResp := doJSON(t, router, http.MethodPost, "/login", map[string]string{
		"telefono": testPhone,
		"codigo":   sender.lastCode(),
	}, nil)
	datos := loginResp.Datos.(map[string]interface{})
	accessToken := datos["token"].(string)
	refreshToken := datos["refreshToken"].(string)

	rr, resp := doJSON(t, router, http.MethodPost, "/logout", nil, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	if rr.Code != http.StatusOK || !resp.Exito {
		t.Fatalf("logout: status %d, body %+v", rr.Code, resp)
	}

	rr, resp = doJSON(t, router, http.MethodPost, "/refresh", map[string]string{"refreshToken": refreshToken}, nil)
	if rr.Code != http.StatusUnauthorized || resp.Codigo != "REFRESH_TOKEN_INVALID" {
		t.Fatalf("refresh after logout: status %d, codigo %q", rr.Code, resp.Codigo)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr, resp := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	if rr.Code != http.StatusOK || !resp.Exito {
		t.Fatalf("health: status %d, body %+v", rr.Code, resp)
	}
}
