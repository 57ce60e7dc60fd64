package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/access"
	"github.com/vovakirdan/songhub-server/internal/auth"
	"github.com/vovakirdan/songhub-server/internal/config"
	"github.com/vovakirdan/songhub-server/internal/core"
	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/stats"
	"github.com/vovakirdan/songhub-server/internal/store/sqlite"
	"github.com/vovakirdan/songhub-server/internal/tick"
	"github.com/vovakirdan/songhub-server/internal/transport"
)

const testPassword = "operator-password"

type stubConn struct {
	id           string
	addr         netip.AddrPort
	disconnected string
}

func (c *stubConn) ID() string                                  { return c.id }
func (c *stubConn) RemoteAddr() netip.AddrPort                  { return c.addr }
func (c *stubConn) Approve()                                    {}
func (c *stubConn) Deny(string)                                 {}
func (c *stubConn) Send([]byte, transport.DeliveryMethod) error { return nil }
func (c *stubConn) Disconnect(reason string)                    { c.disconnected = reason }

type testEnv struct {
	router *gin.Engine
	hub    *core.Hub
	driver *tick.Driver
	access *access.Manager
	clock  *clock.Mock
	token  string
	conns  int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(nil)
	mock := clock.NewMock()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	authService := auth.NewService(hash, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}, nil, &logger)

	counters := stats.NewCounters(mock)
	hub := core.NewHub(core.Options{Clock: mock, Logger: &logger, Counters: counters})
	acl := access.NewManager(st, false, &logger)
	driver := tick.NewDriver(time.Second/30, mock, &logger)

	cfg := config.Default()
	env := &testEnv{
		router: NewRouter(Deps{
			Hub:      hub,
			Auth:     authService,
			Access:   acl,
			Presets:  st,
			Ticker:   driver,
			Counters: counters,
			Clock:    mock,
		}, cfg, &logger),
		hub:    hub,
		driver: driver,
		access: acl,
		clock:  mock,
	}
	env.token = env.login(t)
	return env
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"password": testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var resp AuthResponse
	decode(t, rec, &resp)
	return resp.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) authed(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, e.token, body)
}

// player admits a fake connection from addr.
func (e *testEnv) player(name, addr string) (*core.Client, *stubConn) {
	e.conns++
	conn := &stubConn{
		id:   fmt.Sprintf("stub-%d", e.conns),
		addr: netip.AddrPortFrom(netip.MustParseAddr(addr), uint16(40000+e.conns)),
	}
	return e.hub.Admit(conn, proto.PlayerInfo{ID: uint64(e.conns), Name: name}), conn
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}
