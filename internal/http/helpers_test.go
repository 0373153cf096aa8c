package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jmoiron/sqlx"

	"posuda/internal/clock"
	"posuda/internal/config"
	"posuda/internal/http/handlers"
	"posuda/internal/repos"
	"posuda/internal/services"
)

var epoch = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type testApp struct {
	app   *fiber.App
	db    *sqlx.DB
	users *repos.UserRepo
	deps  *handlers.Deps
	clk   *clock.Fake
	csrf  string
}

// newTestApp builds the API the way main does, on a seeded in-memory DB.
// extra middleware is mounted under /api/v1 ahead of the routes.
func newTestApp(t *testing.T, extra ...func(api fiber.Router)) *testApp {
	t.Helper()
	return newTestAppWithCache(t, nil, extra...)
}

func newTestAppWithCache(t *testing.T, productCache services.Cache, extra ...func(api fiber.Router)) *testApp {
	t.Helper()
	cfg := config.Config{DBDSN: ":memory:"}
	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewFake(epoch)
	deps := handlers.NewDeps(db, cfg, clk, productCache)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Server().MaxRequestBodySize = 1 << 20
	app.Use(requestid.New())
	app.Use(handlers.LoadUser(deps.Auth))
	app.Use(csrf.New(csrf.Config{KeyLookup: "header:X-CSRF-Token", CookieName: "csrf_", CookieSameSite: "Lax"}))

	api := app.Group("/api/v1")
	for _, fn := range extra {
		fn(api)
	}
	handlers.Register(api, deps)

	ta := &testApp{app: app, db: db, users: repos.NewUserRepo(db), deps: deps, clk: clk}

	// fetch csrf token
	resp := ta.do(t, "GET", "/api/v1/healthz", nil, "")
	ta.csrf = extractCookie(resp, "csrf_")
	if ta.csrf == "" {
		t.Fatal("csrf token missing")
	}
	return ta
}

// session binds a fresh sid to userID.
func (a *testApp) session(t *testing.T, userID string) string {
	t.Helper()
	sid := "sid-" + userID
	if err := a.users.BindSession(context.Background(), sid, userID); err != nil {
		t.Fatalf("bind session: %v", err)
	}
	return sid
}

func (a *testApp) do(t *testing.T, method, path string, body any, sid string) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.csrf != "" {
		req.Header.Set("X-CSRF-Token", a.csrf)
		req.AddCookie(&http.Cookie{Name: "csrf_", Value: a.csrf})
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	resp, err := a.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d body=%s", want, resp.StatusCode, body)
	}
}

func (a *testApp) stock(t *testing.T, productID string) int {
	t.Helper()
	var n int
	if err := a.db.Get(&n, `SELECT stock FROM products WHERE id = ?`, productID); err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return n
}

func extractCookie(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

type logEntry struct {
	Level  string                 `json:"level"`
	Action string                 `json:"action"`
	UserID string                 `json:"user_id"`
	Fields map[string]interface{} `json:"fields"`
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// capture logs by temporarily replacing the standard logger output
func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedWriter{w: &buf, mu: &mu})
	log.SetFlags(0) // remove timestamps to make JSON parseable
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func findLog(entries []logEntry, action string) (logEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return logEntry{}, false
}

type orderBody struct {
	ID          string  `json:"_id"`
	User        string  `json:"user"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"totalAmount"`
	ReadyAt     *string `json:"readyAt"`
	Items       []struct {
		Product  string  `json:"product"`
		Quantity int     `json:"quantity"`
		Price    float64 `json:"price"`
		Name     string  `json:"name"`
	} `json:"items"`
}

var validRecipient = map[string]string{"lastName": "Ivanova", "firstName": "Anna", "middleName": "Petrovna"}

func orderRequest(recipient any, lines ...map[string]any) map[string]any {
	return map[string]any{"items": lines, "recipient": recipient}
}

func item(productID string, qty int) map[string]any {
	return map[string]any{"product": productID, "quantity": qty}
}
