package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"village_backend/internal/app"
	"village_backend/internal/config"
	"village_backend/internal/telegram"
)

const botToken = "e2e-bot-token"

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("BOT_TOKEN", botToken)
	t.Setenv("JWT_SECRET", "e2e-secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "village.db"))
	t.Setenv("WORLDBOSS_FEED_INTERVAL", "50ms")

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	store, err := app.OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(app.New(cfg, store).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, token string, body any) (int, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestE2E_AuthActionAndFeed(t *testing.T) {
	ts := startServer(t)

	vals := url.Values{}
	vals.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	vals.Set("user", `{"id":1001,"username":"userA","first_name":"A"}`)
	code, out := postJSON(t, ts.URL+"/api/v1/auth", "", map[string]any{"init_data": telegram.SignInitData(vals, botToken)})
	if code != http.StatusOK {
		t.Fatalf("auth = %d %v", code, out)
	}
	token, _ := out["token"].(string)
	if token == "" || out["player_id"] != "1001" {
		t.Fatalf("auth body = %v", out)
	}

	code, out = postJSON(t, ts.URL+"/api/v1/action", token, map[string]any{"action": "village_init", "name": "Oakridge"})
	if code != http.StatusOK {
		t.Fatalf("village_init = %d %v", code, out)
	}
	code, out = postJSON(t, ts.URL+"/api/v1/action", token, map[string]any{"action": "village_status"})
	if code != http.StatusOK {
		t.Fatalf("village_status = %d %v", code, out)
	}

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/worldboss?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer conn.Close()

	// the first push arrives right away, the second after one feed interval
	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg struct {
			Type     string         `json:"type"`
			Snapshot map[string]any `json:"snapshot"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read push %d: %v", i, err)
		}
		if msg.Type != "worldboss" || msg.Snapshot["cycle"] == nil {
			t.Fatalf("push %d = %+v", i, msg)
		}
	}
}

func TestE2E_FeedRejectsBadToken(t *testing.T) {
	ts := startServer(t)

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/worldboss?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial with a bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}
}

func TestE2E_HealthAndCORS(t *testing.T) {
	ts := startServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/action", nil)
	req.Header.Set("Origin", "https://mini.app")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://mini.app" {
		t.Fatalf("preflight = %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}
}
