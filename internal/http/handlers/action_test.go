package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/domain"
	"village_backend/internal/http/middleware"
	"village_backend/internal/service"
	"village_backend/internal/storage"
	"village_backend/internal/storage/sqlite"
	"village_backend/internal/telegram"
	"village_backend/internal/validation"
	"village_backend/internal/village"

	"github.com/gin-gonic/gin"
)

const testBotToken = "bot-token"

type testServer struct {
	router *gin.Engine
	tokens *service.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "village.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	retry := service.DefaultRetryPolicy()
	audit := service.NewAuditService(store)
	profiles := service.NewProfileService(store, validation.New(validation.DefaultBounds()), audit, retry,
		config.EnergyConfig{Max: 100, RegenInterval: 5 * time.Minute})
	counters := service.NewCounterService(store, map[domain.Pool]service.PoolPolicy{
		domain.PoolDungeon:   {DailyAllotment: 5, Cap: 20, ShopDailyLimit: 5},
		domain.PoolWorldBoss: {DailyAllotment: 1, Cap: 5, ShopDailyLimit: 3},
	}, audit, retry)
	sagas := service.NewSagaService(store, audit)
	tokens := service.NewTokenIssuer("jwt-secret", time.Hour)

	h := NewHandler(Services{
		Profiles: profiles,
		Counters: counters,
		Economy: service.NewEconomyService(profiles, counters, sagas, audit, config.EconomyConfig{
			DungeonKeyPriceGold: 1000, BossTicketPriceCrystals: 50, GoldPerCrystal: 100,
			StakeMin: 10, StakeDuration: time.Hour, StakeBonusRate: 0.1, MaxActiveStakes: 5,
		}),
		Villages: service.NewVillageService(profiles, village.NewEngine(nil), audit),
		WorldBoss: service.NewWorldBossService(store, profiles, counters, sagas, audit, retry, config.WorldBossConfig{
			CycleDuration: 6 * time.Hour, PrizePool: 10000, AttackBase: 10, AttackPerLevel: 2, PerSecondCap: 600,
		}),
		Payments: service.NewPaymentService(store, profiles, nil, audit, config.PremiumConfig{}),
		Audit:    audit,
		Tokens:   tokens,
	}, HandlerConfig{BotToken: testBotToken, InitDataMaxAge: time.Hour})

	r := gin.New()
	r.POST("/auth", h.Auth)
	r.POST("/action", middleware.JWT(tokens), h.Action)
	return &testServer{router: r, tokens: tokens}
}

func (s *testServer) action(t *testing.T, playerID string, body map[string]any) (int, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/action", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if playerID != "" {
		token, err := s.tokens.Issue(playerID)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, out
}

func TestActionRequiresToken(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.action(t, "", map[string]any{"action": "profile_load"})
	if code != http.StatusUnauthorized {
		t.Fatalf("code = %d", code)
	}
}

func TestActionDecoding(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown action", map[string]any{"action": "mint_gold"}},
		{"missing action", map[string]any{"amount": 5}},
		{"amount not positive", map[string]any{"action": "swap_crystals_to_gold", "amount": 0}},
		{"missing stake id", map[string]any{"action": "stake_claim"}},
		{"negative version", map[string]any{"action": "profile_save", "client_version": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := s.action(t, "p1", tt.body)
			if code != http.StatusBadRequest || out["error"] != codeBadRequest || out["ok"] != false {
				t.Fatalf("code = %d body = %v", code, out)
			}
		})
	}
}

func TestProfileSaveFlow(t *testing.T) {
	s := newTestServer(t)

	code, out := s.action(t, "p1", map[string]any{"action": "profile_load"})
	if code != http.StatusNotFound || out["error"] != codeNotFound {
		t.Fatalf("load missing = %d %v", code, out)
	}

	state := domain.NewPlayerState(time.Now(), 100)
	code, out = s.action(t, "p1", map[string]any{"action": "profile_save", "state": state, "client_version": 0})
	if code != http.StatusOK || out["ok"] != true {
		t.Fatalf("bootstrap = %d %v", code, out)
	}
	version := int64(out["version"].(float64))

	// a second bootstrap from another tab has lost the race
	code, out = s.action(t, "p1", map[string]any{"action": "profile_save", "state": state, "client_version": 0})
	if code != http.StatusServiceUnavailable && code != http.StatusConflict {
		t.Fatalf("second bootstrap = %d %v", code, out)
	}

	code, out = s.action(t, "p1", map[string]any{"action": "profile_save", "state": state, "client_version": version - 1})
	if code != http.StatusConflict || out["error"] != codeStaleVersion {
		t.Fatalf("stale save = %d %v", code, out)
	}

	cheat := state.Clone()
	cheat.Metrics.Level = 1
	cheat.Metrics.Gold = 1_000_000
	code, out = s.action(t, "p1", map[string]any{"action": "profile_save", "state": cheat, "client_version": version})
	if code != http.StatusUnprocessableEntity || out["error"] != codeValidationRejected || out["reason"] != validation.ReasonGoldGain {
		t.Fatalf("cheat save = %d %v", code, out)
	}

	code, out = s.action(t, "p1", map[string]any{"action": "profile_load"})
	if code != http.StatusOK {
		t.Fatalf("load = %d %v", code, out)
	}
	profile := out["profile"].(map[string]any)
	if int64(profile["version"].(float64)) != version {
		t.Fatalf("profile = %v", profile)
	}
}

func TestEconomyActions(t *testing.T) {
	s := newTestServer(t)

	code, out := s.action(t, "p1", map[string]any{"action": "shop_buy_dungeon_key"})
	if code != http.StatusUnprocessableEntity || out["error"] != codeInsufficientFunds {
		t.Fatalf("buy without gold = %d %v", code, out)
	}

	code, out = s.action(t, "p1", map[string]any{"action": "counters_status"})
	if code != http.StatusOK {
		t.Fatalf("counters = %d %v", code, out)
	}
	counters := out["counters"].(map[string]any)
	dungeon := counters[string(domain.PoolDungeon)].(map[string]any)
	if dungeon["count"].(float64) != 5 {
		t.Fatalf("dungeon counter = %v", dungeon)
	}

	code, out = s.action(t, "p1", map[string]any{"action": "premium_purchase", "tx_hash": "abc"})
	if code != http.StatusBadGateway || out["error"] != codeExternalDependency {
		t.Fatalf("premium without wallet = %d %v", code, out)
	}
}

func TestVillageActions(t *testing.T) {
	s := newTestServer(t)

	code, out := s.action(t, "p1", map[string]any{"action": "village_init", "name": "Oakridge"})
	if code != http.StatusOK {
		t.Fatalf("init = %d %v", code, out)
	}
	code, out = s.action(t, "p1", map[string]any{"action": "village_init", "name": "Again"})
	if code != http.StatusBadRequest || out["error"] != codeBadRequest {
		t.Fatalf("second init = %d %v", code, out)
	}
	code, out = s.action(t, "p1", map[string]any{"action": "village_status"})
	if code != http.StatusOK || out["projection"] == nil {
		t.Fatalf("status = %d %v", code, out)
	}
	code, out = s.action(t, "p1", map[string]any{"action": "village_upgrade_start", "building_id": "castle"})
	if code != http.StatusUnprocessableEntity || out["error"] != codeInsufficientFunds {
		t.Fatalf("upgrade = %d %v", code, out)
	}
	code, out = s.action(t, "p1", map[string]any{"action": "village_upgrade_start", "building_id": "tower"})
	if code != http.StatusBadRequest || out["error"] != codeBadRequest {
		t.Fatalf("unknown building = %d %v", code, out)
	}
}

func TestWorldBossSyncAction(t *testing.T) {
	s := newTestServer(t)

	code, out := s.action(t, "p1", map[string]any{"action": "worldboss_sync", "player_name": "Ann", "joined": true})
	if code != http.StatusOK {
		t.Fatalf("join = %d %v", code, out)
	}
	wb := out["worldboss"].(map[string]any)
	if wb["participant"].(map[string]any)["joined"] != true {
		t.Fatalf("participant = %v", wb["participant"])
	}

	code, _ = s.action(t, "p2", map[string]any{"action": "worldboss_sync", "joined": true})
	if code != http.StatusOK {
		t.Fatalf("p2 join = %d", code)
	}
	// a client still showing an old cycle is told it changed
	code, out = s.action(t, "p2", map[string]any{"action": "worldboss_sync", "joined": true, "client_cycle_start": 1})
	if code != http.StatusOK || out["worldboss"].(map[string]any)["cycle_changed"] != true {
		t.Fatalf("resync = %d %v", code, out)
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	vals := url.Values{}
	vals.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	vals.Set("user", `{"id":42,"username":"oak"}`)
	initData := telegram.SignInitData(vals, testBotToken)

	post := func(body map[string]any) (int, map[string]any) {
		raw, _ := json.Marshal(body)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth", bytes.NewReader(raw)))
		var out map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w.Code, out
	}

	code, out := post(map[string]any{"init_data": initData})
	if code != http.StatusOK || out["player_id"] != "42" {
		t.Fatalf("auth = %d %v", code, out)
	}
	playerID, err := s.tokens.Parse(out["token"].(string))
	if err != nil || playerID != "42" {
		t.Fatalf("token subject = %q, %v", playerID, err)
	}

	if code, _ := post(map[string]any{"init_data": initData + "&extra=1"}); code != http.StatusUnauthorized {
		t.Fatalf("tampered auth = %d", code)
	}
	if code, _ := post(map[string]any{}); code != http.StatusBadRequest {
		t.Fatalf("empty auth = %d", code)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&validation.Rejection{Reason: validation.ReasonGoldGain}, codeValidationRejected},
		{fmt.Errorf("save: %w", storage.ErrStaleVersion), codeStaleVersion},
		{storage.ErrConflict, codeRetry},
		{storage.ErrInvalidVersion, codeInvalidVersion},
		{storage.ErrNotFound, codeNotFound},
		{fmt.Errorf("op: %w", service.ErrRetryExhausted), codeRetry},
		{service.ErrShopLimit, codeResourceExhausted},
		{service.ErrInsufficientFunds, codeInsufficientFunds},
		{service.ErrPaymentsDisabled, codeExternalDependency},
		{service.ErrPaymentMismatch, codeBadRequest},
		{errors.New("boom"), codeInternal},
	}
	for _, tt := range tests {
		if _, code := classify(tt.err); code != tt.code {
			t.Fatalf("classify(%v) = %s, want %s", tt.err, code, tt.code)
		}
	}
}
