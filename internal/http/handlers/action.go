package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/http/middleware"
	"village_backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const maxActionBody = 256 << 10

// ActionRequest is one decoded /action payload. The set of implementations is
// closed: only types in this package satisfy it.
type ActionRequest interface {
	do(ctx context.Context, h *Handler, playerID string) (gin.H, error)
}

var actions = map[string]func() ActionRequest{
	"profile_load":           func() ActionRequest { return &ProfileLoad{} },
	"profile_save":           func() ActionRequest { return &ProfileSave{} },
	"profile_refresh_energy": func() ActionRequest { return &ProfileRefreshEnergy{} },
	"shop_buy_dungeon_key":   func() ActionRequest { return &ShopBuyDungeonKey{} },
	"worldboss_ticket_buy":   func() ActionRequest { return &WorldBossTicketBuy{} },
	"swap_crystals_to_gold":  func() ActionRequest { return &SwapCrystalsToGold{} },
	"stake_start":            func() ActionRequest { return &StakeStart{} },
	"stake_claim":            func() ActionRequest { return &StakeClaim{} },
	"village_init":           func() ActionRequest { return &VillageInit{} },
	"village_status":         func() ActionRequest { return &VillageStatus{} },
	"village_upgrade_start":  func() ActionRequest { return &VillageUpgradeStart{} },
	"village_claim":          func() ActionRequest { return &VillageClaim{} },
	"worldboss_sync":         func() ActionRequest { return &WorldBossSync{} },
	"counters_status":        func() ActionRequest { return &CountersStatus{} },
	"premium_purchase":       func() ActionRequest { return &PremiumPurchase{} },
}

// Action dispatches POST /api/v1/action bodies of the form {action, ...payload}
func (h *Handler) Action(c *gin.Context) {
	start := time.Now()
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
		return
	}

	name, req, err := decodeAction(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": codeBadRequest, "message": err.Error()})
		middleware.ActionDuration.WithLabelValues("unknown", codeBadRequest).Observe(time.Since(start).Seconds())
		return
	}

	code := "ok"
	fields, err := req.do(c.Request.Context(), h, playerID)
	if err != nil {
		code = respondError(c, playerID, name, err)
	} else {
		if fields == nil {
			fields = gin.H{}
		}
		fields["ok"] = true
		c.JSON(http.StatusOK, fields)
	}
	middleware.ActionDuration.WithLabelValues(name, code).Observe(time.Since(start).Seconds())
}

func decodeAction(r io.Reader) (string, ActionRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxActionBody))
	if err != nil {
		return "", nil, fmt.Errorf("read body: %w", err)
	}
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", nil, fmt.Errorf("malformed body: %w", err)
	}
	newReq, ok := actions[envelope.Action]
	if !ok {
		return "", nil, fmt.Errorf("unknown action %q", envelope.Action)
	}
	req := newReq()
	if err := binding.JSON.BindBody(body, req); err != nil {
		return "", nil, fmt.Errorf("%s: %w", envelope.Action, err)
	}
	return envelope.Action, req, nil
}

type ProfileLoad struct{}

func (ProfileLoad) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, err := h.Profiles.Load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p}, nil
}

type ProfileSave struct {
	State         domain.PlayerState `json:"state"`
	ClientVersion int64              `json:"client_version" binding:"gte=0"`
}

func (r *ProfileSave) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, err := h.Profiles.Save(ctx, playerID, r.State, r.ClientVersion)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p, "version": p.Version}, nil
}

type ProfileRefreshEnergy struct{}

func (ProfileRefreshEnergy) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, gained, err := h.Profiles.RefreshEnergy(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p, "energy": p.State.Energy, "gained": gained}, nil
}

type ShopBuyDungeonKey struct{}

func (ShopBuyDungeonKey) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	res, err := h.Economy.ShopBuyDungeonKey(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": res.Profile, "counter": res.Counter}, nil
}

type WorldBossTicketBuy struct{}

func (WorldBossTicketBuy) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	res, err := h.Economy.BuyWorldBossTicket(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": res.Profile, "counter": res.Counter}, nil
}

type SwapCrystalsToGold struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

func (r *SwapCrystalsToGold) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, err := h.Economy.SwapCrystalsToGold(ctx, playerID, r.Amount)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p}, nil
}

type StakeStart struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

func (r *StakeStart) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, stake, err := h.Economy.StakeStart(ctx, playerID, r.Amount)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p, "stake": stake}, nil
}

type StakeClaim struct {
	StakeID string `json:"stake_id" binding:"required,max=64"`
}

func (r *StakeClaim) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, payout, err := h.Economy.StakeClaim(ctx, playerID, r.StakeID)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p, "payout": payout}, nil
}

type VillageInit struct {
	Name string `json:"name" binding:"required,max=128"`
}

func (r *VillageInit) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, err := h.Villages.Init(ctx, playerID, r.Name)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p, "village": p.State.Village}, nil
}

type VillageStatus struct{}

func (VillageStatus) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	st, err := h.Villages.Status(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return gin.H{"village": st.Village, "projection": st.Projection, "at": st.At}, nil
}

type VillageUpgradeStart struct {
	BuildingID domain.BuildingID `json:"building_id" binding:"required"`
}

func (r *VillageUpgradeStart) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, cost, err := h.Villages.UpgradeStart(ctx, playerID, r.BuildingID)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p, "village": p.State.Village, "cost": cost}, nil
}

type VillageClaim struct{}

func (VillageClaim) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, res, err := h.Villages.Claim(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p, "village": p.State.Village, "claimed": res}, nil
}

type WorldBossSync struct {
	PlayerName string `json:"player_name" binding:"max=64"`
	Joined     bool   `json:"joined"`
	// ClientCycleStart is the cycle the client believes is running, in unix milliseconds
	ClientCycleStart int64 `json:"client_cycle_start" binding:"gte=0"`
	PendingDamage    int64 `json:"pending_damage" binding:"gte=0"`
}

func (r *WorldBossSync) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	in := service.SyncInput{
		PlayerID:      playerID,
		PlayerName:    r.PlayerName,
		Joined:        r.Joined,
		PendingDamage: r.PendingDamage,
	}
	if r.ClientCycleStart > 0 {
		in.ClientCycleStart = time.UnixMilli(r.ClientCycleStart).UTC()
	}
	res, err := h.WorldBoss.Sync(ctx, in)
	if err != nil {
		return nil, err
	}
	return gin.H{"worldboss": res}, nil
}

type CountersStatus struct{}

func (CountersStatus) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	counters, err := h.Counters.Status(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return gin.H{"counters": counters}, nil
}

type PremiumPurchase struct {
	TxHash string `json:"tx_hash" binding:"required,max=128"`
}

func (r *PremiumPurchase) do(ctx context.Context, h *Handler, playerID string) (gin.H, error) {
	p, err := h.Payments.PurchasePremium(ctx, playerID, r.TxHash)
	if err != nil {
		return nil, err
	}
	return gin.H{"profile": p, "premium_ends_at": p.State.PremiumEndsAt}, nil
}
