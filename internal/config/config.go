package config

import (
	"fmt"
	"time"

	"village_backend/internal/logger"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppPort     string `env:"APP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	// SQLitePath is used when DATABASE_URL is empty
	SQLitePath string `env:"SQLITE_PATH" envDefault:"village.db"`

	BotToken       string        `env:"BOT_TOKEN,required,notEmpty"`
	JWTSecret      string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL         time.Duration `env:"JWT_TTL" envDefault:"24h"`
	InitDataMaxAge time.Duration `env:"INIT_DATA_MAX_AGE" envDefault:"24h"`

	AppVersion    string `env:"APP_VERSION" envDefault:"dev"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`

	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	IPRateLimit      int           `env:"IP_RATE_LIMIT" envDefault:"120"`
	IPRateWindow     time.Duration `env:"IP_RATE_WINDOW" envDefault:"1m"`
	ActionRateLimit  int           `env:"ACTION_RATE_LIMIT" envDefault:"60"`
	ActionRateWindow time.Duration `env:"ACTION_RATE_WINDOW" envDefault:"1m"`

	OTELEndpoint string `env:"OTEL_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"village-backend"`

	Retry     RetryConfig     `envPrefix:"RETRY_"`
	Validator ValidatorConfig `envPrefix:"VALIDATOR_"`
	Economy   EconomyConfig   `envPrefix:"ECONOMY_"`
	Energy    EnergyConfig    `envPrefix:"ENERGY_"`
	Dungeon   PoolConfig      `envPrefix:"DUNGEON_"`
	BossPool  PoolConfig      `envPrefix:"WORLDBOSS_TICKET_"`
	WorldBoss WorldBossConfig `envPrefix:"WORLDBOSS_"`
	Premium   PremiumConfig   `envPrefix:"PREMIUM_"`
	Sweep     SweepConfig     `envPrefix:"SWEEP_"`
}

// RetryConfig bounds the optimistic-concurrency retry loop
type RetryConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"6"`
	BaseDelay   time.Duration `env:"BASE_DELAY" envDefault:"10ms"`
	MaxJitter   time.Duration `env:"MAX_JITTER" envDefault:"25ms"`
}

// ValidatorConfig holds plausibility bounds for client-proposed profile writes
type ValidatorConfig struct {
	LevelSecondsPerStep   float64  `env:"LEVEL_SECONDS_PER_STEP" envDefault:"20"`
	LevelSlack            int64    `env:"LEVEL_SLACK" envDefault:"2"`
	KillsPerSecond        float64  `env:"KILLS_PER_SECOND" envDefault:"8"`
	KillsSlack            int64    `env:"KILLS_SLACK" envDefault:"60"`
	DungeonSecondsPerRun  float64  `env:"DUNGEON_SECONDS_PER_RUN" envDefault:"5"`
	DungeonSlack          int64    `env:"DUNGEON_SLACK" envDefault:"2"`
	CrystalsPerDungeonRun int64    `env:"CRYSTALS_PER_DUNGEON_RUN" envDefault:"50"`
	GoldPerSecond         float64  `env:"GOLD_PER_SECOND" envDefault:"5"`
	GoldPerKill           int64    `env:"GOLD_PER_KILL" envDefault:"25"`
	GoldPerDungeonRun     int64    `env:"GOLD_PER_DUNGEON_RUN" envDefault:"500"`
	GoldSlack             int64    `env:"GOLD_SLACK" envDefault:"1000"`
	ServerOnlyItems       []string `env:"SERVER_ONLY_ITEMS" envDefault:"dungeon_key" envSeparator:","`

	BootstrapMaxLevel    int   `env:"BOOTSTRAP_MAX_LEVEL" envDefault:"5"`
	BootstrapMaxXP       int64 `env:"BOOTSTRAP_MAX_XP" envDefault:"5000"`
	BootstrapMaxGold     int64 `env:"BOOTSTRAP_MAX_GOLD" envDefault:"5000"`
	BootstrapMaxCrystals int64 `env:"BOOTSTRAP_MAX_CRYSTALS" envDefault:"100"`
	BootstrapMaxKills    int64 `env:"BOOTSTRAP_MAX_KILLS" envDefault:"200"`
	BootstrapMaxRuns     int64 `env:"BOOTSTRAP_MAX_RUNS" envDefault:"5"`
}

// EconomyConfig prices the server-side shop, swap and stake actions
type EconomyConfig struct {
	DungeonKeyPriceGold     int64         `env:"DUNGEON_KEY_PRICE_GOLD" envDefault:"1000"`
	BossTicketPriceCrystals int64         `env:"BOSS_TICKET_PRICE_CRYSTALS" envDefault:"50"`
	GoldPerCrystal          int64         `env:"GOLD_PER_CRYSTAL" envDefault:"100"`
	StakeMin                int64         `env:"STAKE_MIN" envDefault:"10"`
	StakeDuration           time.Duration `env:"STAKE_DURATION" envDefault:"72h"`
	StakeBonusRate          float64       `env:"STAKE_BONUS_RATE" envDefault:"0.1"`
	MaxActiveStakes         int           `env:"MAX_ACTIVE_STAKES" envDefault:"5"`
}

// EnergyConfig controls regeneration
type EnergyConfig struct {
	Max           int64         `env:"MAX" envDefault:"100"`
	RegenInterval time.Duration `env:"REGEN_INTERVAL" envDefault:"5m"`
}

// PoolConfig describes one daily-reset ticket pool
type PoolConfig struct {
	DailyAllotment int64 `env:"DAILY_ALLOTMENT"`
	Cap            int64 `env:"CAP"`
	ShopDailyLimit int64 `env:"SHOP_DAILY_LIMIT"`
}

// WorldBossConfig controls cycle length, prize and passive damage
type WorldBossConfig struct {
	CycleDuration  time.Duration `env:"CYCLE_DURATION" envDefault:"6h"`
	PrizePool      int64         `env:"PRIZE_POOL" envDefault:"10000"`
	AttackBase     float64       `env:"ATTACK_BASE" envDefault:"10"`
	AttackPerLevel float64       `env:"ATTACK_PER_LEVEL" envDefault:"2"`
	PerSecondCap   int64         `env:"PER_SECOND_CAP" envDefault:"600"`
	RotateInterval time.Duration `env:"ROTATE_INTERVAL" envDefault:"30s"`
	FeedInterval   time.Duration `env:"FEED_INTERVAL" envDefault:"3s"`
}

// PremiumConfig holds the TON payment parameters for premium time
type PremiumConfig struct {
	PriceNano      int64         `env:"PRICE_NANO" envDefault:"1000000000"`
	Duration       time.Duration `env:"DURATION" envDefault:"720h"`
	Wallet         string        `env:"WALLET"`
	TonAPIURL      string        `env:"TON_API_URL"`
	TonAPIKey      string        `env:"TON_API_KEY"`
	TonNetwork     string        `env:"TON_NETWORK" envDefault:"mainnet"`
	PaymentTimeout time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"60s"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
}

// SweepConfig schedules the saga and payment reconciliation worker
type SweepConfig struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"1m"`
	MinAge   time.Duration `env:"MIN_AGE" envDefault:"2m"`
	Batch    int           `env:"BATCH" envDefault:"100"`
}

// Parse reads the environment (after an optional .env) into a Config.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Dungeon:  PoolConfig{DailyAllotment: 5, Cap: 20, ShopDailyLimit: 5},
		BossPool: PoolConfig{DailyAllotment: 1, Cap: 5, ShopDailyLimit: 3},
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses the configuration and exits the process when it is invalid.
func Load() *Config {
	cfg, err := Parse()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	return cfg
}

func (c *Config) validate() error {
	for name, p := range map[string]PoolConfig{"dungeon": c.Dungeon, "worldboss": c.BossPool} {
		if p.DailyAllotment < 0 || p.Cap < p.DailyAllotment {
			return fmt.Errorf("%s pool: allotment %d must be within cap %d", name, p.DailyAllotment, p.Cap)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.WorldBoss.CycleDuration <= 0 {
		return fmt.Errorf("WORLDBOSS_CYCLE_DURATION must be positive")
	}
	if c.Energy.RegenInterval <= 0 {
		return fmt.Errorf("ENERGY_REGEN_INTERVAL must be positive")
	}
	return nil
}
