// Package config centralizes environment-driven configuration for the
// round engine: connection settings plus every game tuning knob.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
)

// RiskDenominator selects what the adaptive risk ratio divides by.
type RiskDenominator string

const (
	// DenominatorLive divides by the total wager of currently pending bets.
	DenominatorLive RiskDenominator = "live"
	// DenominatorSnapshot divides by the total wagered captured when the
	// round entered Running, regardless of later cashouts.
	DenominatorSnapshot RiskDenominator = "snapshot"
)

type Config struct {
	Env         string
	ServiceName string

	HTTPPort    string
	MetricsPort string

	DBUsername string
	DBPassword string
	DBHost     string
	DBPort     string
	DBDatabase string
	DBSchema   string

	MigrationsPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Game GameConfig
}

// GameConfig holds the round engine's tuning. Defaults mirror the
// production values: 200ms ticks, +0.01 per tick, 2% rake, 70% risk
// threshold, 1.20x single-bettor floor.
type GameConfig struct {
	TickInterval  time.Duration
	WaitingDelay  time.Duration
	CrashCooldown time.Duration

	MultiplierStep decimal.Decimal

	Rake              decimal.Decimal
	RiskThreshold     decimal.Decimal
	RiskDenominator   RiskDenominator
	SingleBettorFloor decimal.Decimal
	SmallPotThreshold decimal.Decimal

	// Baseline draw ceilings per exposure bucket; every draw floors at 1.00.
	DrawIdleCeiling  decimal.Decimal
	DrawFewCeiling   decimal.Decimal
	DrawSmallCeiling decimal.Decimal
	DrawLargeCeiling decimal.Decimal

	MinBet decimal.Decimal
	MaxBet decimal.Decimal

	HistoryWindow       int
	LeaderboardSize     int
	LeaderboardInterval time.Duration
}

func Load() Config {
	return Config{
		Env:         getEnv("ENV", "local"),
		ServiceName: getEnv("SERVICE_NAME", "crashpit"),

		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9095"),

		DBUsername: getEnv("CRASHPIT_DB_USERNAME", "postgres"),
		DBPassword: getEnv("CRASHPIT_DB_PASSWORD", "postgres"),
		DBHost:     getEnv("CRASHPIT_DB_HOST", "localhost"),
		DBPort:     getEnv("CRASHPIT_DB_PORT", "5432"),
		DBDatabase: getEnv("CRASHPIT_DB_DATABASE", "crashdb"),
		DBSchema:   getEnv("CRASHPIT_DB_SCHEMA", "public"),

		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),

		RedisAddr:     getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		Game: LoadGame(),
	}
}

func LoadGame() GameConfig {
	return GameConfig{
		TickInterval:  getEnvAsDuration("GAME_TICK_INTERVAL", 200*time.Millisecond),
		WaitingDelay:  getEnvAsDuration("GAME_WAITING_DELAY", 5*time.Second),
		CrashCooldown: getEnvAsDuration("GAME_CRASH_COOLDOWN", 5*time.Second),

		MultiplierStep: getEnvAsDecimal("GAME_MULTIPLIER_STEP", "0.01"),

		Rake:              getEnvAsDecimal("GAME_RAKE", "0.02"),
		RiskThreshold:     getEnvAsDecimal("GAME_RISK_THRESHOLD", "0.70"),
		RiskDenominator:   RiskDenominator(getEnv("GAME_RISK_DENOMINATOR", string(DenominatorLive))),
		SingleBettorFloor: getEnvAsDecimal("GAME_SINGLE_BETTOR_FLOOR", "1.20"),
		SmallPotThreshold: getEnvAsDecimal("GAME_SMALL_POT_THRESHOLD", "100"),

		DrawIdleCeiling:  getEnvAsDecimal("GAME_DRAW_IDLE_CEILING", "7.00"),
		DrawFewCeiling:   getEnvAsDecimal("GAME_DRAW_FEW_CEILING", "1.20"),
		DrawSmallCeiling: getEnvAsDecimal("GAME_DRAW_SMALL_CEILING", "1.30"),
		DrawLargeCeiling: getEnvAsDecimal("GAME_DRAW_LARGE_CEILING", "1.90"),

		MinBet: getEnvAsDecimal("GAME_MIN_BET", "1"),
		MaxBet: getEnvAsDecimal("GAME_MAX_BET", "10000"),

		HistoryWindow:       getEnvAsInt("GAME_HISTORY_WINDOW", 10),
		LeaderboardSize:     getEnvAsInt("GAME_LEADERBOARD_SIZE", 10),
		LeaderboardInterval: getEnvAsDuration("GAME_LEADERBOARD_INTERVAL", 5*time.Second),
	}
}

// PostgresDSN assembles the pgx connection string.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		c.DBUsername, c.DBPassword, c.DBHost, c.DBPort, c.DBDatabase, c.DBSchema)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key, defaultVal string) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(defaultVal)
	return d
}
