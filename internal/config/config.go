// Package config loads server settings from a .env file and the
// environment, environment taking precedence.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env          string
	Port         string
	MetricsPort  string
	DatabasePath string
	JWTSecret    string

	KafkaEnabled bool
	KafkaBrokers string
	KafkaTopic   string

	// Defaults applied to newly created auctions.
	MinParticipants  int
	MaxParticipants  int
	TickInterval     time.Duration
	CountdownSeconds int
	AntiSnipeSeconds int
	GraceSeconds     int
	BidIncrement     int64
	StartingBudget   int64
	SlotLimit        int
}

func Load() *Config {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // missing .env is fine, env vars still apply

	viper.SetDefault("ENV", "development")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("METRICS_PORT", "9095")
	viper.SetDefault("DATABASE_PATH", "gavel.db")
	viper.SetDefault("JWT_SECRET", "gavel-secret-key")

	viper.SetDefault("KAFKA_ENABLED", false)
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_TOPIC", "auction_events")

	viper.SetDefault("AUCTION_MIN_PARTICIPANTS", 2)
	viper.SetDefault("AUCTION_MAX_PARTICIPANTS", 20)
	viper.SetDefault("AUCTION_TICK_INTERVAL_MS", 400)
	viper.SetDefault("AUCTION_COUNTDOWN_SECONDS", 8)
	viper.SetDefault("AUCTION_ANTI_SNIPE_SECONDS", 3)
	viper.SetDefault("AUCTION_GRACE_SECONDS", 3)
	viper.SetDefault("AUCTION_BID_INCREMENT", 1)
	viper.SetDefault("AUCTION_STARTING_BUDGET", 200)
	viper.SetDefault("AUCTION_SLOT_LIMIT", 15)

	return &Config{
		Env:          viper.GetString("ENV"),
		Port:         viper.GetString("PORT"),
		MetricsPort:  viper.GetString("METRICS_PORT"),
		DatabasePath: viper.GetString("DATABASE_PATH"),
		JWTSecret:    viper.GetString("JWT_SECRET"),

		KafkaEnabled: viper.GetBool("KAFKA_ENABLED"),
		KafkaBrokers: viper.GetString("KAFKA_BROKERS"),
		KafkaTopic:   viper.GetString("KAFKA_TOPIC"),

		MinParticipants:  viper.GetInt("AUCTION_MIN_PARTICIPANTS"),
		MaxParticipants:  viper.GetInt("AUCTION_MAX_PARTICIPANTS"),
		TickInterval:     time.Duration(viper.GetInt("AUCTION_TICK_INTERVAL_MS")) * time.Millisecond,
		CountdownSeconds: viper.GetInt("AUCTION_COUNTDOWN_SECONDS"),
		AntiSnipeSeconds: viper.GetInt("AUCTION_ANTI_SNIPE_SECONDS"),
		GraceSeconds:     viper.GetInt("AUCTION_GRACE_SECONDS"),
		BidIncrement:     viper.GetInt64("AUCTION_BID_INCREMENT"),
		StartingBudget:   viper.GetInt64("AUCTION_STARTING_BUDGET"),
		SlotLimit:        viper.GetInt("AUCTION_SLOT_LIMIT"),
	}
}
