package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/flowsend/flowsend/internal/ledger"
	"github.com/flowsend/flowsend/internal/logger"
)

const (
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultOpsAddr      = "localhost:9090"
	defaultBotName      = "FlowSend"
	defaultPointName    = "points"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment
	Environment string

	// Discord bot token
	DiscordToken string

	// External points ledger credentials
	DripAPIKey    string
	RealmID       string
	PointsID      string
	LedgerBaseURL string

	// Database to connect to
	DatabaseDSN string

	// Display names used in message cards
	BotName   string
	PointName string

	// Address of the ops HTTP server (healthz, metrics)
	OpsAddr string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:      defaultLoggingLevel,
		Environment:   defaultEnvironment,
		LedgerBaseURL: ledger.DefaultBaseURL,
		OpsAddr:       defaultOpsAddr,
		BotName:       defaultBotName,
		PointName:     defaultPointName,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	envMap := map[string]func(string){
		"DISCORD_TOKEN":  setString(&c.DiscordToken),
		"DRIP_APIKEY":    setString(&c.DripAPIKey),
		"REALMS_ID":      setString(&c.RealmID),
		"DRIP_POINTS_ID": setString(&c.PointsID),
		"DRIP_BASE_URL":  setString(&c.LedgerBaseURL),
		"DATABASE_URI":   setString(&c.DatabaseDSN),
		"BOT_NAME":       setString(&c.BotName),
		"POINT_NAME":     setString(&c.PointName),
		"LOG_LEVEL":      setString(&c.LogLevel),
		"ENVIRONMENT":    setString(&c.Environment),
		"OPS_ADDRESS":    setString(&c.OpsAddr),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("flowsend", pflag.ContinueOnError)

	fs.StringVarP(&c.DiscordToken, "token", "t", c.DiscordToken, "Discord bot token")
	fs.StringVarP(&c.DripAPIKey, "api-key", "k", c.DripAPIKey, "Drip API key")
	fs.StringVarP(&c.RealmID, "realm", "r", c.RealmID, "Drip realm identifier")
	fs.StringVarP(&c.PointsID, "points-id", "p", c.PointsID, "Drip points identifier")
	fs.StringVar(&c.LedgerBaseURL, "ledger-url", c.LedgerBaseURL, "Drip API base URL")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.OpsAddr, "ops-address", c.OpsAddr, "Ops server listen address")

	return fs.Parse(args)
}

// Validate checks required options, the bot can't start without them
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("discord token is required")
	}
	if c.DripAPIKey == "" {
		return errors.New("drip API key is required")
	}
	if c.RealmID == "" {
		return errors.New("realm id is required")
	}
	if c.PointsID == "" {
		return errors.New("points id is required")
	}
	if c.DatabaseDSN == "" {
		return errors.New("database DSN is required")
	}

	return nil
}
