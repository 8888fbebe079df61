package main

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/SridarDhandapani/onvif-events/events"
)

// config holds the daemon settings. Precedence, highest first: flags,
// ONVIF_* environment variables (including those from .env), config file,
// defaults.
type config struct {
	Address  string
	Username string
	Password string
	Insecure bool

	Listen string

	LogLevel  string
	LogFormat string

	MessageLimit         int
	PullTimeout          time.Duration
	SubscriptionLifetime time.Duration
	RestartCooldown      time.Duration
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("address", "", "device service address, e.g. http://192.168.1.10/onvif/device_service")
	flags.String("user", "", "camera username")
	flags.String("pass", "", "camera password")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.String("listen", ":8080", "HTTP listen address, empty to disable the API")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.Int("message-limit", events.DefaultMessageLimit, "maximum notifications per pull")
	flags.Duration("pull-timeout", events.DefaultPullTimeout, "server-side wait of each pull")
	flags.Duration("subscription-lifetime", events.DefaultSubscriptionLifetime, "requested subscription lifetime")
	flags.Duration("restart-cooldown", events.DefaultRestartCooldown, "delay between resubscribe attempts")
}

// loadConfig resolves the settings from flags, environment and config file
func loadConfig(v *viper.Viper, flags *pflag.FlagSet) (*config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Annotate(err, "loading .env")
	}

	if err := v.BindPFlags(flags); err != nil {
		return nil, errors.Trace(err)
	}
	v.SetEnvPrefix("ONVIF")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "reading config file %s", file)
		}
	}

	cfg := &config{
		Address:              v.GetString("address"),
		Username:             v.GetString("user"),
		Password:             v.GetString("pass"),
		Insecure:             v.GetBool("insecure"),
		Listen:               v.GetString("listen"),
		LogLevel:             v.GetString("log-level"),
		LogFormat:            v.GetString("log-format"),
		MessageLimit:         v.GetInt("message-limit"),
		PullTimeout:          v.GetDuration("pull-timeout"),
		SubscriptionLifetime: v.GetDuration("subscription-lifetime"),
		RestartCooldown:      v.GetDuration("restart-cooldown"),
	}

	if cfg.Address == "" {
		return nil, errors.NotValidf("empty camera address (set --address or ONVIF_ADDRESS)")
	}
	return cfg, nil
}

// engineConfig maps the daemon settings onto the engine's
func (c *config) engineConfig() events.Config {
	ec := events.DefaultConfig()
	ec.MessageLimit = c.MessageLimit
	ec.PullTimeout = c.PullTimeout
	ec.SubscriptionLifetime = c.SubscriptionLifetime
	ec.RestartCooldown = c.RestartCooldown
	return ec
}
