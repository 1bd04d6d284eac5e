// Command example demonstrates wiring client.Client with the bundled
// reference transport and a viper-loaded configuration. This program is
// not part of the importable core; it exists only to show an application
// how the pieces fit together.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Sidd-007/analytics-core/client"
	"github.com/Sidd-007/analytics-core/pkg/ruleset"
	"github.com/Sidd-007/analytics-core/transport"
)

func loadConfig() *client.Config {
	viper.SetEnvPrefix("ANALYTICS")
	viper.AutomaticEnv()
	viper.SetConfigName("analytics")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("host", "https://us.i.posthog.com")
	viper.SetDefault("flush_at", 20)
	viper.SetDefault("flush_interval_seconds", 30)
	viper.SetDefault("feature_flag_poll_interval_seconds", 30)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("no config file found, relying on environment/defaults: %v", err)
	}

	opts := []client.Option{
		client.WithHost(viper.GetString("host")),
		client.WithFlush(viper.GetInt("flush_at"), time.Duration(viper.GetInt("flush_interval_seconds"))*time.Second),
		client.WithFeatureFlagPollInterval(time.Duration(viper.GetInt("feature_flag_poll_interval_seconds")) * time.Second),
	}
	if personalKey := viper.GetString("personal_api_key"); personalKey != "" {
		opts = append(opts, client.WithPersonalAPIKey(personalKey))
	}

	return client.NewConfig(viper.GetString("project_api_key"), opts...)
}

func main() {
	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg := loadConfig()
	cfg.Logger = logger

	httpTransport := transport.NewHTTPTransport(
		transport.WithLogger(logger),
		transport.WithMaxRetries(3),
	)

	c, err := client.NewClient(cfg, httpTransport)
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	if natsURL := viper.GetString("nats_url"); natsURL != "" {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			log.Printf("nats connect failed, continuing on poll-only refresh: %v", err)
		} else {
			defer nc.Close()
			subject := fmt.Sprintf("analytics.flags.invalidate.%s", viper.GetString("project_api_key"))
			invalidator, err := client.NewNATSInvalidator(nc, subject, c, logger)
			if err != nil {
				log.Printf("nats invalidation subscribe failed: %v", err)
			} else {
				defer invalidator.Close()
			}
		}
	}

	ctx := context.Background()

	ok := c.Capture(ctx, "example_event", "user-123", map[string]any{
		"source": "cmd/example",
	}, nil, false)
	fmt.Printf("captured: %v\n", ok)

	result, err := c.GetFlag(ctx, "beta-feature", "user-123", client.GetFlagOptions{
		PersonProperties: map[string]any{"email": "user@example.com"},
		Groups:           []ruleset.Group{{Type: "company", Key: "acme", Properties: map[string]any{"name": "Acme"}}},
	})
	if err != nil {
		log.Printf("flag evaluation error: %v", err)
	} else {
		fmt.Printf("beta-feature: %+v (enabled=%v)\n", result.Value, result.IsEnabled())
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Flush(flushCtx); err != nil {
		log.Printf("flush error: %v", err)
	}

	stats := c.Stats()
	fmt.Printf("stats: %+v\n", stats)
}
