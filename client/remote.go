package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// FlagsResult is the shape a remote evaluation call resolves to: every flag
// the endpoint knows about for this identity, plus payloads and an errors
// flag.
type FlagsResult struct {
	FeatureFlags              map[string]any    `json:"featureFlags"`
	FeatureFlagPayloads       map[string]string `json:"featureFlagPayloads"`
	ErrorsWhileComputingFlags bool              `json:"errorsWhileComputingFlags"`
	QuotaLimited              []string          `json:"quotaLimited"`
}

// remoteFetcher is the Remote Flag Fetcher (C6): calls the remote
// evaluation endpoint and shapes the response.
type remoteFetcher struct {
	transport Transport
	logger    zerolog.Logger

	projectAPIKey string
	host          string
}

func newRemoteFetcher(transport Transport, logger zerolog.Logger, cfg *Config) *remoteFetcher {
	return &remoteFetcher{
		transport:     transport,
		logger:        logger.With().Str("component", "remote-fetcher").Logger(),
		projectAPIKey: cfg.ProjectAPIKey,
		host:          cfg.Host,
	}
}

type remoteFlagsRequestBody struct {
	Token            string         `json:"token"`
	DistinctID       string         `json:"distinct_id"`
	PersonProperties map[string]any `json:"person_properties,omitempty"`
	Groups           map[string]any `json:"groups,omitempty"`
}

// Fetch calls the remote evaluation endpoint for one identity. A transport
// error is logged and surfaced to the caller, which must treat it as
// "remote path abandoned for this call".
func (f *remoteFetcher) Fetch(ctx context.Context, distinctID string, personProperties map[string]any, groups map[string]any) (*FlagsResult, error) {
	body := remoteFlagsRequestBody{
		Token:            f.projectAPIKey,
		DistinctID:       distinctID,
		PersonProperties: personProperties,
		Groups:           groups,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal remote flags request: %w", err)
	}

	req := Request{
		Method: "POST",
		URL:    f.host + "/flags/?v=2",
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}

	resp, err := f.transport.Send(ctx, req)
	if err != nil {
		f.logger.Warn().Err(err).Str("distinct_id", distinctID).Msg("remote flag fetch failed")
		return nil, fmt.Errorf("remote flag fetch: %w", err)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		f.logger.Warn().Int("status", resp.Status).Str("distinct_id", distinctID).Msg("remote flag fetch returned an error status")
		return nil, fmt.Errorf("remote flag fetch: status %d", resp.Status)
	}

	var result FlagsResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal remote flags response: %w", err)
	}
	return &result, nil
}
