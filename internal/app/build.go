package app

import (
	"context"

	"github.com/avolpini/callbridge/internal/call"
	"github.com/avolpini/callbridge/internal/config"
	"github.com/avolpini/callbridge/internal/httpapi"
	"github.com/avolpini/callbridge/internal/observability"
	"github.com/avolpini/callbridge/internal/realtime"
	"github.com/avolpini/callbridge/internal/relay"
	"github.com/avolpini/callbridge/internal/twilio"
)

// BuildResult carries the wired service components.
type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Calls   *call.Registry
	Metrics *observability.Metrics
}

// Build wires the relay's components from configuration. It opens no network
// connections itself; AI transports are dialed per call.
func Build(cfg config.Config) *BuildResult {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	calls := call.NewRegistry(cfg.CallInactivityTimeout)
	calls.SetExpireHook(func(_ *call.Call) {
		metrics.CallEvents.WithLabelValues("expired").Inc()
		metrics.ActiveCalls.Set(float64(calls.ActiveCount()))
	})

	rtClient := realtime.NewClient(realtime.ClientConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.RealtimeBaseURL,
		Model:   cfg.RealtimeModel,
	})
	dialer := relay.AIDialerFunc(func(ctx context.Context) (relay.AIStream, error) {
		return rtClient.Dial(ctx)
	})

	var callClient httpapi.CallCreator
	if cfg.OutboundCallsConfigured() {
		callClient = twilio.NewRestClient(twilio.RestConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			BaseURL:    cfg.TwilioAPIBaseURL,
		})
	}

	api := httpapi.New(cfg, calls, dialer, callClient, metrics)

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Calls:   calls,
		Metrics: metrics,
	}
}
