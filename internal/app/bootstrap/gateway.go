package bootstrap

import (
	"strings"

	appconfig "github.com/onmp21/glamour-chat-center-34-sub000/internal/config"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/gateway"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

// BuildGatewayClient returns the outbound WhatsApp client, or nil with a reason
// when sending is not configured.
func BuildGatewayClient(cfg *appconfig.Config, logger *logging.Logger) (*gateway.Client, string) {
	if cfg == nil {
		return nil, "missing config"
	}
	if strings.TrimSpace(cfg.GatewayBaseURL) == "" {
		return nil, "GATEWAY_BASE_URL not set"
	}
	client, err := gateway.New(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		APIKey:     cfg.GatewayAPIKey,
		Timeout:    cfg.GatewayTimeout,
		MaxRetries: cfg.GatewayMaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return nil, err.Error()
	}
	return client, ""
}
