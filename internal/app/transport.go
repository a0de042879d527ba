package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/recruiter/internal/chat"
	"github.com/ent0n29/recruiter/internal/config"
	"github.com/ent0n29/recruiter/internal/gateway"
	"github.com/ent0n29/recruiter/internal/observability"
	"github.com/ent0n29/recruiter/internal/telegram"
)

type transportSetup struct {
	transport chat.Transport
	mode      string
	detail    string
	ready     func() bool
}

func resolveTransport(cfg config.Config, logger *slog.Logger, metrics *observability.Metrics) (transportSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.TransportMode))
	switch mode {
	case config.TransportGateway:
		c, err := gateway.New(gateway.Config{
			URL:     cfg.GatewayURL,
			Token:   cfg.GatewayToken,
			Logger:  logger,
			Metrics: metrics,
		})
		if err != nil {
			return transportSetup{}, fmt.Errorf("gateway transport init failed: %w", err)
		}
		return transportSetup{
			transport: c,
			mode:      mode,
			detail:    "websocket bridge " + cfg.GatewayURL,
			ready:     c.Connected,
		}, nil
	case config.TransportTelegram:
		t, err := telegram.New(telegram.Config{
			Token:   cfg.TelegramBotToken,
			Logger:  logger,
			Metrics: metrics,
		})
		if err != nil {
			return transportSetup{}, fmt.Errorf("telegram transport init failed: %w", err)
		}
		return transportSetup{
			transport: t,
			mode:      mode,
			detail:    "telegram long polling",
			ready:     func() bool { return true },
		}, nil
	default:
		return transportSetup{}, fmt.Errorf("invalid TRANSPORT_MODE: %q (expected %s|%s)", cfg.TransportMode, config.TransportGateway, config.TransportTelegram)
	}
}
