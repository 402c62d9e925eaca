package cli

import (
	"context"

	"github.com/skald-audio/capture-service/internal/capture"
	"github.com/skald-audio/capture-service/internal/gateway"
)

// gatewayDialer adapts the gateway client to the capture manager's
// dialer interface.
type gatewayDialer struct {
	client *gateway.Client
}

func (d gatewayDialer) Join(ctx context.Context, channelID string) (capture.VoiceSource, error) {
	conn, err := d.client.Join(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
