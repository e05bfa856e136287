package domain

import "context"

// Channel is a messaging adapter. Start blocks for the life of the
// connection; inbound messages reach the handler given to OnMessage.
type Channel interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	OnMessage(handler func(msg InboundMessage))
}

type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}
