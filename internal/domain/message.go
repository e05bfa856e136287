package domain

import "time"

// ChatType classifies where a channel message was posted.
type ChatType string

const (
	ChatTypeDM    ChatType = "dm"
	ChatTypeGroup ChatType = "group"
)

// InboundMessage is a message received from a channel adapter.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName,omitempty"`
	ChatID    string    `json:"chatId"`
	ChatType  ChatType  `json:"chatType"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`

	// Confidence is the transcription confidence for audio turns.
	Confidence *float64 `json:"confidence,omitempty"`
}

// Metadata converts the message into the channel metadata recorded with a turn.
func (m InboundMessage) Metadata() ChannelMetadata {
	return ChannelMetadata{
		ChannelID:  m.ChannelID,
		From:       m.From,
		FromName:   m.FromName,
		ReplyTo:    m.ChatID,
		MessageID:  m.ID,
		Confidence: m.Confidence,
	}
}

// OutboundMessage is a reply produced by the orchestrator for a channel.
type OutboundMessage struct {
	ConversationID string `json:"conversationId"`
	ChannelID      string `json:"channelId,omitempty"`
	To             string `json:"to,omitempty"`
	Body           string `json:"body"`
	AgentID        string `json:"agentId"`
	ReplyToID      string `json:"replyToId,omitempty"`
}
