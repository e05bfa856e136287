package irc

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"
	"github.com/soyeahso/switchboard/internal/domain"
)

// inbound converts a PRIVMSG into a turn. A private message is always for
// the bot; a channel line only when it starts with the bot's nick.
func inbound(nick string, e girc.Event, now time.Time) (domain.InboundMessage, bool) {
	if e.Source == nil || len(e.Params) == 0 || strings.EqualFold(e.Source.Name, nick) {
		return domain.InboundMessage{}, false
	}
	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}

	msg := domain.InboundMessage{
		ID:        uuid.New().String(),
		ChannelID: channelID,
		From:      e.Source.Name,
		FromName:  e.Source.Name,
		Timestamp: now,
	}
	target := e.Params[0]
	if girc.IsValidChannel(target) {
		text, ok := addressed(body, nick)
		if !ok {
			return domain.InboundMessage{}, false
		}
		msg.ChatID, msg.ChatType, msg.Body = target, domain.ChatTypeGroup, text
		return msg, true
	}

	msg.Body = strings.TrimSpace(body)
	msg.ChatID, msg.ChatType = e.Source.Name, domain.ChatTypeDM
	return msg, msg.Body != ""
}

// addressed strips a leading "nick:", "nick," or "nick " and reports
// whether anything is left.
func addressed(body, nick string) (string, bool) {
	if nick == "" || len(body) <= len(nick) || !strings.EqualFold(body[:len(nick)], nick) {
		return "", false
	}
	rest := body[len(nick):]
	switch rest[0] {
	case ':', ',':
		rest = rest[1:]
	case ' ':
	default:
		return "", false
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}
