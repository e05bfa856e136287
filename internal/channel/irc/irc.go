// Package irc carries conversations over IRC. Private messages and channel
// lines addressed to the bot's nick become turns.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"github.com/lrstanley/girc"
	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/soyeahso/switchboard/internal/version"
)

const (
	channelID = "irc"

	minRedial = 5 * time.Second
	maxRedial = 5 * time.Minute
)

var (
	ErrNotConnected = errors.New("irc: not connected")
	ErrNoTarget     = errors.New("irc: reply has no recipient")
)

// Channel is the IRC adapter. Start keeps it connected until the context
// ends or Stop is called.
type Channel struct {
	cfg config.IRCConfig
	log *logging.Logger

	mu      sync.RWMutex
	client  *girc.Client
	handler func(domain.InboundMessage)
	running bool
	stopped bool
	lastErr string
}

func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{cfg: cfg, log: log.Sub(channelID)}
}

func (c *Channel) ID() string { return channelID }

func (c *Channel) OnMessage(handler func(domain.InboundMessage)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: channelID,
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// port returns the configured port or the IANA default for the transport.
func (c *Channel) port() int {
	switch {
	case c.cfg.Port != 0:
		return c.cfg.Port
	case c.cfg.UseTLS:
		return 6697
	default:
		return 6667
	}
}

func (c *Channel) clientConfig() girc.Config {
	gc := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "switchboard",
		Version: version.UserAgent(),
		SSL:     c.cfg.UseTLS,
	}
	if c.cfg.UseTLS {
		gc.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	switch {
	case c.cfg.Password == "":
	case c.cfg.SASL:
		gc.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	default:
		gc.ServerPass = c.cfg.Password
	}
	return gc
}

// Start connects and redials with exponential backoff whenever the
// connection drops. It returns nil once ctx ends or Stop is called.
func (c *Channel) Start(ctx context.Context) error {
	client := girc.New(c.clientConfig())
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, func(*girc.Client, girc.Event) {
		c.log.Warn().Msg("disconnected")
	})

	c.mu.Lock()
	c.client = client
	c.running = true
	c.stopped = false
	c.lastErr = ""
	c.mu.Unlock()
	defer c.setRunning(false)

	unwatch := context.AfterFunc(ctx, client.Close)
	defer unwatch()

	log := c.log.With("server", c.cfg.Server)
	wait := minRedial
	for {
		log.Info().Int("port", c.port()).Str("nick", c.cfg.Nick).Bool("tls", c.cfg.UseTLS).Msg("dialing")
		err := client.Connect()
		if ctx.Err() != nil || c.isStopped() {
			return nil
		}
		if err == nil {
			err = errors.New("connection closed by server")
		}
		c.setErr(err)
		log.Warn().Err(err).Dur("retryIn", wait).Msg("connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, maxRedial)
	}
}

// Stop sends QUIT and ends Start.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	client := c.client
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		c.log.Info().Msg("quitting")
		client.Quit("switchboard shutting down")
	}
	if client != nil {
		client.Close()
	}
	return nil
}

// Send writes the reply to msg.To, one PRIVMSG per line.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.To == "" {
		return ErrNoTarget
	}
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	lines := splitLines(msg.Body, maxLineBytes)
	for _, line := range lines {
		client.Cmd.Message(msg.To, line)
	}
	c.log.Debug().Str("to", msg.To).Int("lines", len(lines)).Msg("sent")
	return nil
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
	c.log.Info().Str("nick", client.GetNick()).Strs("channels", c.cfg.Channels).Msg("connected")
	if len(c.cfg.Channels) > 0 {
		client.Cmd.Join(c.cfg.Channels...)
	}
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	msg, ok := inbound(client.GetNick(), e, time.Now())
	if !ok {
		return
	}
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

func (c *Channel) setRunning(v bool) {
	c.mu.Lock()
	c.running = v
	c.mu.Unlock()
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *Channel) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}
