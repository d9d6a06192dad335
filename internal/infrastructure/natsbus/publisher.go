package natsbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/katanapod/COC-FS20/internal/infrastructure/config"
)

const (
	defaultClientName    = "fs20gateway"
	defaultSubjectPrefix = "fs20"
	reconnectWait        = 2 * time.Second
	connectTimeout       = 5 * time.Second
	unknownDeviceToken   = "unknown"
)

// Event is the JSON body published for every decoded frame.
type Event struct {
	Device     string    `json:"device,omitempty"`
	Address    string    `json:"address"`
	Prefix     string    `json:"prefix"`
	Command    string    `json:"command"`
	Raw        string    `json:"raw"`
	ReceivedAt time.Time `json:"received_at"`
}

// Publisher publishes FS20 events to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials the configured server. The connection reconnects forever
// in the background once established.
func Connect(cfg config.NATSConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	name := cfg.Name
	if name == "" {
		name = defaultClientName
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Publisher{nc: nc, prefix: subjectPrefix(cfg.SubjectPrefix)}, nil
}

// PublishEvent publishes ev on its device subject.
func (p *Publisher) PublishEvent(ev Event) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	subject, data, err := encodeEvent(p.prefix, ev)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected reports whether the underlying connection is usable.
func (p *Publisher) IsConnected() bool {
	return p != nil && p.nc != nil && p.nc.IsConnected()
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}

// Subject returns the subject an event for device is published on.
func Subject(prefix, device string) string {
	return subjectPrefix(prefix) + ".events." + subjectToken(device)
}

func encodeEvent(prefix string, ev Event) (string, []byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encoding event: %w", ErrPublishFailed, err)
	}
	return Subject(prefix, ev.Device), data, nil
}

func subjectPrefix(prefix string) string {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return defaultSubjectPrefix
	}
	return prefix
}

// subjectToken makes name safe as a single subject token.
func subjectToken(name string) string {
	if name == "" {
		return unknownDeviceToken
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, name)
}
