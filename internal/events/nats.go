package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"sifter/internal/logging"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher forwards events to <prefix>.<session>.<type>.
type NATSPublisher struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials url and returns a sink ready to attach to a Hub.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("sifter"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	p := newNATSPublisher(nc, prefix, logger)
	p.conn = nc
	return p, nil
}

func newNATSPublisher(pub publisher, prefix string, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "sifter.sessions"
	}
	return &NATSPublisher{
		pub:    pub,
		prefix: prefix,
		logger: logging.NewComponentLogger(logger, "events.nats"),
	}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(evt Event) string {
	return p.prefix + "." + subjectToken(evt.SessionID) + "." + subjectToken(string(evt.Type))
}

// Append implements Sink. Publish failures are logged, never returned.
func (p *NATSPublisher) Append(evt Event) {
	if p == nil || p.pub == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		logging.WarnWithContext(p.logger, "event encode failed", "event_encode_failed",
			logging.SessionID(evt.SessionID),
			logging.Error(err),
		)
		return
	}
	subject := p.Subject(evt)
	if err := p.pub.Publish(subject, data); err != nil {
		logging.WarnWithContext(p.logger, "event publish failed", "event_publish_failed",
			logging.String("subject", subject),
			logging.SessionID(evt.SessionID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "remote subscribers miss this event"),
		)
	}
}

// Close drains the connection when one was opened by ConnectNATS.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// subjectToken keeps wildcards and separators out of subject tokens.
func subjectToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, value)
}
