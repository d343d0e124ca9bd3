package source

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/record"
)

// NATSConfig configures a NATS-backed source.
type NATSConfig struct {
	// URL is the NATS server URL. Ignored when a connection is injected.
	URL string `json:"url"`

	// Subject to subscribe to.
	Subject string `json:"subject"`

	// QueueGroup enables queue-group load balancing when non-empty.
	QueueGroup string `json:"queue_group"`

	// QueueSize bounds the ingestion buffer between the subscription and
	// the pipeline. A full buffer blocks ingestion (backpressure) rather
	// than dropping records.
	QueueSize int `json:"queue_size"`

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// Validate checks the configuration.
func (c NATSConfig) Validate() error {
	if c.Subject == "" {
		return errors.WrapConfig(errors.ErrMissingConfig, "source.NATS", "Validate",
			"subject is required")
	}
	if c.QueueSize < 0 {
		return errors.WrapConfig(errors.ErrInvalidConfig, "source.NATS", "Validate",
			"queue_size cannot be negative")
	}
	return nil
}

// DefaultNATSConfig returns sensible defaults for the given subject.
func DefaultNATSConfig(subject string) NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Subject:        subject,
		QueueSize:      256,
		ConnectTimeout: 5 * time.Second,
	}
}

// NATS ingests JSON records from a NATS subject. Messages that fail to
// decode are counted and skipped, never fatal.
type NATS struct {
	cfg      NATSConfig
	conn     *nats.Conn
	ownsConn bool
	used     bool

	decodeFailures int64
	onDecodeError  func(subject string, err error)
}

// NewNATS creates a NATS source that dials cfg.URL on Stream.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &NATS{cfg: cfg, ownsConn: true}, nil
}

// NewNATSWithConn creates a NATS source over an existing connection.
// The caller keeps ownership of the connection.
func NewNATSWithConn(conn *nats.Conn, cfg NATSConfig) (*NATS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.WrapInterface(errors.ErrNoConnection, "source.NATS", "NewNATSWithConn",
			"connection validation")
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	return &NATS{cfg: cfg, conn: conn}, nil
}

// OnDecodeError sets an observer for messages that fail to decode.
func (n *NATS) OnDecodeError(fn func(subject string, err error)) {
	n.onDecodeError = fn
}

func (n *NATS) Name() string { return "nats:" + n.cfg.Subject }

// Stream subscribes and delivers decoded records. The bounded buffer
// between subscription and consumer applies blocking backpressure: when
// the pipeline falls behind, messages accumulate in the subscription's
// pending window instead of being dropped.
func (n *NATS) Stream(ctx context.Context) (<-chan *record.Record, error) {
	if n.used {
		return nil, errors.WrapInterface(errors.ErrAlreadyStarted, "source.NATS", "Stream",
			"sources are single-use")
	}
	n.used = true

	if n.conn == nil {
		conn, err := nats.Connect(n.cfg.URL, nats.Timeout(n.cfg.ConnectTimeout))
		if err != nil {
			return nil, errors.WrapTransient(err, "source.NATS", "Stream",
				"connect to "+n.cfg.URL)
		}
		n.conn = conn
	}

	var sub *nats.Subscription
	var err error
	if n.cfg.QueueGroup != "" {
		sub, err = n.conn.QueueSubscribeSync(n.cfg.Subject, n.cfg.QueueGroup)
	} else {
		sub, err = n.conn.SubscribeSync(n.cfg.Subject)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "source.NATS", "Stream",
			"subscribe to "+n.cfg.Subject)
	}
	// Pending window sized to the queue; beyond it NATS flow control
	// pushes back on the server.
	if err := sub.SetPendingLimits(n.cfg.QueueSize, -1); err != nil {
		return nil, errors.WrapInterface(err, "source.NATS", "Stream", "set pending limits")
	}

	out := make(chan *record.Record, n.cfg.QueueSize)
	go func() {
		defer close(out)
		defer func() {
			_ = sub.Unsubscribe()
			if n.ownsConn {
				n.conn.Close()
			}
		}()

		for {
			msg, err := sub.NextMsgWithContext(ctx)
			if err != nil {
				// Context cancellation or connection teardown ends the stream.
				return
			}

			rec := record.New()
			if err := rec.UnmarshalJSON(msg.Data); err != nil {
				n.decodeFailures++
				if n.onDecodeError != nil {
					n.onDecodeError(msg.Subject, err)
				}
				continue
			}

			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// DecodeFailures returns how many messages failed to decode.
func (n *NATS) DecodeFailures() int64 {
	return n.decodeFailures
}
