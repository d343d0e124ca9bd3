package sink

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/record"
)

// NATSConfig configures a NATS-backed sink.
type NATSConfig struct {
	// URL is the NATS server URL. Ignored when a connection is injected.
	URL string `json:"url"`

	// Subject records are published to.
	Subject string `json:"subject"`

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// FlushOnClose flushes buffered publishes when the stream ends.
	FlushOnClose bool `json:"flush_on_close"`
}

// Validate checks the configuration.
func (c NATSConfig) Validate() error {
	if c.Subject == "" {
		return errors.WrapConfig(errors.ErrMissingConfig, "sink.NATS", "Validate",
			"subject is required")
	}
	return nil
}

// NATS publishes records as JSON to a subject. Publish failures are
// counted and skipped so one bad record never stops the drain.
type NATS struct {
	cfg      NATSConfig
	conn     *nats.Conn
	ownsConn bool

	published    int64
	publishFails int64
}

// NewNATS creates a NATS sink that dials cfg.URL on first Consume.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &NATS{cfg: cfg, ownsConn: true}, nil
}

// NewNATSWithConn creates a NATS sink over an existing connection. The
// caller keeps ownership of the connection.
func NewNATSWithConn(conn *nats.Conn, cfg NATSConfig) (*NATS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.WrapInterface(errors.ErrNoConnection, "sink.NATS", "NewNATSWithConn",
			"connection validation")
	}
	return &NATS{cfg: cfg, conn: conn}, nil
}

func (s *NATS) Name() string { return "nats:" + s.cfg.Subject }

func (s *NATS) Consume(ctx context.Context, in <-chan *record.Record) error {
	if s.conn == nil {
		conn, err := nats.Connect(s.cfg.URL, nats.Timeout(s.cfg.ConnectTimeout))
		if err != nil {
			return errors.WrapTransient(err, "sink.NATS", "Consume",
				"connect to "+s.cfg.URL)
		}
		s.conn = conn
	}
	defer func() {
		if s.cfg.FlushOnClose {
			_ = s.conn.Flush()
		}
		if s.ownsConn {
			s.conn.Close()
		}
	}()

	for {
		select {
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			data, err := json.Marshal(rec)
			if err != nil {
				atomic.AddInt64(&s.publishFails, 1)
				continue
			}
			if err := s.conn.Publish(s.cfg.Subject, data); err != nil {
				atomic.AddInt64(&s.publishFails, 1)
				continue
			}
			atomic.AddInt64(&s.published, 1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Published returns how many records were published.
func (s *NATS) Published() int64 {
	return atomic.LoadInt64(&s.published)
}

// PublishFailures returns how many records failed to publish.
func (s *NATS) PublishFailures() int64 {
	return atomic.LoadInt64(&s.publishFails)
}
