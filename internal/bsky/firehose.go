package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skeetgame-ingest/internal/config"
)

// Firehose subscribes to the Jetstream commit feed over a websocket.
// Delivery order is preserved: events are handed to the callback one at a
// time from a single read loop.
type Firehose struct {
	cfg    *config.JetstreamConfig
	logger *slog.Logger
	conn   *websocket.Conn
}

// NewFirehose creates a feed subscription client
func NewFirehose(cfg *config.JetstreamConfig, logger *slog.Logger) *Firehose {
	return &Firehose{
		cfg:    cfg,
		logger: logger,
	}
}

// subscribeURL builds the endpoint URL with the wanted collections and DIDs
func (f *Firehose) subscribeURL() (string, error) {
	u, err := url.Parse(f.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing feed endpoint: %w", err)
	}
	q := u.Query()
	q.Add("wantedCollections", CollectionPost)
	q.Add("wantedCollections", CollectionLike)
	for _, did := range f.cfg.WantedDIDs {
		q.Add("wantedDids", did)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect establishes the initial subscription. A failure here is fatal to
// the caller; reconnects after the first successful dial are handled inside
// Run.
func (f *Firehose) Connect(ctx context.Context) error {
	endpoint, err := f.subscribeURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing feed endpoint: %w", err)
	}

	f.conn = conn
	f.logger.Info("feed subscription established", "endpoint", f.cfg.Endpoint)
	return nil
}

// Run reads commit events and invokes fn for each creation until the
// context is canceled. Read failures reconnect with capped backoff; decode
// failures skip the message.
func (f *Firehose) Run(ctx context.Context, fn func(*CommitEvent)) error {
	if f.conn == nil {
		if err := f.Connect(ctx); err != nil {
			return err
		}
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			f.close()
			return ctx.Err()
		}

		if f.conn == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > f.cfg.MaxBackoff {
				backoff = f.cfg.MaxBackoff
			}
			if err := f.Connect(ctx); err != nil {
				f.logger.Warn("feed reconnect failed", "error", err)
				continue
			}
		}

		_, message, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				f.close()
				return ctx.Err()
			}
			f.logger.Warn("feed read failed, reconnecting", "error", err, "backoff", backoff)
			f.close()
			continue
		}
		backoff = time.Second

		var event CommitEvent
		if err := json.Unmarshal(message, &event); err != nil {
			f.logger.Warn("skipping undecodable feed message", "error", err)
			continue
		}
		if event.Kind != "commit" || event.Commit.Operation != "create" {
			continue
		}

		fn(&event)
	}
}

func (f *Firehose) close() {
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
