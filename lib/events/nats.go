package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSPublisher publishes each event as JSON on <prefix>.<type>.
type NATSPublisher struct {
	nc     natsConn
	prefix string
}

type NATSOptions struct {
	URL               string
	Name              string
	Prefix            string
	MaxReconnects     int
	ReconnectInterval time.Duration
}

func DialNATS(opts NATSOptions) (*NATSPublisher, error) {
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSPublisher(nc, opts.Prefix), nil
}

func NewNATSPublisher(nc natsConn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) Subject(t Type) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(e Event) {
	data, err := e.Marshal()
	if err != nil {
		log.Error().Err(err).Str("type", string(e.Type)).Msg("encode event")
		return
	}
	if err := p.nc.Publish(p.Subject(e.Type), data); err != nil {
		log.Warn().Err(err).Str("subject", p.Subject(e.Type)).Msg("nats publish failed")
	}
}

func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("nats drain")
	}
}
