package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"headway-simulator/internal/sim"
)

// PublisherMetrics is the hook the publisher uses to report its health.
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NATSPublisher forwards the typed event stream and the stop-visit record
// stream to NATS. It implements sim.Sink and sim.RecordWriter; publish
// failures are counted and logged, never surfaced into the kernel.
type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
}

func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("headway-simulator"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// Emit publishes a domain event under events.<type>.<route>.<direction>.
func (p *NATSPublisher) Emit(ev sim.Event) {
	subject := fmt.Sprintf("events.%s.%s.%s",
		subjectToken(string(ev.Type)), subjectToken(ev.RouteID), subjectToken(ev.Direction))
	if err := p.publish(subject, ev); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

// Write publishes a stop-visit record under records.<route>.<trip>.
func (p *NATSPublisher) Write(rec sim.StopVisitRecord) error {
	subject := fmt.Sprintf("records.%s.%s", subjectToken(rec.RouteID), subjectToken(rec.TripID))
	return p.publish(subject, rec)
}

func (p *NATSPublisher) publish(subject string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Debug().Str("subject", subject).Msg("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*', or '.'.
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
