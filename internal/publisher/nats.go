package publisher

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
)

// NATSPublisher mirrors samples and status changes onto NATS subjects so other
// processes can follow a session live. It is a best-effort side channel.
type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	logger      *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logging.Component(logger, "nats_publisher")
	nc, err := nats.Connect(url,
		nats.Name("bikecompanion"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			if err != nil {
				logging.LogError(logger, "nats disconnected", err)
				return
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: subjectToken(prefix), logSubjects: logSubjects, metrics: m, logger: logger}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// StatusMessage is the payload published whenever a component's status text changes.
type StatusMessage struct {
	Component string    `json:"component"`
	SessionID string    `json:"sessionId,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *NATSPublisher) PublishSample(s bikeshare.PositionSample) error {
	return p.publish(SampleSubject(p.prefix, s.SessionID), s)
}

func (p *NATSPublisher) PublishStatus(msg StatusMessage) error {
	return p.publish(StatusSubject(p.prefix, msg.Component), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.logger.Debug("nats publish", slog.String("subject", subject))
	}
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// SampleSubject is <prefix>.session.<id>.sample.
func SampleSubject(prefix, sessionID string) string {
	return subjectToken(prefix) + ".session." + subjectToken(sessionID) + ".sample"
}

// StatusSubject is <prefix>.status.<component>.
func StatusSubject(prefix, component string) string {
	return subjectToken(prefix) + ".status." + subjectToken(component)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
