package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/bookscope/bookscope/pkg/types"
)

// Publisher fans merged canonical books out to NATS so downstream
// consumers (dashboards, recorders) can subscribe instead of polling the
// coordinator. Subjects follow marketdata.<venue>.book.<symbol>.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to the given NATS URL.
func NewPublisher(url string) (*Publisher, error) {
	logger := logrus.WithField("component", "nats-publisher")

	opts := []nats.Option{
		nats.Name("bookscope"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Errorf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Publisher{conn: conn, logger: logger}, nil
}

// PublishBook publishes one venue's current canonical book. Publish
// failures are logged, never propagated: market data fan-out must not
// disturb ingestion.
func (p *Publisher) PublishBook(venue types.VenueType, ob *types.OrderBookData) {
	subject := fmt.Sprintf("marketdata.%s.book.%s", venue, ob.Symbol)

	data, err := json.Marshal(ob)
	if err != nil {
		p.logger.Errorf("failed to marshal book: %v", err)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Errorf("failed to publish book: %v", err)
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
