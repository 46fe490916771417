package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/leadflow/pkg/channels/gochannel"
	"github.com/dukex/leadflow/pkg/channels/kafka"
	"github.com/dukex/leadflow/pkg/eventbus"
)

var ErrUnsupportedEventBus = errors.New("unsupported event bus provider")

// Transport is the watermill publisher/subscriber pair shared by the event bus, the client-message
// node and the topic trigger.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// NewTransport opens "gochannel" (in process, the default) or "kafka" using the comma separated brokers.
func NewTransport(logger *slog.Logger, provider, brokers string) (*Transport, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(adapter)
		if err != nil {
			return nil, err
		}

		return &Transport{Publisher: pub, Subscriber: sub}, nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(adapter, kafka.ParseBrokers(brokers), "leadflow")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return &Transport{Publisher: pub, Subscriber: sub}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventBus, provider)
	}
}

func (t *Transport) EventBus(logger *slog.Logger) *eventbus.WatermillEventBus {
	return eventbus.NewWatermillEventBus(logger, t.Publisher, t.Subscriber)
}

func (t *Transport) Close() error {
	return errors.Join(t.Publisher.Close(), t.Subscriber.Close())
}
