package relay

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// KafkaPublisher writes records to their own topics, keyed by order id so
// events of one order stay in one partition.
type KafkaPublisher struct {
	w messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaWriter returns a writer for the comma separated broker list. The
// topic is taken from each message.
func NewKafkaWriter(brokersCSV string) (*kafka.Writer, error) {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaPublisher wraps w.
func NewKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

// Publish writes one batch per topic concurrently. Order within a topic is
// preserved.
func (p *KafkaPublisher) Publish(ctx context.Context, records []Record) error {
	byTopic := make(map[string][]kafka.Message)
	for _, rec := range records {
		byTopic[rec.Topic] = append(byTopic[rec.Topic], kafka.Message{
			Topic: rec.Topic,
			Key:   []byte(rec.Key),
			Value: rec.Payload,
			Time:  rec.CreatedAt,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(rec.EventID)},
			},
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	for topic, msgs := range byTopic {
		g.Go(func() error {
			if err := p.w.WriteMessages(ctx, msgs...); err != nil {
				return errors.Wrapf(err, "write %d messages to %s", len(msgs), topic)
			}
			return nil
		})
	}
	return g.Wait()
}
