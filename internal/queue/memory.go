package queue

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"example.com/webinar-sync/internal/logging"
)

const memoryTopic = "webinar-sync.jobs"

// memoryClient is an in-process queue on a watermill go channel, used when
// RabbitMQ is disabled. Every Consume call shares one subscription so each
// id reaches exactly one reader.
type memoryClient struct {
	pubsub *gochannel.GoChannel

	once   sync.Once
	out    chan string
	subErr error
	cancel context.CancelFunc
}

func NewMemoryClient(buffer int) Client {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(buffer),
		Persistent:          true,
	}, watermill.NopLogger{})
	return &memoryClient{pubsub: ps, out: make(chan string)}
}

func (m *memoryClient) Publish(ctx context.Context, id string) error {
	msg := message.NewMessage(watermill.NewUUID(), []byte(id))
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		msg.Metadata.Set("correlation_id", cid)
	}
	return m.pubsub.Publish(memoryTopic, msg)
}

func (m *memoryClient) Consume(ctx context.Context) (<-chan string, error) {
	m.once.Do(func() {
		subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.cancel = cancel
		msgs, err := m.pubsub.Subscribe(subCtx, memoryTopic)
		if err != nil {
			m.subErr = err
			cancel()
			return
		}
		go func() {
			defer close(m.out)
			for msg := range msgs {
				select {
				case m.out <- string(msg.Payload):
					msg.Ack()
				case <-subCtx.Done():
					msg.Nack()
					return
				}
			}
		}()
	})
	if m.subErr != nil {
		return nil, m.subErr
	}
	return m.out, nil
}

func (m *memoryClient) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return m.pubsub.Close()
}
