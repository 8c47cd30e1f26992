package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/models"
)

// MessageHandler processes one message. A nil error acks it; an error naks
// it for redelivery.
type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *zap.Logger

	mu    sync.Mutex
	pools []*workerPool
}

func NewConsumer(natsURL string, log *zap.Logger) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js, log: log.Named("nats")}, nil
}

// ConsumeTasks starts workerCount goroutines processing ingest tasks from
// the IMAGES stream. It returns once the consumer is set up. Cancelling ctx
// stops fetching; handlers already running keep their context until Drain
// gives up on them.
func (c *Consumer) ConsumeTasks(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, ImagesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ImagesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    5,
		BackOff:       []time.Duration{5 * time.Second, 30 * time.Second, time.Minute},
		FilterSubject: ImagesSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}
			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("fetch tasks", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	pool := c.startWorkers(ctx, msgCh, handler, workerCount)
	c.mu.Lock()
	c.pools = append(c.pools, pool)
	c.mu.Unlock()

	c.log.Info("task consumer started", zap.String("consumer", consumerName), zap.Int("workers", workerCount))
	return nil
}

// ConsumeVisits delivers new visit records, for the API's live feed.
func (c *Consumer) ConsumeVisits(ctx context.Context, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, VisitsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", VisitsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: VisitsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for ctx.Err() == nil {
			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}
			for msg := range batch.Messages() {
				c.dispatch(ctx, msg, handler)
			}
		}
	}()

	c.log.Info("visit consumer started", zap.String("consumer", consumerName))
	return nil
}

type workerPool struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func (c *Consumer) startWorkers(ctx context.Context, msgs <-chan jetstream.Msg, handler MessageHandler, n int) *workerPool {
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &workerPool{cancel: cancel}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for msg := range msgs {
				c.dispatch(workCtx, msg, handler, zap.Int("worker", workerID))
			}
		}(i)
	}
	return p
}

// drain waits for the workers to finish. After timeout the handlers'
// context is cancelled and drain waits for them to return. It reports
// whether the workers finished on their own.
func (p *workerPool) drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	defer p.cancel()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		p.cancel()
		<-done
		return false
	}
}

// Drain waits for task workers after their ConsumeTasks context is done.
// Handlers still running after timeout are cancelled so their messages are
// nak'd. It reports whether every worker finished within timeout.
func (c *Consumer) Drain(timeout time.Duration) bool {
	c.mu.Lock()
	pools := c.pools
	c.pools = nil
	c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	clean := true
	for _, p := range pools {
		if !p.drain(time.Until(deadline)) {
			clean = false
		}
	}
	return clean
}

func (c *Consumer) dispatch(ctx context.Context, msg jetstream.Msg, handler MessageHandler, fields ...zap.Field) {
	if err := handler(ctx, msg); err != nil {
		c.log.Error("handle message", append(fields, zap.String("subject", msg.Subject()), zap.Error(err))...)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// SubscribeControl invokes handle for every camera command. Malformed
// commands are logged and dropped.
func (c *Consumer) SubscribeControl(handle func(models.CameraCommand)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(ControlSubject, func(msg *nats.Msg) {
		cmd, err := DecodeCommand(msg.Data)
		if err != nil {
			c.log.Error("parse camera command", zap.Error(err))
			return
		}
		handle(cmd)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ControlSubject, err)
	}
	return sub, nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}

func DecodeTask(data []byte) (models.IngestTask, error) {
	var t models.IngestTask
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decode ingest task: %w", err)
	}
	if t.ObjectKey == "" {
		return t, fmt.Errorf("decode ingest task: missing object key")
	}
	return t, nil
}

func DecodeVisit(data []byte) (models.VisitRecord, error) {
	var v models.VisitRecord
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode visit: %w", err)
	}
	return v, nil
}

func DecodeCommand(data []byte) (models.CameraCommand, error) {
	var cmd models.CameraCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("decode camera command: %w", err)
	}
	switch cmd.Action {
	case "start", "stop":
	default:
		return cmd, fmt.Errorf("decode camera command: unknown action %q", cmd.Action)
	}
	return cmd, nil
}
