package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/models"
)

const (
	ImagesStreamName  = "IMAGES"
	ImagesSubjectBase = "images"
	VisitsStreamName  = "VISITS"
	VisitsSubjectBase = "visits"

	// ControlSubject carries camera start/stop commands on core NATS.
	ControlSubject = "camera.control"
)

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func subject(base string, cameraID int) string {
	return fmt.Sprintf("%s.%d", base, cameraID)
}

type Producer struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *zap.Logger
}

func NewProducer(natsURL string, log *zap.Logger) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js, log: log.Named("nats")}, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        ImagesStreamName,
			Subjects:    []string{ImagesSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  2 * time.Minute,
			Description: "Ingest tasks for pipeline workers",
		},
		{
			Name:        VisitsStreamName,
			Subjects:    []string{VisitsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Persisted visit records",
		},
	}
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to ride out NATS startup.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streamConfigs() {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				p.log.Warn("ensure stream, retrying",
					zap.String("name", cfg.Name), zap.Int("attempt", attempt), zap.Error(err))
				break
			}
			p.log.Info("ensured stream", zap.String("name", cfg.Name))
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

// PublishTask enqueues an ingest task. The task id doubles as the
// JetStream message id so a retried publish is de-duplicated.
func (p *Producer) PublishTask(ctx context.Context, task models.IngestTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal ingest task: %w", err)
	}
	_, err = p.js.Publish(ctx, subject(ImagesSubjectBase, task.CameraID), payload,
		jetstream.WithMsgID(task.TaskID.String()))
	if err != nil {
		return fmt.Errorf("publish ingest task: %w", err)
	}
	return nil
}

// PublishVisit announces a persisted visit record.
func (p *Producer) PublishVisit(ctx context.Context, v models.VisitRecord) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal visit: %w", err)
	}
	_, err = p.js.Publish(ctx, subject(VisitsSubjectBase, v.CameraID), payload,
		jetstream.WithMsgID(fmt.Sprintf("%s/%d", v.TaskID, v.FaceIndex)))
	if err != nil {
		return fmt.Errorf("publish visit: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the IMAGES stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, ImagesStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

// PublishControl sends a camera command over core NATS (not JetStream).
func (p *Producer) PublishControl(cmd models.CameraCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal camera command: %w", err)
	}
	return p.nc.Publish(ControlSubject, data)
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
