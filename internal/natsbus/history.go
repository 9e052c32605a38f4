package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// RunHistoryStream keeps run lifecycle events so a finished run's events
// can be replayed after the in-memory tracker dropped it.
const RunHistoryStream = "RUN_EVENTS"

// EnsureRunHistory creates or updates the JetStream stream that captures
// every run event for maxAge.
func (c *Client) EnsureRunHistory(ctx context.Context, maxAge time.Duration) error {
	js, err := jetstream.New(c.conn)
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     RunHistoryStream,
		Subjects: []string{TopicEventsRuns},
		MaxAge:   maxAge,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create run history stream: %w", err)
	}
	return nil
}

// RunHistory returns the stored events of one run in publish order. A run
// without stored events yields an empty slice.
func (c *Client) RunHistory(ctx context.Context, runID string) ([]json.RawMessage, error) {
	js, err := jetstream.New(c.conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	stream, err := js.Stream(ctx, RunHistoryStream)
	if err != nil {
		return nil, fmt.Errorf("run history stream: %w", err)
	}

	subject := TopicEventsRun(runID)
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		return nil, fmt.Errorf("run history info: %w", err)
	}
	count := int(info.State.Subjects[subject])
	if count == 0 {
		return []json.RawMessage{}, nil
	}

	cons, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("run history consumer: %w", err)
	}
	batch, err := cons.Fetch(count, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch run history: %w", err)
	}

	events := make([]json.RawMessage, 0, count)
	for msg := range batch.Messages() {
		events = append(events, json.RawMessage(msg.Data()))
	}
	if err := batch.Error(); err != nil {
		return events, fmt.Errorf("fetch run history: %w", err)
	}
	return events, nil
}
