package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/internal/infrastructure/database"
)

// JobStreamProducer publishes queued ASR tasks to Redis Streams for the
// worker runtime to pick up, keyed per (provider, variant) so a worker pool
// can subscribe only to the providers it runs (§6 added job-dispatch loop).
type JobStreamProducer struct {
	redis  *database.RedisDB
	logger *logrus.Logger
}

// NewJobStreamProducer creates a new job-dispatch producer.
func NewJobStreamProducer(redis *database.RedisDB, logger *logrus.Logger) *JobStreamProducer {
	return &JobStreamProducer{redis: redis, logger: logger}
}

func jobStreamKey(provider, variant string) string {
	if provider == "" {
		provider = "unassigned"
	}
	if variant == "" {
		variant = "file"
	}
	return fmt.Sprintf("asr:jobs:%s:%s", provider, variant)
}

// PublishJob implements asrDomain.JobPublisher.PublishJob.
func (p *JobStreamProducer) PublishJob(ctx context.Context, job asrDomain.JobDescriptor) error {
	if job.TaskID.IsZero() {
		return fmt.Errorf("task ID is required")
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job descriptor: %w", err)
	}

	streamKey := jobStreamKey(job.Provider, job.Variant)

	result, err := p.redis.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"task_id":   job.TaskID.String(),
			"user_id":   job.UserID.String(),
			"provider":  job.Provider,
			"variant":   job.Variant,
			"data":      string(payload),
			"queued_at": job.QueuedAt.Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("add job to stream %s: %w", streamKey, err)
	}

	p.logger.WithFields(logrus.Fields{
		"stream_id":  result,
		"stream_key": streamKey,
		"task_id":    job.TaskID.String(),
	}).Debug("published asr job")

	return nil
}

// ConsumeJobs reads pending job descriptors for (provider, variant) using a
// consumer group, acking each message only after handler succeeds, so a
// worker crash leaves the message pending for redelivery.
func (p *JobStreamProducer) ConsumeJobs(ctx context.Context, provider, variant, group, consumer string, handler func(context.Context, asrDomain.JobDescriptor) error) error {
	streamKey := jobStreamKey(provider, variant)

	if err := p.redis.Client.XGroupCreateMkStream(ctx, streamKey, group, "0").Err(); err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("create consumer group for %s: %w", streamKey, err)
	}

	res, err := p.redis.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey, ">"},
		Count:    10,
		Block:    5 * time.Second,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("read job stream %s: %w", streamKey, err)
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, _ := msg.Values["data"].(string)
			var job asrDomain.JobDescriptor
			if err := json.Unmarshal([]byte(raw), &job); err != nil {
				p.logger.WithError(err).WithField("message_id", msg.ID).Warn("dropping malformed job message")
				p.redis.Client.XAck(ctx, streamKey, group, msg.ID)
				continue
			}

			if err := handler(ctx, job); err != nil {
				p.logger.WithError(err).WithField("task_id", job.TaskID.String()).Warn("job handler failed, leaving message pending")
				continue
			}

			p.redis.Client.XAck(ctx, streamKey, group, msg.ID)
		}
	}

	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
