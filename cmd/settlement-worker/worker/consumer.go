package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sonicvault/vaultd/common/settlement"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ClaimConsumer consumes reserved claim IDs from the submission stream
// and hands each one to the settlement coordinator.
type ClaimConsumer struct {
	redis         *redis.Client
	coordinator   *settlement.Coordinator
	logger        Logger
	stream        string
	consumerGroup string
	consumerName  string
}

// NewClaimConsumer creates a new claim consumer
func NewClaimConsumer(redisClient *redis.Client, coordinator *settlement.Coordinator, logger Logger) *ClaimConsumer {
	return &ClaimConsumer{
		redis:         redisClient,
		coordinator:   coordinator,
		logger:        logger,
		stream:        "claim.submissions",
		consumerGroup: "settlers",
		consumerName:  fmt.Sprintf("settler_%d", time.Now().Unix()),
	}
}

// Start begins consuming claim submissions
func (c *ClaimConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting claim consumer",
		"stream", c.stream,
		"consumer_group", c.consumerGroup,
		"consumer_name", c.consumerName)

	err := c.redis.XGroupCreateMkStream(ctx, c.stream, c.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("claim consumer stopping")
			return nil
		default:
			if err := c.processNextMessage(ctx); err != nil {
				c.logger.Error("failed to process message", "error", err)
				time.Sleep(1 * time.Second) // Back off on error
			}
		}
	}
}

// processNextMessage reads and processes one message from the stream
func (c *ClaimConsumer) processNextMessage(ctx context.Context) error {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    5 * time.Second,
	}).Result()

	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("XREADGROUP error: %w", err)
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := c.handleMessage(ctx, message); err != nil {
				// The reconciler retries stale claims, so a failed
				// message is acked rather than redelivered forever.
				c.logger.Error("failed to handle message", "message_id", message.ID, "error", err)
			}

			if err := c.redis.XAck(ctx, c.stream, c.consumerGroup, message.ID).Err(); err != nil {
				c.logger.Error("failed to ACK message", "message_id", message.ID, "error", err)
			}
		}
	}

	return nil
}

// handleMessage settles a single claim
func (c *ClaimConsumer) handleMessage(ctx context.Context, message redis.XMessage) error {
	rawID, ok := message.Values["claim_id"].(string)
	if !ok {
		return fmt.Errorf("message missing claim_id field")
	}

	claimID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid claim_id: %w", err)
	}

	c.logger.Info("settling claim", "claim_id", claimID)

	if err := c.coordinator.Process(ctx, claimID); err != nil {
		return fmt.Errorf("failed to settle claim %s: %w", claimID, err)
	}

	return nil
}
