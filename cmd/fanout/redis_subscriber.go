package main

import (
	"context"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisSubscriber listens to vault event channels and forwards every
// payload to the hub. Settlement workers publish claim and vote events
// to vault:events:holder:{holder_id}; the API publishes governance
// outcomes to vault:events:vault:{vault_id}.
type RedisSubscriber struct {
	redis *redis.Client
	hub   *Hub
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *redis.Client, hub *Hub) *RedisSubscriber {
	return &RedisSubscriber{
		redis: redisClient,
		hub:   hub,
	}
}

// Start begins listening to Redis PubSub channels
func (s *RedisSubscriber) Start(ctx context.Context) {
	pubsub := s.redis.PSubscribe(ctx, "vault:events:*")
	defer pubsub.Close()

	log.Println("Redis subscriber started, listening to: vault:events:*")

	// Wait for confirmation that subscription was successful
	_, err := pubsub.Receive(ctx)
	if err != nil {
		log.Fatalf("Failed to subscribe to Redis: %v", err)
	}

	log.Println("Redis subscription confirmed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Println("Redis subscriber stopping")
			return

		case msg := <-ch:
			if msg == nil {
				continue
			}

			topic, ok := topicFromChannel(msg.Channel)
			if !ok {
				log.Printf("Invalid channel format: %s", msg.Channel)
				continue
			}

			log.Printf("Received event for kind=%s id=%s size=%d bytes", topic.Kind, topic.ID, len(msg.Payload))

			s.hub.broadcast <- &Message{
				Topic: topic,
				Data:  []byte(msg.Payload),
			}
		}
	}
}

// topicFromChannel parses a channel name into its typed topic.
// Example: "vault:events:holder:holder-42" subscribes holder-42.
func topicFromChannel(channel string) (Topic, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "vault" || parts[1] != "events" {
		return Topic{}, false
	}

	topic := Topic{Kind: TopicKind(parts[2]), ID: parts[3]}
	if !topic.Kind.Valid() || topic.ID == "" {
		return Topic{}, false
	}

	return topic, true
}
