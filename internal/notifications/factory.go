package notifications

import (
	"log"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/config"
)

func redeliveryFromConfig(cfg *config.Config) RedeliveryPolicy {
	return RedeliveryPolicy{MaxDeliveries: cfg.ConsumerMaxDeliveries}.withDefaults()
}

// NewBroker creates a MessageBroker based on the application configuration.
// If KAFKA_BROKERS is set, it returns a KafkaBroker; otherwise it falls back
// to an InMemoryBroker suitable for single-node deployments.
func NewBroker(cfg *config.Config) (MessageBroker, error) {
	if cfg.KafkaBrokers != "" {
		var brokers []string
		for _, b := range strings.Split(cfg.KafkaBrokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		log.Printf("notifications: using KafkaBroker with brokers=%v group=%s", brokers, cfg.KafkaConsumerGroup)
		return NewKafkaBroker(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
			Redelivery:    redeliveryFromConfig(cfg),
		})
	}

	log.Println("notifications: using InMemoryBroker (KAFKA_BROKERS not set)")
	return NewInMemoryBroker(redeliveryFromConfig(cfg)), nil
}

// NewStore returns a RedisStore when a client is given and a MemoryStore
// otherwise.
func NewStore(client redis.UniversalClient) Store {
	if client != nil {
		return NewRedisStore(client)
	}
	log.Println("notifications: using MemoryStore (REDIS_URL not set)")
	return NewMemoryStore()
}
