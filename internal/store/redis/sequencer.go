package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "queue:ticketseq"
	defaultTTL = 48 * time.Hour
)

// Sequencer keeps one INCR counter per clinic and local day. Keys expire
// after the day is over so the keyspace stays bounded.
type Sequencer struct {
	client goredis.Cmdable
	ttl    time.Duration
}

func NewSequencer(client goredis.Cmdable, ttl time.Duration) *Sequencer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Sequencer{client: client, ttl: ttl}
}

// NewClient parses a redis:// or rediss:// URL and checks the connection.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func SequenceKey(clinicID, day string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, clinicID, day)
}

func (s *Sequencer) NextTicketSequence(ctx context.Context, clinicID, day string) (int64, error) {
	key := SequenceKey(clinicID, day)
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
