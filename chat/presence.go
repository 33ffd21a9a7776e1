package chat

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Presence tracks which accounts are attached to a channel anywhere in the
// deployment, as a Redis set per channel. Best-effort: it is advisory state,
// never consulted for delivery decisions.
type Presence struct {
	rdb *redis.Client
}

func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{rdb: rdb}
}

func (p *Presence) Join(ctx context.Context, key ChannelKey, accountID int64) error {
	return p.rdb.SAdd(ctx, key.PresenceKey(), accountID).Err()
}

func (p *Presence) Leave(ctx context.Context, key ChannelKey, accountID int64) error {
	return p.rdb.SRem(ctx, key.PresenceKey(), accountID).Err()
}

// Occupants returns the account ids currently present on the channel across
// all processes.
func (p *Presence) Occupants(ctx context.Context, key ChannelKey) ([]int64, error) {
	ids, err := p.rdb.SMembers(ctx, key.PresenceKey()).Result()
	if err != nil {
		return nil, err
	}
	accounts := make([]int64, 0, len(ids))
	for _, id := range ids {
		accountID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		accounts = append(accounts, accountID)
	}
	return accounts, nil
}
