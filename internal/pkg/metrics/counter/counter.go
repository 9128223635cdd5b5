package counter

import (
	"context"
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const pipelineOutcomesKey = "voxrelay:counters:pipeline"

// Outcomes counts pipeline outcomes (delivered, dropped_<reason>,
// delivery_failed_<write>) in a Redis hash shared by all instances.
type Outcomes struct {
	client *redis.Client
	key    string
}

func NewOutcomes(client *redis.Client) *Outcomes {
	return &Outcomes{client: client, key: pipelineOutcomesKey}
}

// Add increments outcome by n. Counting never fails the caller.
func (o *Outcomes) Add(ctx context.Context, outcome string, n int64) {
	if err := o.client.HIncrBy(ctx, o.key, outcome, n).Err(); err != nil {
		log.Warnf("[Metrics] Could not count %s: %v", outcome, err)
	}
}

// Count is one named counter value.
type Count struct {
	Outcome string `json:"outcome"`
	Total   int64  `json:"total"`
}

// Snapshot returns all counters sorted by outcome name.
func (o *Outcomes) Snapshot(ctx context.Context) ([]Count, error) {
	data, err := o.client.HGetAll(ctx, o.key).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Count, 0, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out = append(out, Count{Outcome: k, Total: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Outcome < out[j].Outcome })
	return out, nil
}

// Reset drops all counters.
func (o *Outcomes) Reset(ctx context.Context) error {
	return o.client.Del(ctx, o.key).Err()
}
