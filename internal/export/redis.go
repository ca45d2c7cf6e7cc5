package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/training"
)

// DefaultRedisPrefix namespaces published keys.
const DefaultRedisPrefix = "bktrace"

// Redis publishes mastery scores and parameters so client apps can read
// them without touching the run store. Keys:
//
//	<prefix>:mastery:<learner>  hash skill -> score
//	<prefix>:source:<learner>   hash skill -> source
//	<prefix>:params:<scope>     JSON model, scope is "skill" or "learner/skill"
//	<prefix>:run                hash with the run id and generation time
//	<prefix>:keys               set of every key the last run published
//
// Each export deletes keys listed in <prefix>:keys that the new run does not
// write, so departed learners and retired models do not linger.
type Redis struct {
	Client redis.Cmdable
	Prefix string
	// TTL expires published keys; zero keeps them until the next run
	// overwrites or removes them.
	TTL time.Duration
}

// NewRedis connects to a redis:// URL and pings it.
func NewRedis(ctx context.Context, url, prefix string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{Client: client, Prefix: prefix, TTL: ttl}, nil
}

// Close closes the client when it owns a connection pool.
func (r *Redis) Close() error {
	if c, ok := r.Client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Export(ctx context.Context, a *training.Artifacts) error {
	mastery := make(map[string]map[string]any)
	sources := make(map[string]map[string]any)
	for _, k := range a.MasteryKeys() {
		e := a.Mastery[k]
		if mastery[k.Learner] == nil {
			mastery[k.Learner] = make(map[string]any)
			sources[k.Learner] = make(map[string]any)
		}
		mastery[k.Learner][k.Skill] = strconv.FormatFloat(e.Mastery, 'f', -1, 64)
		sources[k.Learner][k.Skill] = string(e.Source)
	}

	ik := r.IndexKey()
	previous, err := r.Client.SMembers(ctx, ik).Result()
	if err != nil {
		return fmt.Errorf("read published keys: %w", err)
	}

	pipe := r.Client.TxPipeline()
	var keys []string

	for learner, fields := range mastery {
		mk, sk := r.MasteryKey(learner), r.SourceKey(learner)
		// Replace whole hashes so skills dropped from this run disappear.
		pipe.Del(ctx, mk, sk)
		pipe.HSet(ctx, mk, fields)
		pipe.HSet(ctx, sk, sources[learner])
		keys = append(keys, mk, sk)
	}

	for _, k := range a.ModelKeys() {
		m := a.Models[k]
		data, err := json.Marshal(ModelJSON{Params: m.Params, Attempts: m.Attempts})
		if err != nil {
			return fmt.Errorf("marshal params %s: %w", k, err)
		}
		pk := r.ParamsKey(k)
		pipe.Set(ctx, pk, data, r.TTL)
		keys = append(keys, pk)
	}

	rk := r.key("run")
	pipe.HSet(ctx, rk, map[string]any{
		"run_id":       a.RunID,
		"granularity":  string(a.Granularity),
		"generated_at": a.GeneratedAt.UTC().Format(time.RFC3339),
	})
	keys = append(keys, rk)

	if stale := staleKeys(previous, keys); len(stale) > 0 {
		pipe.Del(ctx, stale...)
	}
	pipe.Del(ctx, ik)
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	pipe.SAdd(ctx, ik, members...)

	if r.TTL > 0 {
		for _, k := range append(keys, ik) {
			pipe.Expire(ctx, k, r.TTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish run %s: %w", a.RunID, err)
	}
	return nil
}

// staleKeys returns the keys in previous that current no longer contains.
func staleKeys(previous, current []string) []string {
	keep := make(map[string]struct{}, len(current))
	for _, k := range current {
		keep[k] = struct{}{}
	}
	var stale []string
	for _, k := range previous {
		if _, ok := keep[k]; !ok {
			stale = append(stale, k)
		}
	}
	return stale
}

// IndexKey is the set of keys published by the last run.
func (r *Redis) IndexKey() string { return r.key("keys") }

// MasteryKey is the hash of a learner's scores.
func (r *Redis) MasteryKey(learner string) string { return r.key("mastery:" + learner) }

// SourceKey is the hash of a learner's score sources.
func (r *Redis) SourceKey(learner string) string { return r.key("source:" + learner) }

// ParamsKey is the JSON string of one model.
func (r *Redis) ParamsKey(k attempt.Key) string { return r.key("params:" + k.String()) }

func (r *Redis) key(suffix string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return prefix + ":" + suffix
}
