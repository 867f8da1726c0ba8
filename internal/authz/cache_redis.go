package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "authz"

// DecisionKey composes the distributed cache key for one check.
func DecisionKey(actorID, entityID int64, resource string, action Action) string {
	return fmt.Sprintf("%s:dec:%d:%d:%s:%s", keyPrefix, actorID, entityID, resource, action)
}

func grantSetKey(actorID int64) string {
	return fmt.Sprintf("%s:asg:%d", keyPrefix, actorID)
}

func actorIndexKey(actorID int64) string {
	return fmt.Sprintf("%s:idx:actor:%d", keyPrefix, actorID)
}

func roleIndexKey(roleID int64) string {
	return fmt.Sprintf("%s:idx:role:%d", keyPrefix, roleID)
}

func resourceIndexKey(resource string) string {
	return fmt.Sprintf("%s:idx:res:%s", keyPrefix, resource)
}

// Distributed is the shared cache tier. Alongside the payload keys it
// maintains index sets so invalidation can target exactly the keys a
// mutation affects: per-actor keys, role holders, and per-resource decision
// keys.
type Distributed struct {
	client      *redis.Client
	decisionTTL time.Duration
	grantSetTTL time.Duration
}

// NewDistributed constructs the distributed tier.
func NewDistributed(client *redis.Client, decisionTTL, grantSetTTL time.Duration) *Distributed {
	if decisionTTL <= 0 {
		decisionTTL = 5 * time.Minute
	}
	if grantSetTTL <= 0 {
		grantSetTTL = 30 * time.Minute
	}
	return &Distributed{client: client, decisionTTL: decisionTTL, grantSetTTL: grantSetTTL}
}

// GetDecision looks up a cached decision.
func (d *Distributed) GetDecision(ctx context.Context, key string) (DecisionEntry, bool, error) {
	payload, err := d.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return DecisionEntry{}, false, nil
	}
	if err != nil {
		return DecisionEntry{}, false, err
	}
	var entry DecisionEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return DecisionEntry{}, false, err
	}
	return entry, true, nil
}

// SetDecision stores a decision and updates the invalidation indexes.
func (d *Distributed) SetDecision(ctx context.Context, key string, entry DecisionEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// Index TTLs outlive the payload so a slightly stale index only ever
	// deletes keys that are already gone, which is a no-op.
	indexTTL := d.grantSetTTL + time.Minute
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, key, payload, d.decisionTTL)
	pipe.SAdd(ctx, actorIndexKey(entry.ActorID), key)
	pipe.Expire(ctx, actorIndexKey(entry.ActorID), indexTTL)
	pipe.SAdd(ctx, resourceIndexKey(entry.Resource), key)
	pipe.Expire(ctx, resourceIndexKey(entry.Resource), indexTTL)
	for _, roleID := range entry.RoleIDs {
		pipe.SAdd(ctx, roleIndexKey(roleID), entry.ActorID)
		pipe.Expire(ctx, roleIndexKey(roleID), indexTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetGrantSet looks up the cached assignment set for an actor.
func (d *Distributed) GetGrantSet(ctx context.Context, actorID int64) ([]AssignmentGrant, bool, error) {
	payload, err := d.client.Get(ctx, grantSetKey(actorID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var set []AssignmentGrant
	if err := json.Unmarshal(payload, &set); err != nil {
		return nil, false, err
	}
	return set, true, nil
}

// SetGrantSet stores the assignment set for an actor and indexes the roles
// it references.
func (d *Distributed) SetGrantSet(ctx context.Context, actorID int64, set []AssignmentGrant) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return err
	}
	key := grantSetKey(actorID)
	indexTTL := d.grantSetTTL + time.Minute
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, key, payload, d.grantSetTTL)
	pipe.SAdd(ctx, actorIndexKey(actorID), key)
	pipe.Expire(ctx, actorIndexKey(actorID), indexTTL)
	for _, g := range set {
		pipe.SAdd(ctx, roleIndexKey(g.RoleID), actorID)
		pipe.Expire(ctx, roleIndexKey(g.RoleID), indexTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// DropActor deletes every key indexed for the actor. Deleting keys that no
// longer exist is a no-op, so at-least-once delivery is safe.
func (d *Distributed) DropActor(ctx context.Context, actorID int64) error {
	index := actorIndexKey(actorID)
	keys, err := d.client.SMembers(ctx, index).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	keys = append(keys, grantSetKey(actorID), index)
	return d.client.Del(ctx, keys...).Err()
}

// RoleHolders returns the actor IDs indexed as holding the role.
func (d *Distributed) RoleHolders(ctx context.Context, roleID int64) ([]int64, error) {
	members, err := d.client.SMembers(ctx, roleIndexKey(roleID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	holders := make([]int64, 0, len(members))
	for _, m := range members {
		var id int64
		if _, err := fmt.Sscanf(m, "%d", &id); err == nil {
			holders = append(holders, id)
		}
	}
	return holders, nil
}

// DropRole deletes cached state for every holder of the role.
func (d *Distributed) DropRole(ctx context.Context, roleID int64) error {
	holders, err := d.RoleHolders(ctx, roleID)
	if err != nil {
		return err
	}
	for _, actorID := range holders {
		if err := d.DropActor(ctx, actorID); err != nil {
			return err
		}
	}
	return d.client.Del(ctx, roleIndexKey(roleID)).Err()
}

// DropResource deletes every decision key indexed for the resource.
func (d *Distributed) DropResource(ctx context.Context, resource string) error {
	index := resourceIndexKey(resource)
	keys, err := d.client.SMembers(ctx, index).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	keys = append(keys, index)
	return d.client.Del(ctx, keys...).Err()
}
