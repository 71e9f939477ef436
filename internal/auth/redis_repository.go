// AngelaMos | 2026
// redis_repository.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

const (
	scriptOK       int64 = 1
	scriptConflict int64 = 2
	scriptMissing  int64 = 3
	scriptConsumed int64 = 4
)

// Record fields follow the column names of the postgres table.
// KEYS: record, family set, user index.
// ARGV: id, user_id, token_hash, family_id, expires_at, created_at,
// revoked, revoked_at, revoked_reason, replaced_by_id, expiry score.
const saveTokenScript = `
local current = redis.call("HGET", KEYS[1], "id")
if current and current ~= ARGV[1] then
  return 2
end

local revoked = ARGV[7]
local revoked_at = ARGV[8]
local reason = ARGV[9]
local replaced_by = ARGV[10]

if current then
  if redis.call("HGET", KEYS[1], "revoked") == "1" then
    revoked = "1"
    revoked_at = redis.call("HGET", KEYS[1], "revoked_at")
    reason = redis.call("HGET", KEYS[1], "revoked_reason")
  end
  local prev = redis.call("HGET", KEYS[1], "replaced_by_id")
  if prev and prev ~= "" then
    replaced_by = prev
  end
end

redis.call("HSET", KEYS[1],
  "id", ARGV[1],
  "user_id", ARGV[2],
  "token_hash", ARGV[3],
  "family_id", ARGV[4],
  "expires_at", ARGV[5],
  "created_at", ARGV[6],
  "revoked", revoked,
  "revoked_at", revoked_at,
  "revoked_reason", reason,
  "replaced_by_id", replaced_by)
redis.call("SADD", KEYS[2], ARGV[3])
redis.call("ZADD", KEYS[3], ARGV[11], ARGV[3])
return 1
`

// KEYS: current record, successor record, family set, user index.
// ARGV: current id, revoked_at, successor fields as in saveTokenScript.
const rotateTokenScript = `
local current = redis.call("HGET", KEYS[1], "id")
if not current or current ~= ARGV[1] then
  return 3
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 4
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 2
end

redis.call("HSET", KEYS[1],
  "revoked", "1",
  "revoked_at", ARGV[2],
  "revoked_reason", "rotated",
  "replaced_by_id", ARGV[3])
redis.call("HSET", KEYS[2],
  "id", ARGV[3],
  "user_id", ARGV[4],
  "token_hash", ARGV[5],
  "family_id", ARGV[6],
  "expires_at", ARGV[7],
  "created_at", ARGV[8],
  "revoked", "0",
  "revoked_at", "",
  "revoked_reason", "",
  "replaced_by_id", "")
redis.call("SADD", KEYS[3], ARGV[5])
redis.call("ZADD", KEYS[4], ARGV[9], ARGV[5])
return 1
`

// KEYS: user index. ARGV: key prefix, cutoff score.
const deleteExpiredScript = `
local hashes = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2])
local deleted = 0
for _, h in ipairs(hashes) do
  local key = ARGV[1] .. ":rt:" .. h
  local family = redis.call("HGET", key, "family_id")
  local user = redis.call("HGET", key, "user_id")
  if family and user then
    redis.call("SREM", ARGV[1] .. ":family:" .. user .. ":" .. family, h)
  end
  deleted = deleted + redis.call("DEL", key)
  redis.call("ZREM", KEYS[1], h)
end
return deleted
`

// KEYS: family set. ARGV: key prefix, revoked_at, reason.
// Runs as one script, so a concurrent rotateTokenScript lands either
// before (its successor is in the set) or after (it sees revoked = 1).
const revokeFamilyScript = `
local hashes = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, h in ipairs(hashes) do
  local key = ARGV[1] .. ":rt:" .. h
  if redis.call("EXISTS", key) == 1 and redis.call("HGET", key, "revoked") ~= "1" then
    redis.call("HSET", key,
      "revoked", "1",
      "revoked_at", ARGV[2],
      "revoked_reason", ARGV[3])
    revoked = revoked + 1
  end
end
return revoked
`

var (
	saveTokenLua     = redis.NewScript(saveTokenScript)
	rotateTokenLua   = redis.NewScript(rotateTokenScript)
	revokeFamilyLua  = redis.NewScript(revokeFamilyScript)
	deleteExpiredLua = redis.NewScript(deleteExpiredScript)
)

type redisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository keeps each record in a hash keyed by its token hash,
// with a set per (user, family) and a per-user index scored by expiry.
// The revoke and prune scripts derive record keys from those indexes, so
// the store needs a single-node client rather than a cluster one.
func NewRedisRepository(client *redis.Client, prefix string) Repository {
	if prefix == "" {
		prefix = "auth"
	}
	return &redisRepository{client: client, prefix: prefix}
}

func (r *redisRepository) tokenKey(tokenHash string) string {
	return r.prefix + ":rt:" + tokenHash
}

func (r *redisRepository) familyKey(userID, familyID string) string {
	return r.prefix + ":family:" + userID + ":" + familyID
}

func (r *redisRepository) userKey(userID string) string {
	return r.prefix + ":user:" + userID
}

func (r *redisRepository) Save(ctx context.Context, token *RefreshToken) error {
	code, err := saveTokenLua.Run(
		ctx,
		r.client,
		[]string{
			r.tokenKey(token.TokenHash),
			r.familyKey(token.UserID, token.FamilyID),
			r.userKey(token.UserID),
		},
		token.ID,
		token.UserID,
		token.TokenHash,
		token.FamilyID,
		formatTime(token.ExpiresAt),
		formatTime(token.CreatedAt),
		formatBool(token.Revoked),
		formatTimePtr(token.RevokedAt),
		token.RevokedReason,
		derefString(token.ReplacedByID),
		token.ExpiresAt.Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("save refresh token: %w: %w", core.ErrStoreUnavailable, err)
	}

	if code == scriptConflict {
		return fmt.Errorf("save refresh token: %w", core.ErrConflict)
	}

	return nil
}

func (r *redisRepository) FindByHash(
	ctx context.Context,
	tokenHash string,
) (*RefreshToken, error) {
	fields, err := r.client.HGetAll(ctx, r.tokenKey(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w: %w", core.ErrStoreUnavailable, err)
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("find refresh token: %w", core.ErrNotFound)
	}

	token, err := decodeToken(fields)
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w: %w", core.ErrStoreUnavailable, err)
	}

	return token, nil
}

func (r *redisRepository) FindAllByUserAndFamily(
	ctx context.Context,
	userID, familyID string,
) ([]RefreshToken, error) {
	hashes, err := r.client.SMembers(ctx, r.familyKey(userID, familyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("find token family: %w: %w", core.ErrStoreUnavailable, err)
	}

	if len(hashes) == 0 {
		return []RefreshToken{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(hashes))
	for _, h := range hashes {
		cmds = append(cmds, pipe.HGetAll(ctx, r.tokenKey(h)))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("find token family: %w: %w", core.ErrStoreUnavailable, err)
	}

	tokens := make([]RefreshToken, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}

		token, decErr := decodeToken(fields)
		if decErr != nil {
			return nil, fmt.Errorf("find token family: %w: %w", core.ErrStoreUnavailable, decErr)
		}
		tokens = append(tokens, *token)
	}

	sortByCreatedAt(tokens)
	return tokens, nil
}

func (r *redisRepository) Rotate(
	ctx context.Context,
	current, successor *RefreshToken,
) error {
	code, err := rotateTokenLua.Run(
		ctx,
		r.client,
		[]string{
			r.tokenKey(current.TokenHash),
			r.tokenKey(successor.TokenHash),
			r.familyKey(successor.UserID, successor.FamilyID),
			r.userKey(successor.UserID),
		},
		current.ID,
		formatTimePtr(current.RevokedAt),
		successor.ID,
		successor.UserID,
		successor.TokenHash,
		successor.FamilyID,
		formatTime(successor.ExpiresAt),
		formatTime(successor.CreatedAt),
		successor.ExpiresAt.Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w: %w", core.ErrStoreUnavailable, err)
	}

	switch code {
	case scriptOK:
		return nil
	case scriptConflict:
		return fmt.Errorf("rotate refresh token: %w", core.ErrConflict)
	case scriptMissing:
		return fmt.Errorf("rotate refresh token: %w", core.ErrNotFound)
	case scriptConsumed:
		return fmt.Errorf("rotate refresh token: %w", ErrTokenConsumed)
	default:
		return fmt.Errorf(
			"rotate refresh token: %w: unknown script status %d",
			core.ErrStoreUnavailable,
			code,
		)
	}
}

func (r *redisRepository) RevokeFamily(
	ctx context.Context,
	userID, familyID, reason string,
	at time.Time,
) (int, error) {
	revoked, err := revokeFamilyLua.Run(
		ctx,
		r.client,
		[]string{r.familyKey(userID, familyID)},
		r.prefix,
		formatTime(at),
		reason,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("revoke token family: %w: %w", core.ErrStoreUnavailable, err)
	}

	return revoked, nil
}

func (r *redisRepository) DeleteExpiredBefore(
	ctx context.Context,
	userID string,
	cutoff time.Time,
) (int64, error) {
	deleted, err := deleteExpiredLua.Run(
		ctx,
		r.client,
		[]string{r.userKey(userID)},
		r.prefix,
		cutoff.Unix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w: %w", core.ErrStoreUnavailable, err)
	}

	return deleted, nil
}

func decodeToken(fields map[string]string) (*RefreshToken, error) {
	expiresAt, err := parseTime(fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}

	createdAt, err := parseTime(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}

	token := &RefreshToken{
		ID:            fields["id"],
		UserID:        fields["user_id"],
		TokenHash:     fields["token_hash"],
		FamilyID:      fields["family_id"],
		ExpiresAt:     expiresAt,
		CreatedAt:     createdAt,
		Revoked:       fields["revoked"] == "1",
		RevokedReason: fields["revoked_reason"],
	}

	if raw := fields["revoked_at"]; raw != "" {
		revokedAt, parseErr := parseTime(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("decode revoked_at: %w", parseErr)
		}
		token.RevokedAt = &revokedAt
	}

	if replacedBy := fields["replaced_by_id"]; replacedBy != "" {
		token.ReplacedByID = &replacedBy
	}

	return token, nil
}

func sortByCreatedAt(tokens []RefreshToken) {
	slices.SortFunc(tokens, func(a, b RefreshToken) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
