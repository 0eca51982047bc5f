package registry

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/tgdrive/qdrop/pkg/models"
)

// Key layout, all under one hash tag so the scripts stay single-slot:
//
//	<prefix>share:<code>  msgpack share
//	<prefix>fp:<hash>     owning code
//	<prefix>created       zset code -> creation unix ms
//	<prefix>fpof          hash code -> fingerprint
//	<prefix>locof         hash code -> storage location
var insertScript = redis.NewScript(`
local shareKey, fpKey, created, fpof, locof = KEYS[1], KEYS[2], KEYS[3], KEYS[4], KEYS[5]
local code, payload, createdAt, liveAfter, fp, loc = ARGV[1], ARGV[2], tonumber(ARGV[3]), tonumber(ARGV[4]), ARGV[5], ARGV[6]
if redis.call('EXISTS', shareKey) == 1 then
  return {'taken'}
end
if fp ~= '' then
  local owner = redis.call('GET', fpKey)
  if owner then
    local ownerCreated = redis.call('ZSCORE', created, owner)
    if ownerCreated and tonumber(ownerCreated) > liveAfter then
      return {'duplicate', owner}
    end
  end
  redis.call('SET', fpKey, code)
  redis.call('HSET', fpof, code, fp)
end
redis.call('SET', shareKey, payload)
redis.call('ZADD', created, createdAt, code)
redis.call('HSET', locof, code, loc)
return {'ok'}
`)

var deleteScript = redis.NewScript(`
local shareKey, created, fpof, locof = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
local code, fpPrefix, loc = ARGV[1], ARGV[2], ARGV[3]
if loc ~= '' then
  local cur = redis.call('HGET', locof, code)
  if cur and cur ~= loc then
    return 0
  end
end
local fp = redis.call('HGET', fpof, code)
if fp then
  local fpKey = fpPrefix .. fp
  if redis.call('GET', fpKey) == code then
    redis.call('DEL', fpKey)
  end
  redis.call('HDEL', fpof, code)
end
redis.call('DEL', shareKey)
redis.call('ZREM', created, code)
redis.call('HDEL', locof, code)
return 1
`)

// Redis keeps shares in a shared redis so several instances can serve the
// same codes. Only metadata is stored; bytes stay in the blob store.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*Redis)(nil)

// DefaultRedisPrefix carries a hash tag so every key maps to one slot.
const DefaultRedisPrefix = "qdrop:{shares}:"

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: normalizePrefix(prefix)}
}

func (r *Redis) shareKey(code string) string { return r.prefix + "share:" + code }
func (r *Redis) fpKey(fp string) string      { return r.prefix + "fp:" + fp }
func (r *Redis) createdKey() string          { return r.prefix + "created" }
func (r *Redis) fpofKey() string             { return r.prefix + "fpof" }
func (r *Redis) locofKey() string            { return r.prefix + "locof" }

func (r *Redis) Get(ctx context.Context, code string) (*models.Share, error) {
	data, err := r.client.Get(ctx, r.shareKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "redis get")
	}
	return models.UnmarshalShare(data)
}

func (r *Redis) CodeFor(ctx context.Context, fingerprint string) (string, error) {
	code, err := r.client.Get(ctx, r.fpKey(fingerprint)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "redis get fingerprint")
	}
	return code, nil
}

func (r *Redis) Insert(ctx context.Context, s *models.Share, liveAfter time.Time) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	fpKey := r.fpKey("")
	if s.Fingerprint != "" {
		fpKey = r.fpKey(s.Fingerprint)
	}
	res, err := insertScript.Run(ctx, r.client,
		[]string{r.shareKey(s.Code), fpKey, r.createdKey(), r.fpofKey(), r.locofKey()},
		s.Code, data, s.CreatedAt.UnixMilli(), liveAfter.UnixMilli(), s.Fingerprint, s.StorageLocation,
	).StringSlice()
	if err != nil {
		return errors.Wrap(err, "redis insert")
	}
	switch {
	case len(res) == 0:
		return errors.New("redis insert: empty reply")
	case res[0] == "taken":
		return ErrCodeTaken
	case res[0] == "duplicate" && len(res) == 2:
		return &DuplicateError{Code: res[1]}
	case res[0] == "ok":
		return nil
	}
	return errors.Errorf("redis insert: unexpected reply %v", res)
}

func (r *Redis) Delete(ctx context.Context, code, location string) error {
	err := deleteScript.Run(ctx, r.client,
		[]string{r.shareKey(code), r.createdKey(), r.fpofKey(), r.locofKey()},
		code, r.fpKey(""), location,
	).Err()
	if err != nil {
		return errors.Wrap(err, "redis delete")
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]*models.Share, error) {
	codes, err := r.client.ZRange(ctx, r.createdKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis list")
	}
	if len(codes) == 0 {
		return nil, nil
	}
	keys := make([]string, len(codes))
	for i, c := range codes {
		keys[i] = r.shareKey(c)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}
	out := make([]*models.Share, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		s, err := models.UnmarshalShare([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
