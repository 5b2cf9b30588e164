package redis

import backend "github.com/redis/go-redis/v9"

// Script results shared by the mutating scripts.
const (
	resultNotFound = -1
	resultStale    = -2
)

// Every mutating script keeps the record hash, the expiry index and the owner
// sets consistent in one atomic step. Owner set keys are derived from the
// prefix passed in ARGV, so all keys must hash to one slot on Redis Cluster
// (the default prefix carries a hash tag).
//
// Hash fields: data (JSON record), version, node, accessed (unix ms), ttl (ms).

// KEYS: rec, expiry, owners
// ARGV: id, data, version, node, accessed, ttl, expiryScore ("" = never), ownerPrefix
var createScript = backend.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "version", ARGV[3], "node", ARGV[4], "accessed", ARGV[5], "ttl", ARGV[6])
if ARGV[7] ~= "" then
	redis.call("ZADD", KEYS[2], ARGV[7], ARGV[1])
end
redis.call("SADD", ARGV[8] .. ARGV[4], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[4])
return 1
`)

// KEYS: rec, expiry, owners
// ARGV: id, expectedVersion, data, node, accessed, ttl, expiryScore, ownerPrefix
var saveScript = backend.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if not cur then
	return -1
end
if cur ~= ARGV[2] then
	return -2
end
local old = redis.call("HGET", KEYS[1], "node")
local nextVersion = tonumber(cur) + 1
redis.call("HSET", KEYS[1], "data", ARGV[3], "version", tostring(nextVersion), "node", ARGV[4], "accessed", ARGV[5], "ttl", ARGV[6])
if ARGV[7] ~= "" then
	redis.call("ZADD", KEYS[2], ARGV[7], ARGV[1])
else
	redis.call("ZREM", KEYS[2], ARGV[1])
end
if old ~= ARGV[4] then
	redis.call("SREM", ARGV[8] .. old, ARGV[1])
	if redis.call("SCARD", ARGV[8] .. old) == 0 then
		redis.call("SREM", KEYS[3], old)
	end
	redis.call("SADD", ARGV[8] .. ARGV[4], ARGV[1])
	redis.call("SADD", KEYS[3], ARGV[4])
end
return nextVersion
`)

// KEYS: rec, expiry, owners
// ARGV: id, expectedVersion, ownerPrefix
var deleteScript = backend.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if not cur then
	return -1
end
if cur ~= ARGV[2] then
	return -2
end
local node = redis.call("HGET", KEYS[1], "node")
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("SREM", ARGV[3] .. node, ARGV[1])
if redis.call("SCARD", ARGV[3] .. node) == 0 then
	redis.call("SREM", KEYS[3], node)
end
return 1
`)
