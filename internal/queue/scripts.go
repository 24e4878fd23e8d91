package queue

import "github.com/redis/go-redis/v9"

// All scripts receive times from the caller as millisecond strings and return
// strings or integers only.

// KEYS: id, wait, delayed
// ARGV: base, customId, name, data, timestamp, delay, maxAttempts, backoff,
// repeatKey, runAt
var addScript = redis.NewScript(`
local id = ARGV[2]
if id == "" then
  id = tostring(redis.call("INCR", KEYS[1]))
end
local jobKey = ARGV[1] .. ":job:" .. id
if redis.call("EXISTS", jobKey) == 1 then
  return {id, "0"}
end
redis.call("HSET", jobKey,
  "id", id,
  "name", ARGV[3],
  "data", ARGV[4],
  "state", "waiting",
  "attemptsMade", "0",
  "maxAttempts", ARGV[7],
  "backoff", ARGV[8],
  "timestamp", ARGV[5],
  "delay", ARGV[6],
  "repeatKey", ARGV[9],
  "stalledCount", "0")
if tonumber(ARGV[6]) > 0 then
  redis.call("ZADD", KEYS[3], ARGV[10], id)
else
  redis.call("LPUSH", KEYS[2], id)
end
return {id, "1"}
`)

// KEYS: delayed, wait
// ARGV: now, limit
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[1], id)
  redis.call("LPUSH", KEYS[2], id)
end
return #ids
`)

// KEYS: wait, active
// ARGV: base, token, lockMillis, now
var moveToActiveScript = redis.NewScript(`
local id = redis.call("RPOPLPUSH", KEYS[1], KEYS[2])
if not id then
  return {}
end
local jobKey = ARGV[1] .. ":job:" .. id
if redis.call("EXISTS", jobKey) == 0 then
  redis.call("LREM", KEYS[2], 0, id)
  return {}
end
redis.call("SET", ARGV[1] .. ":lock:" .. id, ARGV[2], "PX", ARGV[3])
redis.call("HSET", jobKey, "state", "active", "processedOn", ARGV[4])
return redis.call("HGETALL", jobKey)
`)

// KEYS: active, completed
// ARGV: base, id, token, now, returnvalue, keep
var completeScript = redis.NewScript(`
local lockKey = ARGV[1] .. ":lock:" .. ARGV[2]
if redis.call("GET", lockKey) ~= ARGV[3] then
  return -1
end
local jobKey = ARGV[1] .. ":job:" .. ARGV[2]
redis.call("DEL", lockKey)
redis.call("LREM", KEYS[1], 0, ARGV[2])
redis.call("HINCRBY", jobKey, "attemptsMade", 1)
redis.call("HSET", jobKey, "state", "completed", "finishedOn", ARGV[4], "returnvalue", ARGV[5])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[2])
local keep = tonumber(ARGV[6])
if keep >= 0 then
  local excess = redis.call("ZCARD", KEYS[2]) - keep
  if excess > 0 then
    local old = redis.call("ZRANGE", KEYS[2], 0, excess - 1)
    for _, oldId in ipairs(old) do
      redis.call("DEL", ARGV[1] .. ":job:" .. oldId)
    end
    redis.call("ZREMRANGEBYRANK", KEYS[2], 0, excess - 1)
  end
end
return 1
`)

// KEYS: active, delayed, failed
// ARGV: base, id, token, now, reason, retryAt (-1 for final), keep
var failScript = redis.NewScript(`
local lockKey = ARGV[1] .. ":lock:" .. ARGV[2]
if redis.call("GET", lockKey) ~= ARGV[3] then
  return -1
end
local jobKey = ARGV[1] .. ":job:" .. ARGV[2]
redis.call("DEL", lockKey)
redis.call("LREM", KEYS[1], 0, ARGV[2])
redis.call("HINCRBY", jobKey, "attemptsMade", 1)
redis.call("HSET", jobKey, "failedReason", ARGV[5])
if tonumber(ARGV[6]) >= 0 then
  redis.call("HSET", jobKey, "state", "waiting")
  redis.call("ZADD", KEYS[2], ARGV[6], ARGV[2])
  return 1
end
redis.call("HSET", jobKey, "state", "failed", "finishedOn", ARGV[4])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[2])
local keep = tonumber(ARGV[7])
if keep >= 0 then
  local excess = redis.call("ZCARD", KEYS[3]) - keep
  if excess > 0 then
    local old = redis.call("ZRANGE", KEYS[3], 0, excess - 1)
    for _, oldId in ipairs(old) do
      redis.call("DEL", ARGV[1] .. ":job:" .. oldId)
    end
    redis.call("ZREMRANGEBYRANK", KEYS[3], 0, excess - 1)
  end
end
return 0
`)

// KEYS: active, wait, failed
// ARGV: base, maxStalled, now, keep
var stalledScript = redis.NewScript(`
local ids = redis.call("LRANGE", KEYS[1], 0, -1)
local recovered = 0
local failed = 0
for _, id in ipairs(ids) do
  if redis.call("EXISTS", ARGV[1] .. ":lock:" .. id) == 0 then
    local jobKey = ARGV[1] .. ":job:" .. id
    redis.call("LREM", KEYS[1], 0, id)
    if redis.call("EXISTS", jobKey) == 1 then
      local stalled = redis.call("HINCRBY", jobKey, "stalledCount", 1)
      if stalled > tonumber(ARGV[2]) then
        redis.call("HINCRBY", jobKey, "attemptsMade", 1)
        redis.call("HSET", jobKey,
          "state", "failed",
          "finishedOn", ARGV[3],
          "failedReason", "job stalled more than allowable limit")
        redis.call("ZADD", KEYS[3], ARGV[3], id)
        failed = failed + 1
      else
        redis.call("HSET", jobKey, "state", "waiting")
        redis.call("RPUSH", KEYS[2], id)
        recovered = recovered + 1
      end
    end
  end
end
local keep = tonumber(ARGV[4])
if failed > 0 and keep >= 0 then
  local excess = redis.call("ZCARD", KEYS[3]) - keep
  if excess > 0 then
    local old = redis.call("ZRANGE", KEYS[3], 0, excess - 1)
    for _, oldId in ipairs(old) do
      redis.call("DEL", ARGV[1] .. ":job:" .. oldId)
    end
    redis.call("ZREMRANGEBYRANK", KEYS[3], 0, excess - 1)
  end
end
return {recovered, failed}
`)

// KEYS: lock
// ARGV: token, lockMillis
var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
