package queue

import "github.com/redis/go-redis/v9"

// promoteScript moves due delayed jobs to the consuming end of the wait list.
// KEYS: delayed, wait. ARGV: now (ms), batch size.
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[1], id)
  redis.call("RPUSH", KEYS[2], id)
end
return #ids
`)

// completeScript removes a finished job if the caller still holds its lease.
// KEYS: lock, active, job, stalls. ARGV: token, id.
var completeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("LREM", KEYS[2], 1, ARGV[2])
redis.call("DEL", KEYS[3])
redis.call("HDEL", KEYS[4], ARGV[2])
return 1
`)

// retryScript parks a failed job in the delayed set.
// KEYS: lock, active, job, delayed. ARGV: token, id, payload, ready-at (ms).
var retryScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("LREM", KEYS[2], 1, ARGV[2])
redis.call("SET", KEYS[3], ARGV[3])
redis.call("ZADD", KEYS[4], ARGV[4], ARGV[2])
return 1
`)

// failScript moves an exhausted job to the capped failed list.
// KEYS: lock, active, job, failed, stalls. ARGV: token, id, payload, limit.
var failScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("LREM", KEYS[2], 1, ARGV[2])
redis.call("DEL", KEYS[3])
redis.call("HDEL", KEYS[5], ARGV[2])
redis.call("LPUSH", KEYS[4], ARGV[3])
redis.call("LTRIM", KEYS[4], 0, tonumber(ARGV[4]) - 1)
return 1
`)

// buryScript moves a job that stalled too often from the active list to
// the capped failed list. It is a no-op if the job already left the active
// list. KEYS: active, job, failed, stalls. ARGV: id, payload, limit.
var buryScript = redis.NewScript(`
if redis.call("LREM", KEYS[1], 1, ARGV[1]) == 0 then
  return 0
end
redis.call("DEL", KEYS[2])
redis.call("HDEL", KEYS[4], ARGV[1])
redis.call("LPUSH", KEYS[3], ARGV[2])
redis.call("LTRIM", KEYS[3], 0, tonumber(ARGV[3]) - 1)
return 1
`)

// extendScript renews a lease the caller still holds.
// KEYS: lock. ARGV: token, ttl (ms).
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// reserveScript moves the next job to the active list and takes its lease
// in one step. KEYS: wait, active. ARGV: lock key prefix, token, ttl (ms).
var reserveScript = redis.NewScript(`
local id = redis.call("RPOPLPUSH", KEYS[1], KEYS[2])
if not id then
  return false
end
redis.call("SET", ARGV[1] .. id, ARGV[2], "PX", ARGV[3])
return id
`)

// stalledScript handles active jobs that had no lease at the previous sweep
// and still have none, then marks the currently unleased ones. Requiring two
// sweeps covers the gap between a blocking pop and taking its lease. Each
// recovery bumps the job's stall count; a job within the limit goes back to
// the wait list, one past it stays active for the caller to bury.
// KEYS: active, wait, marked, stalls. ARGV: lock key prefix, max stalls.
// Returns {requeued ids, over-limit ids}.
var stalledScript = redis.NewScript(`
local marked = redis.call("SMEMBERS", KEYS[3])
redis.call("DEL", KEYS[3])
local max = tonumber(ARGV[2])
local requeued = {}
local over = {}
for _, id in ipairs(marked) do
  if redis.call("EXISTS", ARGV[1] .. id) == 0 then
    if redis.call("LPOS", KEYS[1], id) then
      if redis.call("HINCRBY", KEYS[4], id, 1) > max then
        table.insert(over, id)
      else
        redis.call("LREM", KEYS[1], 1, id)
        redis.call("RPUSH", KEYS[2], id)
        table.insert(requeued, id)
      end
    end
  end
end
local ids = redis.call("LRANGE", KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  if redis.call("EXISTS", ARGV[1] .. id) == 0 then
    redis.call("SADD", KEYS[3], id)
  end
end
return {requeued, over}
`)
