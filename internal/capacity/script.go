// Package capacity implements Capacity Admission Control (spec.md §4.8):
// atomic global/tenant concurrency and per-minute rate limiting via a
// single Lua script evaluated against the shared Redis store.
package capacity

// tryAcquireScript implements the tryAcquire(callId, caps, ttlSeconds)
// algorithm from spec.md §4.8 as one atomic server-side script. KEYS are
// {global active set, tenant active set, tenant rpm counter}; ARGV are
// {callId, globalCap, tenantCap, rpmCap, ttlSeconds}.
const tryAcquireScript = `
local globalKey = KEYS[1]
local tenantKey = KEYS[2]
local rpmKey = KEYS[3]

local callId = ARGV[1]
local globalCap = tonumber(ARGV[2])
local tenantCap = tonumber(ARGV[3])
local rpmCap = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

if redis.call("SISMEMBER", globalKey, callId) == 1 or redis.call("SISMEMBER", tenantKey, callId) == 1 then
  redis.call("SADD", globalKey, callId)
  redis.call("SADD", tenantKey, callId)
  redis.call("EXPIRE", globalKey, ttl)
  redis.call("EXPIRE", tenantKey, ttl)
  return "ok"
end

local globalCount = redis.call("SCARD", globalKey)
if globalCount >= globalCap then
  return "global_at_capacity"
end

local tenantCount = redis.call("SCARD", tenantKey)
if tenantCount >= tenantCap then
  return "tenant_at_capacity"
end

local rpm = tonumber(redis.call("GET", rpmKey)) or 0
if rpm >= rpmCap then
  return "tenant_rate_limited"
end

redis.call("SADD", globalKey, callId)
redis.call("SADD", tenantKey, callId)
redis.call("EXPIRE", globalKey, ttl)
redis.call("EXPIRE", tenantKey, ttl)

local newRpm = redis.call("INCR", rpmKey)
if newRpm == 1 then
  redis.call("EXPIRE", rpmKey, 120)
end

return "ok"
`

// releaseScript implements release(callId): removes callId from both
// active sets without touching the rpm counter (a per-minute rate gate,
// never decremented early).
const releaseScript = `
redis.call("SREM", KEYS[1], ARGV[1])
redis.call("SREM", KEYS[2], ARGV[1])
return "ok"
`
