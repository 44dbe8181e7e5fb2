package redis

import "github.com/redis/go-redis/v9"

// Script status codes (first element of every reply)
const (
	statusOK           = 0
	statusUnknown      = -1
	statusInsufficient = -2
	statusTaken        = -3
	statusNoCredit     = -4
	// statusReplayed marks a reply recorded by an earlier call with the same spin id
	statusReplayed = 1
)

// createPlayerScript claims the nickname and writes the player in one step.
// KEYS: nickname index, player hash, leaderboard
// ARGV: id, nickname, created_at
var createPlayerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {-3}
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
  'id', ARGV[1], 'nickname', ARGV[2],
  'spins', 0, 'points', 0, 'version', 0,
  'created_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[3], 0, ARGV[2])
return {0}
`)

// applyScript adds the spin and point deltas, refusing to take spins below zero.
// KEYS: player hash, leaderboard
// ARGV: spins delta, points delta, updated_at
var applyScript = redis.NewScript(applyBody + `
return {0, spins, points, version}
`)

// settleScript is applyScript recorded under a spin id. A replay returns the
// recorded balance and applies nothing.
// KEYS: player hash, leaderboard, settlement hash
// ARGV: spins delta, points delta, updated_at, ttl ms
var settleScript = redis.NewScript(replayBody + applyBody + recordBody + `
return {0, spins, points, version}
`)

// debitScript is settleScript that also parks the reward when it is positive.
// KEYS: player hash, leaderboard, settlement hash, credit hash, pending zset
// ARGV: spins delta, 0, updated_at, ttl ms, spin id, player id, amount, symbols, parked score
var debitScript = redis.NewScript(replayBody + applyBody + recordBody + `
if tonumber(ARGV[7]) > 0 then
  redis.call('HSET', KEYS[4],
    'spin_id', ARGV[5], 'player_id', ARGV[6], 'amount', ARGV[7], 'symbols', ARGV[8],
    'parked_at', ARGV[3], 'attempts', 0, 'last_error', '', 'applied', 0)
  redis.call('ZADD', KEYS[5], ARGV[9], ARGV[5])
end
return {0, spins, points, version}
`)

// applyCreditScript credits a parked reward once and drops it from the pending set.
// KEYS: credit hash, player hash, leaderboard, pending zset
// ARGV: updated_at, ttl ms, spin id
var applyCreditScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-4}
end
if redis.call('HGET', KEYS[1], 'applied') == '1' then
  local r = redis.call('HMGET', KEYS[1], 'spins', 'points', 'version')
  return {1, tonumber(r[1]), tonumber(r[2]), tonumber(r[3])}
end
if redis.call('EXISTS', KEYS[2]) == 0 then
  return {-1}
end
local amount = tonumber(redis.call('HGET', KEYS[1], 'amount'))
local spins = tonumber(redis.call('HGET', KEYS[2], 'spins'))
local points = redis.call('HINCRBY', KEYS[2], 'points', amount)
local version = redis.call('HINCRBY', KEYS[2], 'version', 1)
redis.call('HSET', KEYS[2], 'updated_at', ARGV[1])
redis.call('ZADD', KEYS[3], -points, redis.call('HGET', KEYS[2], 'nickname'))
redis.call('HSET', KEYS[1], 'applied', 1, 'spins', spins, 'points', points, 'version', version)
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('ZREM', KEYS[4], ARGV[3])
return {0, spins, points, version}
`)

// recordAttemptScript bumps the attempt count of an unapplied credit.
// KEYS: credit hash
// ARGV: last error
var recordAttemptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 or redis.call('HGET', KEYS[1], 'applied') == '1' then
  return -4
end
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1], 'last_error', ARGV[1])
return 0
`)

const replayBody = `
local seen = redis.call('HMGET', KEYS[3], 'spins', 'points', 'version')
if seen[1] then
  return {1, tonumber(seen[1]), tonumber(seen[2]), tonumber(seen[3])}
end
`

const recordBody = `
redis.call('HSET', KEYS[3], 'spins', spins, 'points', points, 'version', version)
redis.call('PEXPIRE', KEYS[3], ARGV[4])
`

// grantScript is applyScript followed by appending the grant record.
// KEYS: player hash, leaderboard, grant hash, grant list
// ARGV: spins delta, points delta (0), updated_at, grant id, nickname, player id
var grantScript = redis.NewScript(applyBody + `
redis.call('HSET', KEYS[3],
  'id', ARGV[4], 'player_id', ARGV[6], 'nickname', ARGV[5],
  'amount', ARGV[1], 'resulting_spins', spins, 'granted_at', ARGV[3])
redis.call('LPUSH', KEYS[4], ARGV[4])
return {0, spins, points, version}
`)

const applyBody = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
local spinsDelta = tonumber(ARGV[1])
local pointsDelta = tonumber(ARGV[2])
local current = tonumber(redis.call('HGET', KEYS[1], 'spins'))
if current + spinsDelta < 0 then
  return {-2}
end
local spins = redis.call('HINCRBY', KEYS[1], 'spins', spinsDelta)
local points = redis.call('HINCRBY', KEYS[1], 'points', pointsDelta)
local version = redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
if pointsDelta ~= 0 then
  redis.call('ZADD', KEYS[2], -points, redis.call('HGET', KEYS[1], 'nickname'))
end
`
