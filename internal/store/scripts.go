package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Lua scripts for atomic counter operations.
//
// Using Lua scripts ensures that multi-step operations (INCR + PEXPIRE,
// GET + PTTL) execute atomically on the Redis server, preventing race
// conditions between concurrent requests and gateway instances.

// luaIncrement atomically increments a key and sets its expiry.
// KEYS[1] = the rate limit key
// ARGV[1] = window duration in milliseconds
//
// Returns {count after incrementing, remaining window in milliseconds}.
const luaIncrement = `
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])

local current = redis.call("INCR", key)

-- Only set expiry on the first hit so the window stays anchored there
-- instead of sliding forward on every request.
if current == 1 then
    redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
    ttl = window_ms
end

return {current, ttl}
`

// luaRead returns the current count without mutating it.
// KEYS[1] = the rate limit key
// ARGV[1] = window duration in milliseconds
//
// Returns {current count, remaining window in milliseconds}.
const luaRead = `
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])

local current = tonumber(redis.call("GET", key) or "0")

local ttl = redis.call("PTTL", key)
if ttl < 0 then
    ttl = window_ms
end

return {current, ttl}
`

// luaDecrement refunds one hit, flooring at zero so a refund can never
// open up more budget than the window actually has.
// KEYS[1] = the rate limit key
//
// Returns the count after decrementing.
const luaDecrement = `
local key = KEYS[1]

local current = tonumber(redis.call("GET", key) or "0")
if current > 0 then
    return redis.call("DECR", key)
end

return current
`

// scriptLoader manages the lifecycle of Lua scripts in Redis.
// Scripts are loaded once via SCRIPT LOAD and then executed by SHA,
// which reduces bandwidth and parsing overhead on repeated calls.
type scriptLoader struct {
	client *redis.Client

	increment *redis.Script
	read      *redis.Script
	decrement *redis.Script
}

// newScriptLoader creates a new script loader with all scripts registered.
func newScriptLoader(client *redis.Client) *scriptLoader {
	return &scriptLoader{
		client:    client,
		increment: redis.NewScript(luaIncrement),
		read:      redis.NewScript(luaRead),
		decrement: redis.NewScript(luaDecrement),
	}
}

// LoadAll pre-loads all Lua scripts into the Redis script cache.
// This should be called once during initialization. The go-redis library
// handles transparent reloading if scripts are evicted from the cache.
func (sl *scriptLoader) LoadAll(ctx context.Context) error {
	scripts := map[string]*redis.Script{
		"increment": sl.increment,
		"read":      sl.read,
		"decrement": sl.decrement,
	}

	for name, script := range scripts {
		if err := script.Load(ctx, sl.client).Err(); err != nil {
			return fmt.Errorf("failed to load script %q: %w", name, err)
		}
	}

	return nil
}
