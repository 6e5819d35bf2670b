package redis

const (
	// appendEventScript atomically appends an event and refreshes the day key TTL
	appendEventScript = `
local events_key = KEYS[1]   -- chatnest:usage:events:{subjectID}:{day}

local score = ARGV[1]
local member = ARGV[2]
local ttl_seconds = tonumber(ARGV[3])

redis.call('ZADD', events_key, score, member)

if ttl_seconds > 0 then
  redis.call('EXPIRE', events_key, ttl_seconds)
end

return 'OK'
`
)
