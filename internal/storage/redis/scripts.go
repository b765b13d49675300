package redis

const (
	// publishInventoryScript atomically replaces the previous pass with a new one
	publishInventoryScript = `
local pass_key = KEYS[1]        -- licensewatch:pass
local tools_set = KEYS[2]       -- licensewatch:tools

local tool_base = ARGV[1]       -- licensewatch:tool:
local ttl_seconds = tonumber(ARGV[2])
local pass_id = ARGV[3]
local parsed_at = ARGV[4]
local tools_json = ARGV[5]

-- Drop the previous pass's per-tool documents so vanished tools do not linger
local previous = redis.call('SMEMBERS', tools_set)
for _, tool in ipairs(previous) do
  redis.call('DEL', tool_base .. tool)
end
redis.call('DEL', tools_set)
redis.call('DEL', pass_key)

redis.call('HSET', pass_key,
  'id', pass_id,
  'parsed_at', parsed_at,
  'tools', tools_json
)

-- Remaining arguments are (tool, features JSON) pairs
for i = 6, #ARGV, 2 do
  local tool = ARGV[i]
  local tool_key = tool_base .. tool
  redis.call('SET', tool_key, ARGV[i + 1])
  redis.call('SADD', tools_set, tool)
  if ttl_seconds > 0 then
    redis.call('EXPIRE', tool_key, ttl_seconds)
  end
end

if ttl_seconds > 0 then
  redis.call('EXPIRE', pass_key, ttl_seconds)
  redis.call('EXPIRE', tools_set, ttl_seconds)
end

return 'OK'
`
)
