package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/opsloom/opsloom/pkg/tools"
)

func init() {
	tools.Register(tools.ToolDefinition{
		ID:               "redis_command",
		Name:             "Redis Command",
		Description:      "Execute a Redis command",
		Category:         tools.CategoryDatabase,
		RequiresApproval: redisNeedsApproval,
	}, NewRedisCommandTool)

	tools.Register(tools.ToolDefinition{
		ID:          "redis_keys",
		Name:        "Redis Keys",
		Description: "List Redis keys matching a pattern",
		Category:    tools.CategoryDatabase,
	}, NewRedisKeysTool)
}

// redisReadCommands are the commands that cannot mutate the keyspace.
// Everything else goes through approval.
var redisReadCommands = map[string]bool{
	"GET": true, "MGET": true, "EXISTS": true, "TYPE": true, "TTL": true,
	"PTTL": true, "STRLEN": true, "HGET": true, "HMGET": true, "HGETALL": true,
	"HKEYS": true, "HLEN": true, "LRANGE": true, "LLEN": true, "LINDEX": true,
	"SMEMBERS": true, "SCARD": true, "SISMEMBER": true, "ZRANGE": true,
	"ZCARD": true, "ZSCORE": true, "SCAN": true, "KEYS": true, "INFO": true,
	"DBSIZE": true, "PING": true, "MEMORY": true, "OBJECT": true,
}

func redisNeedsApproval(input map[string]any) bool {
	command, _ := input["command"].(string)
	return !redisReadCommands[strings.ToUpper(strings.TrimSpace(command))]
}

func newRedisClient(host string, port, database int, password string) *redis.Client {
	if port <= 0 {
		port = 6379
	}
	return redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", host, port),
		Password:    password,
		DB:          database,
		DialTimeout: 10 * time.Second,
	})
}

type RedisCommandInput struct {
	Host     string   `json:"host"`
	Port     int      `json:"port,omitempty"`
	Password string   `json:"password,omitempty"`
	DB       int      `json:"db,omitempty"`
	Command  string   `json:"command"`
	Args     []string `json:"args,omitempty"`
}

func NewRedisCommandTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "redis_command",
		Desc: "Execute a Redis command. Supports GET, SET, HGET, HSET, LPUSH, RPUSH, LRANGE, SADD, SMEMBERS, etc.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"host":     {Type: schema.String, Required: true, Desc: "Redis server host"},
			"port":     {Type: schema.Integer, Required: false, Desc: "Redis server port (default: 6379)"},
			"password": {Type: schema.String, Required: false, Desc: "Redis password"},
			"db":       {Type: schema.Integer, Required: false, Desc: "Redis database number (default: 0)"},
			"command":  {Type: schema.String, Required: true, Desc: "Redis command (e.g., GET, SET, HGET)"},
			"args":     {Type: schema.Array, Required: false, Desc: "Command arguments", ElemInfo: &schema.ParameterInfo{Type: schema.String}},
		}),
	}, func(ctx context.Context, input *RedisCommandInput) (string, error) {
		rdb := newRedisClient(input.Host, input.Port, input.DB, input.Password)
		defer rdb.Close()

		args := make([]any, 0, len(input.Args)+1)
		args = append(args, input.Command)
		for _, arg := range input.Args {
			args = append(args, arg)
		}

		result, err := rdb.Do(ctx, args...).Result()
		if err != nil {
			if err == redis.Nil {
				return "(nil)", nil
			}
			return fmt.Sprintf("Error: command failed: %v", err), nil
		}

		return fmt.Sprintf("Command: %s %s\nResult: %s",
			input.Command, strings.Join(input.Args, " "), formatRedisResult(result)), nil
	})
}

type RedisKeysInput struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Pattern  string `json:"pattern"`
	Limit    int    `json:"limit,omitempty"`
}

func NewRedisKeysTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "redis_keys",
		Desc: "List Redis keys matching a pattern. Uses SCAN for safe iteration.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"host":     {Type: schema.String, Required: true, Desc: "Redis server host"},
			"port":     {Type: schema.Integer, Required: false, Desc: "Redis server port (default: 6379)"},
			"password": {Type: schema.String, Required: false, Desc: "Redis password"},
			"db":       {Type: schema.Integer, Required: false, Desc: "Redis database number (default: 0)"},
			"pattern":  {Type: schema.String, Required: true, Desc: "Key pattern (e.g., 'user:*', 'session:*')"},
			"limit":    {Type: schema.Integer, Required: false, Desc: "Maximum keys to return (default: 100)"},
		}),
	}, func(ctx context.Context, input *RedisKeysInput) (string, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}

		rdb := newRedisClient(input.Host, input.Port, input.DB, input.Password)
		defer rdb.Close()

		var keys []string
		var cursor uint64
		for {
			var batch []string
			var err error
			batch, cursor, err = rdb.Scan(ctx, cursor, input.Pattern, int64(limit)).Result()
			if err != nil {
				return fmt.Sprintf("Error: scan failed: %v", err), nil
			}

			keys = append(keys, batch...)
			if len(keys) >= limit || cursor == 0 {
				break
			}
		}
		if len(keys) > limit {
			keys = keys[:limit]
		}

		data, _ := json.MarshalIndent(map[string]any{
			"pattern": input.Pattern,
			"count":   len(keys),
			"keys":    keys,
		}, "", "  ")
		return string(data), nil
	})
}

// formatRedisResult renders a Redis reply the way redis-cli would.
func formatRedisResult(result any) string {
	switch v := result.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = formatRedisResult(item)
		}
		return fmt.Sprintf("[%s]", strings.Join(items, ", "))
	case nil:
		return "(nil)"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
