package config

import (
	"os"
	"strconv"
	"time"
)

// EnvVarMapping defines the mapping between environment variables and config paths.
var EnvVarMapping = map[string]string{
	"LIGHTUP_HOST":           "server.host",
	"LIGHTUP_PORT":           "server.port",
	"LIGHTUP_AUTH_TOKEN":     "server.auth_token",
	"LIGHTUP_DB_PATH":        "database.path",
	"LIGHTUP_AGENT_URL":      "agent.runtime_url",
	"LIGHTUP_CONCURRENCY":    "agent.concurrency",
	"LIGHTUP_QUEUE_INTERVAL": "agent.queue_interval",
	"LIGHTUP_PR_TOOL":        "git.pr_tool",
	"LIGHTUP_LOG_LEVEL":      "log_level",
}

// ApplyEnvVars applies environment variable overrides to a config.
// Returns the list of paths that were overridden.
func ApplyEnvVars(cfg *Config) []string {
	var overridden []string
	for envVar, configPath := range EnvVarMapping {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		if applyEnvVar(cfg, configPath, value) {
			overridden = append(overridden, configPath)
		}
	}
	return overridden
}

func applyEnvVar(cfg *Config, path, value string) bool {
	switch path {
	case "server.host":
		cfg.Server.Host = value
	case "server.port":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = v
		}
	case "server.auth_token":
		cfg.Server.AuthToken = value
	case "database.path":
		cfg.Database.Path = value
	case "agent.runtime_url":
		cfg.Agent.RuntimeURL = value
	case "agent.concurrency":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Agent.Concurrency = v
		}
	case "agent.queue_interval":
		if d, err := time.ParseDuration(value); err == nil {
			cfg.Agent.QueueInterval = d
		}
	case "git.pr_tool":
		cfg.Git.PRTool = value
	case "log_level":
		cfg.LogLevel = value
	default:
		return false
	}
	return true
}
