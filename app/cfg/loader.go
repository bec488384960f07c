package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Server configuration
	Port         string `long:"port" env:"PORT" default:"8888" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for task administration endpoints (optional)"`

	// Storage configuration
	DBPath    string `long:"db-path" env:"DB_PATH" default:"./tickethunter.db" description:"Path to the SQLite database file"`
	RedisAddr string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for caching and rate limiting (optional)"`

	// Collaborator services
	MCPURL   string `long:"mcp-url" env:"MCP_XIAOHONGSHU_URL" default:"http://localhost:18060/mcp" description:"Xiaohongshu MCP search service URL"`
	LLMURL   string `long:"llm-url" env:"LLM_API_URL" default:"https://open.bigmodel.cn/api/paas/v4/chat/completions" description:"Chat completions endpoint used for classification"`
	LLMKey   string `long:"llm-key" env:"LLM_API_KEY" description:"API key for the classification service (required)" required:"true"`
	LLMModel string `long:"llm-model" env:"LLM_MODEL" default:"glm-4-flash" description:"Model name used for classification"`

	// Ingestion configuration
	WorkerCount      int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of concurrent workers per ingestion run"`
	ScheduleInterval int    `long:"schedule-interval" env:"SCHEDULE_INTERVAL" default:"60" description:"Default task schedule interval in seconds"`
	WatchlistPath    string `long:"watchlist" env:"WATCHLIST_PATH" description:"Path to the watchlist YAML file (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"TicketHunter/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Asia/Shanghai)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Port:             raw.Port,
		APIAccessKey:     raw.APIAccessKey,
		DBPath:           raw.DBPath,
		RedisAddr:        raw.RedisAddr,
		MCPURL:           raw.MCPURL,
		LLMURL:           raw.LLMURL,
		LLMKey:           raw.LLMKey,
		LLMModel:         raw.LLMModel,
		WorkerCount:      raw.WorkerCount,
		ScheduleInterval: raw.ScheduleInterval,
		WatchlistPath:    raw.WatchlistPath,
		UserAgent:        raw.UserAgent,
		Timezone:         raw.Timezone,
		Debug:            raw.Debug,
		Version:          GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
