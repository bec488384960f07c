package cfg

type Cfg struct {
	// Server configuration
	Port         string
	APIAccessKey string

	// Storage configuration
	DBPath    string
	RedisAddr string

	// Collaborator services
	MCPURL   string
	LLMURL   string
	LLMKey   string
	LLMModel string

	// Ingestion configuration
	WorkerCount      int
	ScheduleInterval int
	WatchlistPath    string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
