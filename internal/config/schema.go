package config

// Config is the top-level YAML structure.
type Config struct {
	Server   ServerConf   `yaml:"server"`
	Gate     GateConf     `yaml:"gate"`
	Outbox   OutboxConf   `yaml:"outbox"`
	Velocity VelocityConf `yaml:"velocity"`
	Registry RegistryConf `yaml:"registry"`
	Debug    DebugConf    `yaml:"debug"`
}

// ServerConf holds HTTP server settings.
type ServerConf struct {
	Addr           string  `yaml:"addr"`
	ReadTimeoutS   int     `yaml:"read_timeout_s"`
	WriteTimeoutS  int     `yaml:"write_timeout_s"`
	IdleTimeoutS   int     `yaml:"idle_timeout_s"`
	AdminRateRPS   float64 `yaml:"admin_rate_rps"`   // registry management endpoints
	AdminRateBurst int     `yaml:"admin_rate_burst"`
}

// GateConf tunes the admission gate.
type GateConf struct {
	Enabled       bool `yaml:"enabled"`
	MaxConcurrent int  `yaml:"max_concurrent"`
}

// OutboxConf tunes the durability dispatcher.
type OutboxConf struct {
	Enabled        bool `yaml:"enabled"`
	QueueCapacity  int  `yaml:"queue_capacity"`
	PollIntervalMs int  `yaml:"poll_interval_ms"`
	BackoffMs      int  `yaml:"backoff_ms"`
	DrainBurst     int  `yaml:"drain_burst"`
}

// VelocityConf selects the counter store and its failure policy.
type VelocityConf struct {
	FailOpen  bool   `yaml:"fail_open"`
	RedisAddr string `yaml:"redis_addr"` // empty = in-process memory store
	Prefix    string `yaml:"prefix"`
}

// RulesetSpec identifies one rule set to preload at startup.
type RulesetSpec struct {
	Key     string `yaml:"key"`
	Version int64  `yaml:"version"`
	Country string `yaml:"country"`
}

// RegistryConf tunes the rule-set registry and its artifact loader.
type RegistryConf struct {
	ArtifactDir   string        `yaml:"artifact_dir"`
	AllowRollback bool          `yaml:"allow_rollback"`
	Preload       []RulesetSpec `yaml:"preload"`
}

// DebugConf bounds the optional condition trace. Hot-reloadable.
type DebugConf struct {
	MaxConditionEvaluations int  `yaml:"max_condition_evaluations"`
	IncludeFieldValues      bool `yaml:"include_field_values"`
}
