package types

// LogConf contains logging specific configuration.
type LogConf struct {
	Level string `ini:"level"`
}

// WebConf configures the dashboard/observer HTTP server.
type WebConf struct {
	Port int `ini:"port"` // 0 disables the web server
}

// RedisConf configures the shared redis client used by the entity store
// and the queue transport.
type RedisConf struct {
	Addr     string `ini:"addr"`
	Password string `ini:"password"`
	DB       int    `ini:"db"`
}

// QueueConf configures the two logical queues and consumer concurrency.
type QueueConf struct {
	DetectionQueue  string `ini:"detection_queue"`
	ProgressQueue   string `ini:"progress_queue"`
	ConsumerWorkers int    `ini:"consumer_workers"`
}

// HealthConf configures the proxy health check scheduler.
type HealthConf struct {
	WorkerPoolSize      int    `ini:"worker_pool_size"`
	FullSweepMinutes    int    `ini:"full_sweep_minutes"`
	HeartbeatSeconds    int    `ini:"heartbeat_seconds"`
	HotNodeLimit        int    `ini:"hot_node_limit"`
	CheckTimeoutSeconds int    `ini:"check_timeout_seconds"`
	CheckTargetURL      string `ini:"check_target_url"`
	CheckTargetAddr     string `ini:"check_target_addr"` // host:port for socks5 dials
}

// PoolConf configures the durable proxy node table.
type PoolConf struct {
	DataFile string `ini:"data_file"`
}

// MonitorConf configures the worker-server reachability watcher.
type MonitorConf struct {
	SweepMinutes       int `ini:"sweep_minutes"`
	DialTimeoutSeconds int `ini:"dial_timeout_seconds"`
}

// Config is the unified behavior configuration loaded from regprobe.ini.
type Config struct {
	LogConf     LogConf     `ini:"log"`
	WebConf     WebConf     `ini:"web"`
	RedisConf   RedisConf   `ini:"redis"`
	QueueConf   QueueConf   `ini:"queue"`
	HealthConf  HealthConf  `ini:"health"`
	PoolConf    PoolConf    `ini:"pool"`
	MonitorConf MonitorConf `ini:"monitor"`
}
