package config

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"regprobe/internal/shared/types"
)

// LoadIni loads the behavior configuration file and applies defaults for
// anything the file leaves unset.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}

	overrideFromEnv(&cfg.RedisConf.Addr, "REDIS_ADDR")
	overrideFromEnv(&cfg.RedisConf.Password, "REDIS_PASSWORD")
	overrideFromEnvInt(&cfg.RedisConf.DB, "REDIS_DB")

	ApplyDefaults(cfg)
	return nil
}

// ApplyDefaults fills zero-valued fields with the built-in defaults. It is
// exported so tests can build a usable config without an ini file.
func ApplyDefaults(cfg *types.Config) {
	if cfg.RedisConf.Addr == "" {
		cfg.RedisConf.Addr = "127.0.0.1:6379"
	}
	if cfg.QueueConf.DetectionQueue == "" {
		cfg.QueueConf.DetectionQueue = "task.detection.queue"
	}
	if cfg.QueueConf.ProgressQueue == "" {
		cfg.QueueConf.ProgressQueue = "task.progress.queue"
	}
	if cfg.QueueConf.ConsumerWorkers <= 0 {
		cfg.QueueConf.ConsumerWorkers = 5
	}
	if cfg.HealthConf.WorkerPoolSize <= 0 {
		cfg.HealthConf.WorkerPoolSize = 10
	}
	if cfg.HealthConf.FullSweepMinutes <= 0 {
		cfg.HealthConf.FullSweepMinutes = 5
	}
	if cfg.HealthConf.HeartbeatSeconds <= 0 {
		cfg.HealthConf.HeartbeatSeconds = 30
	}
	if cfg.HealthConf.HotNodeLimit <= 0 {
		cfg.HealthConf.HotNodeLimit = 20
	}
	if cfg.HealthConf.CheckTimeoutSeconds <= 0 {
		cfg.HealthConf.CheckTimeoutSeconds = 10
	}
	if cfg.HealthConf.CheckTargetURL == "" {
		cfg.HealthConf.CheckTargetURL = "http://www.gstatic.com/generate_204"
	}
	if cfg.HealthConf.CheckTargetAddr == "" {
		cfg.HealthConf.CheckTargetAddr = "www.gstatic.com:80"
	}
	if cfg.PoolConf.DataFile == "" {
		cfg.PoolConf.DataFile = "configs/proxies.dat"
	}
	if cfg.MonitorConf.SweepMinutes <= 0 {
		cfg.MonitorConf.SweepMinutes = 5
	}
	if cfg.MonitorConf.DialTimeoutSeconds <= 0 {
		cfg.MonitorConf.DialTimeoutSeconds = 5
	}
}

func overrideFromEnv(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
