package config

import "time"

// ClusterConfig contains coordinator and executor settings used when the
// session runs in cluster mode.
type ClusterConfig struct {
	BindAddr            string        `mapstructure:"bind_addr"`
	ExecutorAddr        string        `mapstructure:"executor_addr"`
	MinExecutors        int           `mapstructure:"min_executors"`
	RegistrationTimeout time.Duration `mapstructure:"registration_timeout"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	StaleTimeout        time.Duration `mapstructure:"stale_timeout"`
	TaskTimeout         time.Duration `mapstructure:"task_timeout"`
	MaxTaskAttempts     int           `mapstructure:"max_task_attempts"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout"`
	DriverSlots         int           `mapstructure:"driver_slots"`
	KeepaliveMinTime    time.Duration `mapstructure:"keepalive_min_time"`
}

// UIConfig contains the coordinator status API configuration.
type UIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func setClusterDefaults(v interface{ SetDefault(string, any) }) {
	v.SetDefault("cluster.bind_addr", "")
	v.SetDefault("cluster.executor_addr", "")
	v.SetDefault("cluster.min_executors", 0)
	v.SetDefault("cluster.registration_timeout", 30*time.Second)
	v.SetDefault("cluster.heartbeat_interval", 5*time.Second)
	v.SetDefault("cluster.stale_timeout", 15*time.Second)
	v.SetDefault("cluster.task_timeout", 60*time.Second)
	v.SetDefault("cluster.max_task_attempts", 4)
	v.SetDefault("cluster.drain_timeout", 10*time.Second)
	v.SetDefault("cluster.driver_slots", 0)
	v.SetDefault("cluster.keepalive_min_time", 10*time.Second)

	v.SetDefault("ui.enabled", false)
	v.SetDefault("ui.addr", ":4040")
	v.SetDefault("ui.read_timeout", 15*time.Second)
	v.SetDefault("ui.write_timeout", 15*time.Second)
	v.SetDefault("ui.idle_timeout", 60*time.Second)
}
