package model

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Provision ProvisionConfig `yaml:"provision"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Browser   BrowserConfig   `yaml:"browser"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type StoreConfig struct {
	// Backend selects the persisted store implementation: "file" or "sqlite".
	Backend string `yaml:"backend"`
}

type ProvisionConfig struct {
	ProbeTimeoutMs  int `yaml:"probe_timeout_ms"`
	SettleDelayMs   int `yaml:"settle_delay_ms"`
	InjectTimeoutMs int `yaml:"inject_timeout_ms"`
}

type PipelineConfig struct {
	ReadAttempts    int `yaml:"read_attempts"`
	ReadBackoffMs   int `yaml:"read_backoff_ms"`
	InsertTimeoutMs int `yaml:"insert_timeout_ms"`
}

type SchedulerConfig struct {
	// TabSettleTimeoutSec bounds the wait for a freshly opened site tab to
	// finish loading before a scheduled prompt is delivered into it.
	TabSettleTimeoutSec int `yaml:"tab_settle_timeout_sec"`
	SubmitDelayMs       int `yaml:"submit_delay_ms"`
	ImmediateDeferMs    int `yaml:"immediate_defer_ms"`
}

type MonitorConfig struct {
	Enabled       bool `yaml:"enabled"`
	IntervalSec   int  `yaml:"interval_sec"`
	MaxAttempts   int  `yaml:"max_attempts"`
	ErrorAttempts int  `yaml:"error_attempts"`
}

type BrowserConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ChromePath string `yaml:"chrome_path"`
	Headless   bool   `yaml:"headless"`
	DebugURL   string `yaml:"debug_url"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
	ConnTimeoutSec     int `yaml:"conn_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration written by setup and used when
// fields are unset.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{Backend: "file"},
		Provision: ProvisionConfig{
			ProbeTimeoutMs:  1000,
			SettleDelayMs:   500,
			InjectTimeoutMs: 5000,
		},
		Pipeline: PipelineConfig{
			ReadAttempts:    2,
			ReadBackoffMs:   300,
			InsertTimeoutMs: 5000,
		},
		Scheduler: SchedulerConfig{
			TabSettleTimeoutSec: 15,
			SubmitDelayMs:       500,
			ImmediateDeferMs:    100,
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			IntervalSec:   1,
			MaxAttempts:   30,
			ErrorAttempts: 10,
		},
		Browser: BrowserConfig{Enabled: false, Headless: true},
		Daemon: DaemonConfig{
			ShutdownTimeoutSec: 30,
			ConnTimeoutSec:     30,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// ApplyDefaults fills zero-valued fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	if c.Provision.ProbeTimeoutMs <= 0 {
		c.Provision.ProbeTimeoutMs = def.Provision.ProbeTimeoutMs
	}
	if c.Provision.SettleDelayMs <= 0 {
		c.Provision.SettleDelayMs = def.Provision.SettleDelayMs
	}
	if c.Provision.InjectTimeoutMs <= 0 {
		c.Provision.InjectTimeoutMs = def.Provision.InjectTimeoutMs
	}
	if c.Pipeline.ReadAttempts <= 0 {
		c.Pipeline.ReadAttempts = def.Pipeline.ReadAttempts
	}
	if c.Pipeline.ReadBackoffMs <= 0 {
		c.Pipeline.ReadBackoffMs = def.Pipeline.ReadBackoffMs
	}
	if c.Pipeline.InsertTimeoutMs <= 0 {
		c.Pipeline.InsertTimeoutMs = def.Pipeline.InsertTimeoutMs
	}
	if c.Scheduler.TabSettleTimeoutSec <= 0 {
		c.Scheduler.TabSettleTimeoutSec = def.Scheduler.TabSettleTimeoutSec
	}
	if c.Scheduler.SubmitDelayMs <= 0 {
		c.Scheduler.SubmitDelayMs = def.Scheduler.SubmitDelayMs
	}
	if c.Scheduler.ImmediateDeferMs <= 0 {
		c.Scheduler.ImmediateDeferMs = def.Scheduler.ImmediateDeferMs
	}
	if c.Monitor.IntervalSec <= 0 {
		c.Monitor.IntervalSec = def.Monitor.IntervalSec
	}
	if c.Monitor.MaxAttempts <= 0 {
		c.Monitor.MaxAttempts = def.Monitor.MaxAttempts
	}
	if c.Monitor.ErrorAttempts <= 0 {
		c.Monitor.ErrorAttempts = def.Monitor.ErrorAttempts
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = def.Daemon.ShutdownTimeoutSec
	}
	if c.Daemon.ConnTimeoutSec <= 0 {
		c.Daemon.ConnTimeoutSec = def.Daemon.ConnTimeoutSec
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}
