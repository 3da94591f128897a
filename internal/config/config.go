// Package config loads the YAML configuration shared by the monitor and notifier processes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	alarmapp "linemonitor/internal/alarms/application"
	"linemonitor/internal/alarms/notify"
	"linemonitor/internal/eventing"
	"linemonitor/internal/logging"
	voltageapp "linemonitor/internal/voltage/application"
	voltage "linemonitor/internal/voltage/domain"
	"linemonitor/internal/voltage/infrastructure/markers"
	"linemonitor/internal/voltage/infrastructure/lvmb"
)

// ErrInvalid marks a configuration rejected at load time.
var ErrInvalid = errors.New("config: invalid configuration")

// EnvPath names the configuration file when no path is given.
const EnvPath = "LINEMON_CONFIG"

// Config is the complete configuration.
type Config struct {
	Site      string          `yaml:"site" validate:"required"`
	StateDir  string          `yaml:"state_dir" validate:"required"`
	Log       logging.Config  `yaml:"log"`
	Multicast MulticastConfig `yaml:"multicast"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Notifier  NotifierConfig  `yaml:"notifier"`
}

// MulticastConfig addresses the event group.
type MulticastConfig struct {
	Group     string `yaml:"group" validate:"required,ip"`
	Port      int    `yaml:"port" validate:"min=1,max=65534"`
	TTL       int    `yaml:"ttl" validate:"min=1,max=255"`
	Interface string `yaml:"interface"`
}

// EventTimes are the flicker, outage and clear delays of a line.
type EventTimes struct {
	Flicker time.Duration `yaml:"flicker" validate:"min=0"`
	Outage  time.Duration `yaml:"outage" validate:"min=0"`
	Clear   time.Duration `yaml:"clear" validate:"min=0"`
}

// LineConfig describes one monitored line.
type LineConfig struct {
	ID     string  `yaml:"id" validate:"required,alphanum"`
	Column int     `yaml:"column" validate:"min=0"`
	Low    float64 `yaml:"low" validate:"gt=0"`
	High   float64 `yaml:"high" validate:"gt=0"`
	// Events overrides the monitor-wide event times.
	Events *EventTimes `yaml:"events"`
}

// MQTTConfig enables the optional MQTT mirror when Broker is set.
type MQTTConfig struct {
	Broker     string `yaml:"broker" validate:"omitempty,url"`
	ClientID   string `yaml:"client_id"`
	Topic      string `yaml:"topic"`
	AlarmTopic string `yaml:"alarm_topic"`
}

// MonitorConfig configures the line monitor process.
type MonitorConfig struct {
	SerialPort      string        `yaml:"serial_port" validate:"required"`
	Baud            int           `yaml:"baud" validate:"min=300"`
	ReadRetries     int           `yaml:"read_retries" validate:"min=1"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	PollInterval    time.Duration `yaml:"poll_interval" validate:"gt=0"`
	AveragingWindow int           `yaml:"averaging_window" validate:"min=1"`
	RecordingDir    string        `yaml:"recording_dir"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	Events          EventTimes    `yaml:"events"`
	Lines           []LineConfig  `yaml:"lines" validate:"required,min=1,dive"`
	MQTT            MQTTConfig    `yaml:"mqtt"`
}

// EmailConfig configures the SMTP channel; it is enabled when Host is set.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port" validate:"min=0,max=65535"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from" validate:"omitempty,email"`
	To       []string `yaml:"to" validate:"dive,email"`
	StartTLS bool     `yaml:"starttls"`
}

// BreakerConfig tunes the notification circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout" validate:"min=0"`
	MaxRequests      uint32        `yaml:"max_requests"`
}

// NotifierConfig configures the power notification process.
type NotifierConfig struct {
	ReceiveTimeout  time.Duration `yaml:"receive_timeout" validate:"gt=0"`
	FlickerMaxAge   time.Duration `yaml:"flicker_max_age" validate:"gt=0"`
	FlickerInterval time.Duration `yaml:"flicker_interval" validate:"gt=0"`
	ClearUptime     time.Duration `yaml:"clear_uptime" validate:"min=0"`
	Timezone        string        `yaml:"timezone" validate:"required"`
	Workers         int           `yaml:"workers" validate:"min=1"`
	QueueSize       int           `yaml:"queue_size" validate:"min=1"`
	SendTimeout     time.Duration `yaml:"send_timeout" validate:"gt=0"`
	DedupeWindow    time.Duration `yaml:"dedupe_window" validate:"min=0"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	Email           EmailConfig   `yaml:"email"`
	WebhookURL      string        `yaml:"webhook_url" validate:"omitempty,url"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// Default returns the configuration used when no file overrides a field.
func Default() Config {
	return Config{
		Site:     "lwa",
		StateDir: "/var/lib/linemonitor",
		Log:      logging.DefaultConfig(),
		Multicast: MulticastConfig{
			Group: eventing.DefaultGroup,
			Port:  eventing.DefaultPort,
			TTL:   eventing.DefaultTTL,
		},
		Monitor: MonitorConfig{
			SerialPort:      "/dev/ttyUSB0",
			Baud:            lvmb.DefaultBaudRate,
			ReadRetries:     lvmb.DefaultRetries,
			ReadTimeout:     lvmb.DefaultReadTimeout,
			PollInterval:    voltageapp.DefaultPollInterval,
			AveragingWindow: voltageapp.DefaultAveragingWindow,
			MetricsAddr:     ":9465",
			Events: EventTimes{
				Flicker: 0,
				Outage:  500 * time.Millisecond,
				Clear:   3 * time.Second,
			},
			Lines: []LineConfig{
				{ID: "240V", Column: 0, Low: 216, High: 264},
				{ID: "120V", Column: 1, Low: 108, High: 132},
			},
			MQTT: MQTTConfig{
				ClientID:   "linemonitor",
				Topic:      "linemonitor/events",
				AlarmTopic: "linemonitor/power",
			},
		},
		Notifier: NotifierConfig{
			ReceiveTimeout:  eventing.DefaultReceiveTimeout,
			FlickerMaxAge:   alarmapp.DefaultFlickerMaxAge,
			FlickerInterval: alarmapp.DefaultFlickerInterval,
			ClearUptime:     alarmapp.DefaultClearUptime,
			Timezone:        "America/Denver",
			Workers:         notify.DefaultWorkers,
			QueueSize:       notify.DefaultQueueSize,
			SendTimeout:     30 * time.Second,
			MetricsAddr:     ":9466",
			Email:           EmailConfig{Port: 587, StartTLS: true},
		},
	}
}

// Load reads path, or the file named by LINEMON_CONFIG when path is empty, over the defaults,
// applies environment overrides and validates the result. No file at all yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML over cfg. Lists in the document replace the defaults.
func Parse(data []byte, cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.StateDir = getenvDefault("LINEMON_STATE_DIR", cfg.StateDir)
	if addr := os.Getenv("LINEMON_METRICS_ADDR"); addr != "" {
		cfg.Monitor.MetricsAddr = addr
		cfg.Notifier.MetricsAddr = addr
	}
	cfg.Notifier.Email.Password = getenvDefault("SMTP_PASSWORD", cfg.Notifier.Email.Password)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// Validate applies the struct rules and the cross-field checks.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Notifier.Email.Host != "" && (c.Notifier.Email.From == "" || len(c.Notifier.Email.To) == 0) {
		return fmt.Errorf("%w: email needs a sender and recipients", ErrInvalid)
	}
	if _, err := time.LoadLocation(c.Notifier.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Notifier.Timezone, err)
	}

	ids := make(map[string]struct{}, len(c.Monitor.Lines))
	markerOwners := make(map[string]string, len(c.Monitor.Lines))
	columns := make(map[int]struct{}, len(c.Monitor.Lines))
	for _, line := range c.Monitor.Lines {
		if _, dup := ids[line.ID]; dup {
			return fmt.Errorf("%w: duplicate line %s", ErrInvalid, line.ID)
		}
		ids[line.ID] = struct{}{}
		name := markers.Name(voltage.LineID(line.ID))
		if other, dup := markerOwners[name]; dup {
			return fmt.Errorf("%w: lines %s and %s share the outage marker %s", ErrInvalid, other, line.ID, name)
		}
		markerOwners[name] = line.ID
		if _, dup := columns[line.Column]; dup {
			return fmt.Errorf("%w: line %s reuses column %d", ErrInvalid, line.ID, line.Column)
		}
		columns[line.Column] = struct{}{}
		if err := c.Monitor.Thresholds(line).Validate(); err != nil {
			return fmt.Errorf("%w: line %s: %v", ErrInvalid, line.ID, err)
		}
	}
	return nil
}

// Thresholds returns the thresholds of line, falling back to the monitor-wide event times.
func (m MonitorConfig) Thresholds(line LineConfig) voltage.Thresholds {
	events := m.Events
	if line.Events != nil {
		events = *line.Events
	}
	return voltage.Thresholds{
		Low:          line.Low,
		High:         line.High,
		FlickerAfter: events.Flicker,
		OutageAfter:  events.Outage,
		ClearAfter:   events.Clear,
	}
}

// Columns maps meter fields to lines. Unassigned fields map to empty ids, which the meter skips.
func (m MonitorConfig) Columns() []voltage.LineID {
	width := 0
	for _, line := range m.Lines {
		if line.Column+1 > width {
			width = line.Column + 1
		}
	}
	columns := make([]voltage.LineID, width)
	for _, line := range m.Lines {
		columns[line.Column] = voltage.LineID(line.ID)
	}
	return columns
}

// Group returns the eventing address of the multicast section.
func (c Config) Group() eventing.GroupConfig {
	return eventing.GroupConfig{
		Group:     c.Multicast.Group,
		Port:      c.Multicast.Port,
		TTL:       c.Multicast.TTL,
		Interface: c.Multicast.Interface,
	}
}

// Location returns the notification timezone.
func (n NotifierConfig) Location() (*time.Location, error) {
	return time.LoadLocation(n.Timezone)
}

// EmailChannelConfig converts the email section for the notify package.
func (n NotifierConfig) EmailChannelConfig() notify.EmailConfig {
	return notify.EmailConfig{
		Host:     n.Email.Host,
		Port:     n.Email.Port,
		Username: n.Email.Username,
		Password: n.Email.Password,
		From:     n.Email.From,
		To:       n.Email.To,
		StartTLS: n.Email.StartTLS,
		Timeout:  n.SendTimeout,
	}
}

// BreakerSettings converts the breaker section for the notify package.
func (n NotifierConfig) BreakerSettings() notify.BreakerConfig {
	return notify.BreakerConfig{
		FailureThreshold: n.Breaker.FailureThreshold,
		Timeout:          n.Breaker.Timeout,
		MaxRequests:      n.Breaker.MaxRequests,
	}
}
