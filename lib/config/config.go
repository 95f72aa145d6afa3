package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"stagectl/lib/deck"
	"stagectl/lib/kasa"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Show     ShowConfig     `yaml:"show"`
	Devices  DevicesConfig  `yaml:"devices"`
	MIDI     MIDIConfig     `yaml:"midi"`
	Sequence SequenceConfig `yaml:"sequence"`
	NATS     NATSConfig     `yaml:"nats"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Deck     DeckConfig     `yaml:"deck"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type APIConfig struct {
	Listen      string   `yaml:"listen"`
	StaticDir   string   `yaml:"static_dir"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StorageConfig selects the show repository: "file" keeps one JSON file per
// show under Dir, "postgres" keeps them in Table.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// ShowConfig names the show loaded at boot. File, when set, is imported
// into the repository first.
type ShowConfig struct {
	ID   string `yaml:"id"`
	File string `yaml:"file"`
}

type DevicesConfig struct {
	Driver         string        `yaml:"driver"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxParallel    int           `yaml:"max_parallel"`
	RefreshOnStart bool          `yaml:"refresh_on_start"`
	Inventory      []kasa.Plug   `yaml:"inventory"`
}

type MIDIConfig struct {
	Input        string        `yaml:"input"`
	Output       string        `yaml:"output"`
	Loopback     bool          `yaml:"loopback"`
	Feedback     bool          `yaml:"feedback"`
	RescanPeriod time.Duration `yaml:"rescan_period"`
}

type SequenceConfig struct {
	Tick time.Duration `yaml:"tick"`
}

type NATSConfig struct {
	URL               string        `yaml:"url"`
	Name              string        `yaml:"name"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type DeckConfig struct {
	Enabled    bool           `yaml:"enabled"`
	Brightness byte           `yaml:"brightness"`
	Bindings   []deck.Binding `yaml:"bindings"`
}

func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
		if c.Storage.Driver == "" {
			c.Storage.Driver = "postgres"
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if showID := os.Getenv("STAGECTL_SHOW"); showID != "" {
		c.Show.ID = showID
	}

	if input := os.Getenv("MIDI_INPUT"); input != "" {
		c.MIDI.Input = input
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if len(c.API.CORSOrigins) == 0 {
		c.API.CORSOrigins = []string{"*"}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "shows"
	}
	if c.Storage.Table == "" {
		c.Storage.Table = "shows"
	}
	if c.Devices.Driver == "" {
		c.Devices.Driver = "kasa"
	}
	if c.Devices.Timeout == 0 {
		c.Devices.Timeout = 5 * time.Second
	}
	if c.MIDI.RescanPeriod == 0 {
		c.MIDI.RescanPeriod = 2 * time.Second
	}
	if c.Sequence.Tick == 0 {
		c.Sequence.Tick = 50 * time.Millisecond
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "stagectl"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "stagectl"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "stagectl"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "stagectl"
	}
	if c.Deck.Brightness == 0 {
		c.Deck.Brightness = 80
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "file":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage: postgres driver needs a dsn")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}

	switch c.Devices.Driver {
	case "kasa", "fake":
	default:
		return fmt.Errorf("devices: unknown driver %q", c.Devices.Driver)
	}

	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt: qos %d out of range", c.MQTT.QoS)
	}

	seen := map[int]bool{}
	for _, b := range c.Deck.Bindings {
		if seen[b.Key] {
			return fmt.Errorf("deck: key %d bound twice", b.Key)
		}
		seen[b.Key] = true
	}
	return nil
}
