// Package options holds the configuration of polestar-exporter. Values come from flags, a YAML
// config file, and POLESTAR_-prefixed environment variables, in that order of precedence.
package options

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/pkg/account"
	"github.com/polestar-community/polestar-go/pkg/cache"
	"github.com/polestar-community/polestar-go/pkg/cli"
	"github.com/polestar-community/polestar-go/pkg/exporter"
	"github.com/polestar-community/polestar-go/pkg/publish"
)

// EnvPrefix prefixes every environment variable read by the exporter, e.g.
// POLESTAR_ACCOUNT_USERNAME for account.username.
const EnvPrefix = "POLESTAR"

// AccountOptions select the Polestar account and its vehicles.
type AccountOptions struct {
	Username      string        `json:"username" mapstructure:"username"`
	Password      string        `json:"password" mapstructure:"password"`
	TokenFile     string        `json:"token-file" mapstructure:"token-file"`
	VINs          []string      `json:"vins" mapstructure:"vins"`
	CacheTTL      time.Duration `json:"cache-ttl" mapstructure:"cache-ttl"`
	Cooldown      time.Duration `json:"cooldown" mapstructure:"cooldown"`
	KeyringType   string        `json:"keyring-type" mapstructure:"keyring-type"`
	KeyringDir    string        `json:"keyring-file-dir" mapstructure:"keyring-file-dir"`
	SignInTimeout time.Duration `json:"sign-in-timeout" mapstructure:"sign-in-timeout"`
}

func (o *AccountOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Username, "account.username", o.Username, "Polestar ID email address.")
	fs.StringVar(&o.Password, "account.password", o.Password, "Polestar ID password. Prefer the keyring or $POLESTAR_ACCOUNT_PASSWORD.")
	fs.StringVar(&o.TokenFile, "account.token-file", o.TokenFile, "File containing a bearer token to use instead of signing in.")
	fs.StringSliceVar(&o.VINs, "account.vins", o.VINs, "Restrict the exporter to these VINs (default: all vehicles).")
	fs.DurationVar(&o.CacheTTL, "account.cache-ttl", o.CacheTTL, "Maximum age of cached telemetry.")
	fs.DurationVar(&o.Cooldown, "account.cooldown", o.Cooldown, "Minimum time between refresh cycles.")
	fs.StringVar(&o.KeyringType, "account.keyring-type", o.KeyringType, "Keyring backend holding the password.")
	fs.StringVar(&o.KeyringDir, "account.keyring-file-dir", o.KeyringDir, "Directory for file-backed keyrings.")
	fs.DurationVar(&o.SignInTimeout, "account.sign-in-timeout", o.SignInTimeout, "Timeout for signing in and loading vehicles.")
}

func (o *AccountOptions) Validate() []error {
	var errs []error
	if o.Username == "" && o.TokenFile == "" {
		errs = append(errs, errors.New("account.username or account.token-file is required"))
	}
	if o.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("account.cache-ttl must not be negative"))
	}
	if o.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("account.cooldown must not be negative"))
	}
	var vins cli.VINList
	for _, vin := range o.VINs {
		if err := vins.Set(vin); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// CLIConfig converts o to a cli.Config. Values missing from o are filled from the POLESTAR_*
// variables understood by the other tools.
func (o *AccountOptions) CLIConfig() (*cli.Config, error) {
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		return nil, err
	}
	config.Username = o.Username
	config.TokenFilename = o.TokenFile
	config.TTL = o.CacheTTL
	config.Cooldown = o.Cooldown
	for _, vin := range o.VINs {
		if err := config.VINs.Set(vin); err != nil {
			return nil, err
		}
	}
	if o.Password != "" {
		if err := config.SetPassword(o.Password); err != nil {
			return nil, err
		}
	}
	if err := config.BackendType.Set(o.KeyringType); err != nil {
		return nil, fmt.Errorf("account.keyring-type: %w", err)
	}
	if o.KeyringDir != "" {
		config.Backend.FileDir = o.KeyringDir
	}
	config.ReadFromEnvironment()
	return config, nil
}

// HTTPOptions configure the REST and metrics server.
type HTTPOptions struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

func (o *HTTPOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Listen address for the REST API, /metrics and /healthz.")
}

func (o *HTTPOptions) Validate() []error {
	if o.Addr == "" {
		return []error{errors.New("http.addr is required")}
	}
	return nil
}

// PollOptions configure the refresh schedule.
type PollOptions struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

func (o *PollOptions) AddFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&o.Interval, "poll.interval", o.Interval, "Time between refreshes. Vehicles are refreshed one per interval in turn.")
}

func (o *PollOptions) Validate() []error {
	if o.Interval <= 0 {
		return []error{errors.New("poll.interval must be positive")}
	}
	return nil
}

// MqttOptions wraps publish.Config with flags. An empty broker URL disables MQTT.
type MqttOptions struct {
	publish.Config `mapstructure:",squash"`
}

func (o *MqttOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.BrokerURL, "mqtt.broker-url", o.BrokerURL, "MQTT broker URL, e.g. mqtt://localhost:1883. Empty disables publishing.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "MQTT client identifier.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "MQTT username.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "MQTT password.")
	fs.StringVar(&o.Root, "mqtt.root", o.Root, "Topic prefix; values are published to {root}/{vin}/{sensor}.")
	fs.Uint8Var(&o.QoS, "mqtt.qos", o.QoS, "QoS of published messages.")
	fs.Uint16Var(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT keep-alive in seconds.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing the MQTT connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS certificate verification.")
}

func (o *MqttOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}
	if err := o.Config.Validate(); err != nil {
		return []error{fmt.Errorf("mqtt: %w", err)}
	}
	return nil
}

// LogOptions configure internal/log.
type LogOptions struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

func (o *LogOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum log level (debug, info, warn, error, none).")
	fs.StringVar(&o.Format, "log.format", o.Format, "Log output format (console or json).")
}

func (o *LogOptions) Validate() []error {
	var errs []error
	if _, ok := log.ParseLevel(o.Level); !ok {
		errs = append(errs, fmt.Errorf("unknown log.level '%s'", o.Level))
	}
	if o.Format != "console" && o.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log.format '%s'", o.Format))
	}
	return errs
}

// Apply configures the global logger.
func (o *LogOptions) Apply() {
	log.Init(log.Options{Format: o.Format, Output: os.Stderr})
	if level, ok := log.ParseLevel(o.Level); ok {
		log.SetLevel(level)
	}
}

// ExporterOptions is the complete exporter configuration.
type ExporterOptions struct {
	Account *AccountOptions `json:"account" mapstructure:"account"`
	HTTP    *HTTPOptions    `json:"http" mapstructure:"http"`
	Poll    *PollOptions    `json:"poll" mapstructure:"poll"`
	Mqtt    *MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	Log     *LogOptions     `json:"log" mapstructure:"log"`
}

func NewExporterOptions() *ExporterOptions {
	return &ExporterOptions{
		Account: &AccountOptions{
			CacheTTL:      cache.DefaultTTL,
			Cooldown:      account.DefaultCooldown,
			SignInTimeout: time.Minute,
		},
		HTTP: &HTTPOptions{Addr: ":9465"},
		Poll: &PollOptions{Interval: exporter.DefaultInterval},
		Mqtt: &MqttOptions{Config: publish.Config{Root: publish.DefaultRoot, KeepAlive: 60, ConnectTimeout: 5 * time.Second}},
		Log:  &LogOptions{Level: "info", Format: "console"},
	}
}

// AddFlags adds every option to fs.
func (o *ExporterOptions) AddFlags(fs *pflag.FlagSet) {
	o.Account.AddFlags(fs)
	o.HTTP.AddFlags(fs)
	o.Poll.AddFlags(fs)
	o.Mqtt.AddFlags(fs)
	o.Log.AddFlags(fs)
}

func (o *ExporterOptions) Validate() error {
	var errs []error
	errs = append(errs, o.Account.Validate()...)
	errs = append(errs, o.HTTP.Validate()...)
	errs = append(errs, o.Poll.Validate()...)
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errors.Join(errs...)
}

// Load merges flags, the config file (if any) and the environment into o and validates the
// result.
func (o *ExporterOptions) Load(v *viper.Viper, fs *pflag.FlagSet, configFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := v.Unmarshal(o); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return o.Validate()
}
