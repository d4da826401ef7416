package publish

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// Status payloads written to {root}/status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Config describes the broker connection.
type Config struct {
	BrokerURL string `mapstructure:"broker-url" json:"broker-url" yaml:"broker-url"`
	ClientID  string `mapstructure:"client-id" json:"client-id" yaml:"client-id"`
	Username  string `mapstructure:"username" json:"username" yaml:"username"`
	Password  string `mapstructure:"password" json:"password" yaml:"password"`
	Root      string `mapstructure:"root" json:"root" yaml:"root"`
	QoS       byte   `mapstructure:"qos" json:"qos" yaml:"qos"`

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16 `mapstructure:"keep-alive" json:"keep-alive" yaml:"keep-alive"`

	// ConnectTimeout defaults to 5s.
	ConnectTimeout time.Duration `mapstructure:"connect-timeout" json:"connect-timeout" yaml:"connect-timeout"`

	InsecureSkipVerify bool `mapstructure:"insecure-skip-verify" json:"insecure-skip-verify" yaml:"insecure-skip-verify"`
}

// Enabled reports whether a broker is configured.
func (c *Config) Enabled() bool {
	return c.BrokerURL != ""
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("broker url %q needs a scheme and host", c.BrokerURL)
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid qos %d", c.QoS)
	}
	return nil
}

func (c *Config) root() string {
	if c.Root == "" {
		return DefaultRoot
	}
	return c.Root
}

func (c *Config) statusTopic() string {
	return c.root() + "/status"
}

// clientConfig builds the autopaho configuration. A retained "offline" will message is left on
// the status topic if the connection drops; OnConnectionUp replaces it with "online".
func (c *Config) clientConfig() (autopaho.ClientConfig, error) {
	if err := c.Validate(); err != nil {
		return autopaho.ClientConfig{}, fmt.Errorf("invalid mqtt config: %w", err)
	}
	brokerURL, _ := url.Parse(c.BrokerURL)

	keepAlive := c.KeepAlive
	if keepAlive == 0 {
		keepAlive = 60
	}
	connectTimeout := c.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 5 * time.Second
	}
	clientID := c.ClientID
	if clientID == "" {
		clientID = "polestar-exporter"
	}
	statusTopic := c.statusTopic()
	qos := c.QoS

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     keepAlive,
		CleanStartOnInitialConnection: true,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                connectTimeout,
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.InsecureSkipVerify,
		},
		WillMessage: &paho.WillMessage{
			Topic:   statusTopic,
			Payload: []byte(StatusOffline),
			QoS:     qos,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, ack *paho.Connack) {
			logger.Info("MQTT connection established")
			_, err := cm.Publish(context.Background(), &paho.Publish{
				Topic:   statusTopic,
				QoS:     qos,
				Retain:  true,
				Payload: []byte(StatusOnline),
			})
			if err != nil {
				logger.Warning("Failed to publish status: %s", err)
			}
		},
		OnConnectError: func(err error) {
			logger.Warning("MQTT connection failed, retrying: %s", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnClientError: func(err error) {
				logger.Error("MQTT client error: %s", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					logger.Warning("MQTT server requested disconnect: %s", d.Properties.ReasonString)
				} else {
					logger.Warning("MQTT server requested disconnect; reason code %d", d.ReasonCode)
				}
			},
		},
	}
	if c.Username != "" {
		cfg.ConnectUsername = c.Username
		cfg.ConnectPassword = []byte(c.Password)
	}
	return cfg, nil
}

// Connect starts a connection manager for the broker. The connection is retried in the
// background until ctx is cancelled.
func Connect(ctx context.Context, c Config) (*autopaho.ConnectionManager, error) {
	cfg, err := c.clientConfig()
	if err != nil {
		return nil, err
	}
	logger.Info("Connecting to MQTT broker %s as %s", c.BrokerURL, cfg.ClientConfig.ClientID)
	return autopaho.NewConnection(ctx, cfg)
}

// Run connects to the broker, registers a Publisher with register, and blocks until ctx is
// cancelled. The connection is closed on return.
func Run(ctx context.Context, c Config, src Source, register func(*Publisher)) error {
	cm, err := Connect(ctx, c)
	if err != nil {
		return err
	}
	register(New(src, cm, c.root(), c.QoS))

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = cm.Publish(shutdownCtx, &paho.Publish{
		Topic:   c.statusTopic(),
		QoS:     c.QoS,
		Retain:  true,
		Payload: []byte(StatusOffline),
	})
	if err := cm.Disconnect(shutdownCtx); err != nil {
		logger.Warning("MQTT disconnect: %s", err)
	}
	logger.Info("MQTT client disconnected")
	return nil
}
