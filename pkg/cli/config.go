/*
Package cli facilitates building command-line applications that read Polestar vehicle data. It
defines a [Config] type that can be used to register common command-line flags (using the Golang
flag package) and environment variable equivalents.

The package uses [keyring]'s platform-agnostic interface for storing sensitive values (the account
password) in an OS-dependent credential store.

# Examples

	import flag

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for credentials, VINs, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	config.LoadCredentials()          // Prompt for Keyring password if needed

	// Signs in and loads the vehicle inventory.
	acct, err := config.Account(ctx)
	if err != nil {
		panic(err)
	}
	defer config.SaveCache(acct)

Instead of a username and password, a bearer token can be read from a file. Tokens loaded this way
cannot be refreshed, so the account stops working once the token expires:

	config, err = NewConfig(FlagToken | FlagVIN)
*/
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/99designs/keyring"

	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/pkg/account"
	"github.com/polestar-community/polestar-go/pkg/auth"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
)

const vinLength = 17

// VINList is used to collect VINs provided at the command line.
type VINList []string

// Set adds one or more comma-separated VINs to a VINList.
func (v *VINList) Set(value string) error {
	for _, item := range strings.Split(value, ",") {
		vin := account.NormalizeVIN(item)
		if vin == "" {
			continue
		}
		if len(vin) != vinLength {
			return fmt.Errorf("invalid VIN '%s': expected %d characters", item, vinLength)
		}
		for _, r := range vin {
			if (r < '0' || r > '9') && (r < 'A' || r > 'Z') {
				return fmt.Errorf("invalid VIN '%s': unexpected character %q", item, r)
			}
		}
		*v = append(*v, vin)
	}
	return nil
}

func (v *VINList) String() string {
	if v == nil {
		return ""
	}
	return strings.Join(*v, ",")
}

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvPolestarUsername     = "POLESTAR_USERNAME"
	EnvPolestarPassword     = "POLESTAR_PASSWORD"
	EnvPolestarVIN          = "POLESTAR_VIN"
	EnvPolestarTokenFile    = "POLESTAR_TOKEN_FILE"
	EnvPolestarCacheFile    = "POLESTAR_CACHE_FILE"
	EnvPolestarCacheTTL     = "POLESTAR_CACHE_TTL"
	EnvPolestarCooldown     = "POLESTAR_COOLDOWN"
	EnvPolestarKeyringType  = "POLESTAR_KEYRING_TYPE"
	EnvPolestarKeyringPass  = "POLESTAR_KEYRING_PASSWORD"
	EnvPolestarKeyringPath  = "POLESTAR_KEYRING_PATH"
	EnvPolestarKeyringDebug = "POLESTAR_KEYRING_DEBUG"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagVIN         Flag = 1 // Enable VIN subset option.
	FlagCredentials Flag = 2 // Enable username/password options.
	FlagToken       Flag = 4 // Enable static token file option.
	FlagCache       Flag = 8 // Enable cache TTL, cool-down and dump options.
	FlagAll         Flag = FlagVIN | FlagCredentials | FlagToken | FlagCache
)

var (
	ErrNoCredentials = errors.New("no credentials provided (username and password, or token file)")
	ErrNoUsername    = errors.New("username not provided")
	ErrKeyNotFound   = keyring.ErrKeyNotFound
)

// Config fields determine how a client authenticates to the Polestar backend and which vehicles
// it reads.
type Config struct {
	Flags         Flag // Controls which set of environment variables/CLI flags to use.
	Username      string
	VINs          VINList
	TokenFilename string
	CacheFilename string
	TTL           time.Duration
	Cooldown      time.Duration
	Backend       keyring.Config
	BackendType   backendType
	Debug         bool // Enable keyring debug messages

	password        *string // keyring password
	accountPassword string
	tokens          account.TokenSource
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

// RegisterCommandLineFlags adds c's flags to the default flag set.
func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

// RegisterFlags adds c's flags to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	if c.Flags.isSet(FlagVIN) {
		fs.Var(&c.VINs, "vin", "Vehicle Identification Number (can be repeated; omit for all). Defaults to $POLESTAR_VIN.")
	}
	if c.Flags.isSet(FlagCredentials) {
		fs.StringVar(&c.Username, "username", "", "Polestar ID `email`. Defaults to $POLESTAR_USERNAME.")
	}
	if c.Flags.isSet(FlagToken) {
		fs.StringVar(&c.TokenFilename, "token-file", "", "`File` containing a bearer token. Defaults to $POLESTAR_TOKEN_FILE.")
	}
	if c.Flags.isSet(FlagCache) {
		fs.DurationVar(&c.TTL, "cache-ttl", 0, "Maximum age of cached telemetry. Defaults to $POLESTAR_CACHE_TTL or 5m.")
		fs.DurationVar(&c.Cooldown, "cooldown", 0, "Minimum time between refresh cycles. Defaults to $POLESTAR_COOLDOWN or 5s.")
		fs.StringVar(&c.CacheFilename, "cache-dump", "", "Write the cache to `file` on exit. Defaults to $POLESTAR_CACHE_FILE.")
	}
	if c.Flags.isSet(FlagCredentials) {
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		fs.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $POLESTAR_KEYRING_TYPE.")
		fs.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		fs.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
}

// LoadCredentials loads the account password, prompting for a keyring password if needed. Call
// this method before [Config.Account] to prevent interactive prompts from counting against
// timeouts.
func (c *Config) LoadCredentials() error {
	if c.Flags.isSet(FlagToken) && c.TokenFilename != "" {
		return nil
	}
	if !c.Flags.isSet(FlagCredentials) {
		return ErrNoCredentials
	}
	_, err := c.Password()
	return err
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagVIN) {
		if len(c.VINs) == 0 {
			if err := c.VINs.Set(os.Getenv(EnvPolestarVIN)); err != nil {
				log.Warning("Ignoring $%s: %s", EnvPolestarVIN, err)
				c.VINs = nil
			}
			log.Debug("Set VINs to '%s'", c.VINs.String())
		}
	}
	if c.Flags.isSet(FlagToken) {
		if c.TokenFilename == "" {
			c.TokenFilename = os.Getenv(EnvPolestarTokenFile)
			log.Debug("Set token file to '%s'", c.TokenFilename)
		}
	}
	if c.Flags.isSet(FlagCache) {
		if c.TTL == 0 {
			c.TTL = durationFromEnv(EnvPolestarCacheTTL)
		}
		if c.Cooldown == 0 {
			c.Cooldown = durationFromEnv(EnvPolestarCooldown)
		}
		if c.CacheFilename == "" {
			c.CacheFilename = os.Getenv(EnvPolestarCacheFile)
			log.Debug("Set cache dump file to '%s'", c.CacheFilename)
		}
	}
	if c.Flags.isSet(FlagCredentials) {
		if c.Username == "" {
			c.Username = os.Getenv(EnvPolestarUsername)
			log.Debug("Set username to '%s'", c.Username)
		}
		if c.accountPassword == "" {
			c.accountPassword = os.Getenv(EnvPolestarPassword)
			if len(c.accountPassword) > 0 {
				log.Debug("Set account password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvPolestarKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvPolestarKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvPolestarKeyringPath)
			log.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvPolestarKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
}

func durationFromEnv(name string) time.Duration {
	value := os.Getenv(name)
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warning("Ignoring $%s: %s", name, err)
		return 0
	}
	log.Debug("Set %s to %s", name, d)
	return d
}

// Password returns the account password, loading it from the system keyring if it was not
// provided in the environment.
func (c *Config) Password() (string, error) {
	if c.accountPassword != "" {
		return c.accountPassword, nil
	}
	if c.Username == "" {
		return "", ErrNoUsername
	}
	password, err := c.LoadPasswordFromKeyring()
	if err != nil {
		return "", err
	}
	c.accountPassword = password
	return password, nil
}

// SetPassword sets the account password, bypassing the environment and keyring.
func (c *Config) SetPassword(password string) error {
	if password == "" {
		return errors.New("empty password")
	}
	c.accountPassword = password
	return nil
}

// TokenSource returns the token source described by c. A token file takes precedence over a
// username and password. The returned source has not been initialized.
func (c *Config) TokenSource(transport *graphql.Client) (account.TokenSource, error) {
	if c.tokens != nil {
		return c.tokens, nil
	}
	if c.Flags.isSet(FlagToken) && c.TokenFilename != "" {
		token, err := os.ReadFile(c.TokenFilename)
		if err != nil {
			return nil, fmt.Errorf("failed to read token file: %w", err)
		}
		log.Debug("Using static token from %s", c.TokenFilename)
		c.tokens = auth.NewStatic(string(token))
		return c.tokens, nil
	}
	if !c.Flags.isSet(FlagCredentials) || c.Username == "" {
		return nil, ErrNoCredentials
	}
	password, err := c.Password()
	if err != nil {
		return nil, err
	}
	c.tokens = auth.New(c.Username, password, transport)
	return c.tokens, nil
}

// AccountConfig returns the account options described by c.
func (c *Config) AccountConfig() account.Config {
	return account.Config{
		VINs:     c.VINs,
		TTL:      c.TTL,
		Cooldown: c.Cooldown,
		Name:     c.Username,
	}
}

// Account signs in to the configured Polestar account and loads its vehicle inventory.
func (c *Config) Account(ctx context.Context) (*account.Account, error) {
	transport := graphql.NewClient(account.UserAgent(""), nil)
	tokens, err := c.TokenSource(transport)
	if err != nil {
		return nil, err
	}
	acct := account.New(tokens, transport, c.AccountConfig())
	log.Info("Signing in...")
	if err := acct.Initialize(ctx); err != nil {
		return nil, err
	}
	return acct, nil
}

// SaveCache writes the account's cache to c.CacheFilename.
//
// If c.CacheFilename is not set or acct is nil, then this method does nothing.
func (c *Config) SaveCache(acct *account.Account) {
	if c.CacheFilename != "" && acct != nil {
		if err := acct.DumpToFile(c.CacheFilename); err != nil {
			log.Error("Error writing cache: %s", err)
		}
	}
}
