// Package account keeps a cached view of the vehicles in a Polestar account.
//
// An [Account] signs in, loads the account's vehicle inventory, and refreshes odometer and
// battery telemetry on request. Consumers read individual fields from the cache with
// [Account.GetValue]. Initialization failures are returned to the caller; refresh failures are
// logged and leave the cache unchanged.
package account

import (
	"context"
	_ "embed" // Used to embed version for use with user agent
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/pkg/cache"
	"github.com/polestar-community/polestar-go/pkg/connector"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
	"github.com/polestar-community/polestar-go/pkg/protocol"
)

var (
	//go:embed version.txt
	libraryVersion string
)

// UserAgent builds a User-Agent header value from app and the library version. If app is empty,
// the name and version of the running binary are used.
func UserAgent(app string) string {
	library := strings.TrimSpace("polestar-go/" + libraryVersion)
	build, ok := debug.ReadBuildInfo()
	if !ok {
		if app == "" {
			return library
		}
		return fmt.Sprintf("%s %s", app, library)
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 {
		return library
	}

	if app == "" {
		app = path[len(path)-1]
		var version string
		if build.Main.Version != "(devel)" && build.Main.Version != "" {
			version = build.Main.Version
		} else {
			for _, info := range build.Settings {
				if info.Key == "vcs.revision" {
					if len(info.Value) > 8 {
						version = info.Value[0:8]
					}
					break
				}
			}
		}

		if version != "" {
			app = fmt.Sprintf("%s/%s", app, version)
		}
	}
	if app == "" {
		return library
	}
	return fmt.Sprintf("%s %s", app, library)
}

// TokenSource supplies bearer tokens and owns the mechanics of refreshing them.
type TokenSource interface {
	// Init performs the initial sign-in.
	Init(ctx context.Context) error

	// Token returns the current access token, or an empty string if none is held.
	Token() string

	// Expiry returns the expiry of the current access token. The second return value is false if
	// the expiry is unknown.
	Expiry() (time.Time, bool)

	// Refresh obtains a new token. When useRefreshToken is true, implementations should exchange
	// the refresh token if they hold a valid one; otherwise they sign in again. Failures are
	// returned as *protocol.AuthError.
	Refresh(ctx context.Context, useRefreshToken bool) error
}

// DefaultCooldown is the minimum spacing between the end of one refresh cycle and the start of
// the next.
const DefaultCooldown = 5 * time.Second

// tokenRefreshMargin is how close to expiry a token may get before a refresh cycle renews it.
const tokenRefreshMargin = 300 * time.Second

// Config tunes an Account. The zero value is usable.
type Config struct {
	// VINs restricts the account to a subset of its vehicles. Empty means all vehicles.
	VINs []string
	// TTL is the maximum age of cached telemetry. Defaults to cache.DefaultTTL.
	TTL time.Duration
	// Cooldown defaults to DefaultCooldown.
	Cooldown time.Duration
	// Name scopes log lines, for example when a process serves several accounts.
	Name string
	// Clock defaults to the system clock.
	Clock clock.PassiveClock
}

// Account is a caching client for the vehicles in a Polestar account.
type Account struct {
	tokens    TokenSource
	transport connector.Transport
	table     *cache.Table
	clock     clock.PassiveClock
	cooldown  time.Duration
	subset    map[string]bool
	log       *log.Logger

	guard *fsm.FSM

	lock       sync.RWMutex
	vins       []string
	vehicles   map[string]*Vehicle
	nextUpdate time.Time
}

// New returns an Account. Call [Account.Initialize] before use.
func New(tokens TokenSource, transport connector.Transport, config Config) *Account {
	c := config.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	cooldown := config.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	var subset map[string]bool
	for _, vin := range config.VINs {
		if vin = NormalizeVIN(vin); vin != "" {
			if subset == nil {
				subset = make(map[string]bool)
			}
			subset[vin] = true
		}
	}
	a := &Account{
		tokens:    tokens,
		transport: transport,
		table:     cache.New(config.TTL, c),
		clock:     c,
		cooldown:  cooldown,
		subset:    subset,
		log:       log.Named("account").Named(config.Name),
		vehicles:  make(map[string]*Vehicle),
	}
	a.guard = newRefreshGuard(a.log)
	return a
}

// Initialize signs in and loads the vehicle inventory. Vehicles outside the configured subset are
// ignored. Errors are returned unmodified in kind: *protocol.AuthError, protocol.ErrNoData, or
// whatever the transport classified.
func (a *Account) Initialize(ctx context.Context) error {
	if err := a.tokens.Init(ctx); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	if a.tokens.Token() == "" {
		a.log.Warning("No access token after sign-in")
		return protocol.NewAuthError(0, protocol.ErrNoToken)
	}

	records, err := a.fetchVehicles(ctx)
	if err != nil {
		return err
	}

	var vins []string
	vehicles := make(map[string]*Vehicle)
	for _, record := range records {
		vehicle, err := newVehicle(record)
		if err != nil {
			a.log.Warning("Skipping vehicle: %s", err)
			continue
		}
		if a.subset != nil && !a.subset[vehicle.VIN] {
			a.log.Debug("Skipping unconfigured VIN %s", vehicle.VIN)
			continue
		}
		if _, ok := vehicles[vehicle.VIN]; ok {
			continue
		}
		vins = append(vins, vehicle.VIN)
		vehicles[vehicle.VIN] = vehicle
		a.table.Put(vehicle.VIN, cache.CarInfo, vehicle.Data)
		a.log.Debug("API setup for VIN %s", vehicle.VIN)
	}
	if len(vins) == 0 && a.subset != nil {
		a.log.Warning("None of the configured VINs were found in the account")
	}

	a.lock.Lock()
	a.vins = vins
	a.vehicles = vehicles
	a.lock.Unlock()
	return nil
}

// VINs returns the account's VINs in inventory order.
func (a *Account) VINs() []string {
	a.lock.RLock()
	defer a.lock.RUnlock()
	vins := make([]string, len(a.vins))
	copy(vins, a.vins)
	return vins
}

// Vehicle returns the inventory record for vin.
func (a *Account) Vehicle(vin string) (*Vehicle, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	vehicle, ok := a.vehicles[NormalizeVIN(vin)]
	return vehicle, ok
}

// GetValue resolves path against the cached payload of kind for vin. Telemetry older than the
// TTL is reported as cache.Missing unless skipTTL is set.
func (a *Account) GetValue(vin string, kind cache.Kind, path string, skipTTL bool) (interface{}, cache.Status) {
	return a.table.Get(NormalizeVIN(vin), kind, path, skipTTL)
}

// GetCachedValue is GetValue with the TTL enforced.
func (a *Account) GetCachedValue(vin string, kind cache.Kind, path string) (interface{}, cache.Status) {
	return a.GetValue(vin, kind, path, false)
}

// LastCallStatus returns the HTTP status of the most recent call to endpoint.
func (a *Account) LastCallStatus(endpoint string) (int, bool) {
	return a.transport.LastStatus(endpoint)
}

// TokenExpiry returns the expiry of the current access token.
func (a *Account) TokenExpiry() (time.Time, bool) {
	return a.tokens.Expiry()
}

// Connected reports whether the most recent data and auth calls succeeded and the access token
// is unexpired. Endpoints that have not been called yet count as healthy, except the inventory
// endpoint, which Initialize always calls.
func (a *Account) Connected() bool {
	code, ok := a.transport.LastStatus(graphql.BaseURL)
	if !ok || code != http.StatusOK {
		return false
	}
	for _, endpoint := range []string{graphql.BaseURLV2, graphql.AuthURL} {
		if code, ok := a.transport.LastStatus(endpoint); ok && code != http.StatusOK {
			return false
		}
	}
	expiry, ok := a.tokens.Expiry()
	return ok && a.clock.Now().Before(expiry)
}

// NextUpdate returns the earliest time at which a refresh cycle may start. The zero time means
// no cycle has completed.
func (a *Account) NextUpdate() time.Time {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.nextUpdate
}

// Snapshot returns a copy of the cache.
func (a *Account) Snapshot() map[string]map[cache.Kind]cache.Entry {
	return a.table.Snapshot()
}

// Dump writes the cache to w as JSON.
func (a *Account) Dump(w io.Writer) error {
	return a.table.Export(w)
}

// DumpToFile writes the cache to filename as JSON.
func (a *Account) DumpToFile(filename string) error {
	return a.table.ExportToFile(filename)
}

func (a *Account) fetch(ctx context.Context, endpoint string, req connector.Request, kind cache.Kind) (interface{}, error) {
	data, err := a.transport.Execute(ctx, endpoint, req, a.tokens.Token())
	if err != nil {
		return nil, err
	}
	value, ok := data[string(kind)]
	if !ok {
		return nil, &protocol.APIError{
			Operation: req.OperationName,
			Code:      http.StatusOK,
			Message:   fmt.Sprintf("response has no %s field", kind),
		}
	}
	return value, nil
}

func (a *Account) fetchVehicles(ctx context.Context) ([]map[string]interface{}, error) {
	value, err := a.fetch(ctx, graphql.BaseURL, vehiclesRequest(), cache.CarInfo)
	if err != nil {
		return nil, err
	}
	list, _ := value.([]interface{})
	if len(list) == 0 {
		a.log.Error("No cars found in account")
		return nil, protocol.ErrNoData
	}
	records := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if record, ok := item.(map[string]interface{}); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func (a *Account) fetchOdometer(ctx context.Context, vin string) error {
	value, err := a.fetch(ctx, graphql.BaseURLV2, odometerRequest(vin), cache.Odometer)
	if err != nil {
		return err
	}
	a.table.Put(vin, cache.Odometer, value)
	return nil
}

func (a *Account) fetchBattery(ctx context.Context, vin string) error {
	value, err := a.fetch(ctx, graphql.BaseURLV2, batteryRequest(vin), cache.Battery)
	if err != nil {
		return err
	}
	a.table.Put(vin, cache.Battery, value)
	return nil
}
