// Package exporter serves cached Polestar vehicle data over HTTP and Prometheus, and keeps the
// cache warm by refreshing vehicles on a fixed interval.
package exporter

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/pkg/account"
	"github.com/polestar-community/polestar-go/pkg/sensor"
)

// DefaultInterval is the time between poll ticks.
const DefaultInterval = 30 * time.Second

var logger = log.Named("exporter")

// Account is the subset of *account.Account used by the exporter.
type Account interface {
	sensor.Reader
	VINs() []string
	Vehicle(vin string) (*account.Vehicle, bool)
	Refresh(ctx context.Context, vin string)
	LastCallStatus(endpoint string) (int, bool)
	TokenExpiry() (time.Time, bool)
	Connected() bool
	State() string
	NextUpdate() time.Time
}

var _ Account = (*account.Account)(nil)

// Hook runs after each poll of vin.
type Hook func(ctx context.Context, vin string)

// Poller refreshes one vehicle per tick, cycling through the account's VINs. The account
// throttles refreshes account-wide, so refreshing every VIN on every tick would starve all but the
// first.
type Poller struct {
	acct     Account
	interval time.Duration
	clock    clock.WithTicker

	lock  sync.Mutex
	next  int
	hooks []Hook
}

// NewPoller returns a Poller. A non-positive interval selects DefaultInterval and a nil clock
// selects the system clock.
func NewPoller(acct Account, interval time.Duration, c clock.WithTicker) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &Poller{acct: acct, interval: interval, clock: c}
}

// OnPoll registers hook to run after each poll.
func (p *Poller) OnPoll(hook Hook) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.hooks = append(p.hooks, hook)
}

// Poll refreshes the next VIN in rotation and runs the registered hooks. It returns the VIN that
// was polled, or an empty string if the account has no vehicles.
func (p *Poller) Poll(ctx context.Context) string {
	vins := p.acct.VINs()
	if len(vins) == 0 {
		return ""
	}

	p.lock.Lock()
	vin := vins[p.next%len(vins)]
	p.next = (p.next + 1) % len(vins)
	hooks := make([]Hook, len(p.hooks))
	copy(hooks, p.hooks)
	p.lock.Unlock()

	logger.Debug("Polling %s", vin)
	p.acct.Refresh(ctx, vin)
	for _, hook := range hooks {
		hook(ctx, vin)
	}
	return vin
}

// Start polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	logger.Info("Polling every %s", p.interval)
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			p.Poll(ctx)
		}
	}
}
