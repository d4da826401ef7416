package account

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/internal/metrics"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
	"github.com/polestar-community/polestar-go/pkg/protocol"
)

// Refresh guard states and events.
const (
	StateIdle       = "idle"
	StateRefreshing = "refreshing"

	eventBegin  = "begin"
	eventFinish = "finish"
)

func newRefreshGuard(logger *log.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventBegin, Src: []string{StateIdle}, Dst: StateRefreshing},
			{Name: eventFinish, Src: []string{StateRefreshing}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("Refresh %s -> %s", e.Src, e.Dst)
			},
		},
	)
}

// State returns the state of the refresh guard, StateIdle or StateRefreshing.
func (a *Account) State() string {
	return a.guard.Current()
}

// Refresh fetches odometer and battery telemetry for vin and stores it in the cache.
//
// At most one refresh runs at a time: a call made while another is in flight returns immediately,
// as does a call made within the cool-down window after the previous cycle completed. Refresh
// never fails; errors are logged and the affected cache entries keep their previous values. The
// latest call status of each endpoint reflects what went wrong.
func (a *Account) Refresh(ctx context.Context, vin string) {
	vin = NormalizeVIN(vin)
	if _, ok := a.Vehicle(vin); !ok {
		a.log.Warning("Skipping update for unknown VIN %s", vin)
		metrics.RefreshCycle(metrics.OutcomeUnknownVIN)
		return
	}

	if err := a.guard.Event(ctx, eventBegin); err != nil {
		a.log.Debug("Skipping update, already in progress")
		metrics.RefreshCycle(metrics.OutcomeBusy)
		return
	}
	defer func() {
		if err := a.guard.Event(context.Background(), eventFinish); err != nil {
			a.log.Error("Failed to release refresh guard: %s", err)
		}
	}()

	if next := a.NextUpdate(); !next.IsZero() && next.After(a.clock.Now()) {
		a.log.Debug("Skipping update, next update at %s", next)
		metrics.RefreshCycle(metrics.OutcomeThrottled)
		return
	}

	cycle := uuid.NewString()
	start := a.clock.Now()
	a.log.Debug("Starting update %s for VIN %s", cycle, vin)

	if err := a.ensureToken(ctx); err != nil {
		a.transport.SetStatus(graphql.BaseURL, http.StatusInternalServerError)
		a.log.Warning("Auth error in update %s: %s", cycle, err)
		metrics.RefreshCycle(metrics.OutcomeAuthFailed)
		return
	}

	a.attempt(ctx, "odometer", func(ctx context.Context) error { return a.fetchOdometer(ctx, vin) })
	a.attempt(ctx, "battery", func(ctx context.Context) error { return a.fetchBattery(ctx, vin) })

	a.lock.Lock()
	a.nextUpdate = a.clock.Now().Add(a.cooldown)
	a.lock.Unlock()

	metrics.RefreshCycle(metrics.OutcomeCompleted)
	a.log.Debug("Update %s took %s", cycle, a.clock.Since(start))
}

// ensureToken renews the access token if it is close to expiry.
func (a *Account) ensureToken(ctx context.Context) error {
	expiry, ok := a.tokens.Expiry()
	if !ok {
		return protocol.NewAuthError(http.StatusInternalServerError, protocol.ErrNoExpiry)
	}
	if expiry.Sub(a.clock.Now()) < tokenRefreshMargin {
		a.log.Debug("Access token expires at %s; refreshing", expiry)
		return a.tokens.Refresh(ctx, true)
	}
	return nil
}

// attempt runs fetch and absorbs its failure. A rejected token triggers a single sign-in; the
// fetch itself is not retried.
func (a *Account) attempt(ctx context.Context, name string, fetch func(context.Context) error) {
	err := fetch(ctx)
	switch {
	case err == nil:
	case protocol.IsUnauthorized(err):
		a.log.Info("Access token rejected while fetching %s data; signing in again", name)
		if err := a.tokens.Refresh(ctx, false); err != nil {
			a.log.Warning("Re-authentication failed: %s", err)
		}
	default:
		a.transport.SetStatus(graphql.BaseURLV2, http.StatusInternalServerError)
		a.log.Warning("Failed to get %s data: %s", name, err)
	}
}
