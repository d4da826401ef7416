package account_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
	testclock "k8s.io/utils/clock/testing"

	"github.com/polestar-community/polestar-go/mocks"
	"github.com/polestar-community/polestar-go/pkg/account"
	"github.com/polestar-community/polestar-go/pkg/cache"
	"github.com/polestar-community/polestar-go/pkg/connector"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
	"github.com/polestar-community/polestar-go/pkg/protocol"
)

const (
	vin1  = "LPSVSEDEEML000001"
	vin2  = "LPSVSEDEEML000002"
	token = "access-token"
)

func operation(name string) gomock.Matcher {
	return gomock.Cond(func(x any) bool {
		req, ok := x.(connector.Request)
		return ok && req.OperationName == name
	})
}

func inventory(vins ...string) map[string]interface{} {
	cars := []interface{}{}
	for _, vin := range vins {
		cars = append(cars, map[string]interface{}{
			"vin":            vin,
			"registrationNo": "ABC" + vin[len(vin)-3:],
			"content": map[string]interface{}{
				"model": map[string]interface{}{"name": "Polestar 2", "code": "534"},
			},
			"software": map[string]interface{}{"version": "P3.2"},
		})
	}
	return map[string]interface{}{"getConsumerCarsV2": cars}
}

func odometer(meters float64) map[string]interface{} {
	return map[string]interface{}{
		"getOdometerData": map[string]interface{}{
			"odometerMeters":        meters,
			"averageSpeedKmPerHour": 48.0,
			"eventUpdatedTimestamp": map[string]interface{}{"iso": "2024-05-01T11:00:00Z", "unix": "1714561200"},
		},
	}
}

func battery(level float64) map[string]interface{} {
	return map[string]interface{}{
		"getBatteryData": map[string]interface{}{
			"batteryChargeLevelPercentage": level,
			"chargingStatus":               "CHARGING_STATUS_IDLE",
		},
	}
}

var _ = Describe("Account", func() {
	var (
		ctrl      *gomock.Controller
		tokens    *mocks.TokenSource
		transport *mocks.Transport
		clk       *testclock.FakePassiveClock
		ctx       context.Context
		config    account.Config
		acct      *account.Account
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		tokens = mocks.NewTokenSource(ctrl)
		transport = mocks.NewTransport(ctrl)
		clk = testclock.NewFakePassiveClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
		ctx = context.Background()
		config = account.Config{Clock: clk}
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	newAccount := func() {
		acct = account.New(tokens, transport, config)
	}

	initialize := func(vins ...string) {
		tokens.EXPECT().Init(gomock.Any()).Return(nil)
		tokens.EXPECT().Token().Return(token).AnyTimes()
		transport.EXPECT().Execute(gomock.Any(), graphql.BaseURL, operation("GetConsumerCarsV2"), token).Return(inventory(vins...), nil)
		newAccount()
		Expect(acct.Initialize(ctx)).To(Succeed())
	}

	Describe("Initialize", func() {
		It("loads the inventory in order", func() {
			initialize(vin2, vin1)
			Expect(acct.VINs()).To(Equal([]string{vin2, vin1}))

			value, status := acct.GetValue(vin1, cache.CarInfo, "content/model/name", true)
			Expect(status).To(Equal(cache.Found))
			Expect(value).To(Equal("Polestar 2"))

			vehicle, ok := acct.Vehicle(vin1)
			Expect(ok).To(BeTrue())
			Expect(vehicle.ModelName()).To(Equal("Polestar 2"))
			Expect(vehicle.RegistrationNo()).To(Equal("ABC001"))
			Expect(vehicle.SoftwareVersion()).To(Equal("P3.2"))
			Expect(vehicle.ShortID()).To(Equal("0001"))
		})

		It("restricts the account to configured VINs", func() {
			config.VINs = []string{" lpsvsedeeml000001 "}
			initialize(vin1, vin2)

			Expect(acct.VINs()).To(Equal([]string{vin1}))
			_, ok := acct.Vehicle(vin2)
			Expect(ok).To(BeFalse())
			for _, kind := range cache.Kinds {
				_, status := acct.GetValue(vin2, kind, "vin", true)
				Expect(status).To(Equal(cache.Missing))
			}
		})

		It("fails when the inventory is empty", func() {
			tokens.EXPECT().Init(gomock.Any()).Return(nil)
			tokens.EXPECT().Token().Return(token).AnyTimes()
			transport.EXPECT().Execute(gomock.Any(), graphql.BaseURL, gomock.Any(), token).
				Return(map[string]interface{}{"getConsumerCarsV2": []interface{}{}}, nil)
			newAccount()

			Expect(errors.Is(acct.Initialize(ctx), protocol.ErrNoData)).To(BeTrue())
			Expect(acct.VINs()).To(BeEmpty())
		})

		It("fails when the inventory is null", func() {
			tokens.EXPECT().Init(gomock.Any()).Return(nil)
			tokens.EXPECT().Token().Return(token).AnyTimes()
			transport.EXPECT().Execute(gomock.Any(), graphql.BaseURL, gomock.Any(), token).
				Return(map[string]interface{}{"getConsumerCarsV2": nil}, nil)
			newAccount()

			Expect(errors.Is(acct.Initialize(ctx), protocol.ErrNoData)).To(BeTrue())
		})

		It("propagates sign-in failures without fetching", func() {
			tokens.EXPECT().Init(gomock.Any()).Return(protocol.NewAuthError(http.StatusUnauthorized, errors.New("bad password")))
			newAccount()

			err := acct.Initialize(ctx)
			Expect(protocol.IsAuthError(err)).To(BeTrue())
			Expect(acct.VINs()).To(BeEmpty())
		})

		It("fails when sign-in yields no token", func() {
			tokens.EXPECT().Init(gomock.Any()).Return(nil)
			tokens.EXPECT().Token().Return("")
			newAccount()

			err := acct.Initialize(ctx)
			Expect(protocol.IsAuthError(err)).To(BeTrue())
			Expect(errors.Is(err, protocol.ErrNoToken)).To(BeTrue())
		})

		It("propagates API failures", func() {
			tokens.EXPECT().Init(gomock.Any()).Return(nil)
			tokens.EXPECT().Token().Return(token).AnyTimes()
			apiErr := &protocol.APIError{Operation: "GetConsumerCarsV2", Code: http.StatusBadGateway}
			transport.EXPECT().Execute(gomock.Any(), graphql.BaseURL, gomock.Any(), token).Return(nil, apiErr)
			newAccount()

			err := acct.Initialize(ctx)
			Expect(err).To(MatchError(apiErr))
			Expect(protocol.Temporary(err)).To(BeTrue())
		})
	})

	Describe("Refresh", func() {
		validToken := func() {
			tokens.EXPECT().Expiry().Return(clk.Now().Add(time.Hour), true).AnyTimes()
		}

		expectOdometer := func() *gomock.Call {
			return transport.EXPECT().Execute(gomock.Any(), graphql.BaseURLV2, operation("GetOdometerData"), token)
		}

		expectBattery := func() *gomock.Call {
			return transport.EXPECT().Execute(gomock.Any(), graphql.BaseURLV2, operation("GetBatteryData"), token)
		}

		BeforeEach(func() {
			initialize(vin1, vin2)
		})

		It("stores odometer and battery telemetry", func() {
			validToken()
			expectOdometer().Return(odometer(1000), nil)
			expectBattery().Return(battery(80), nil)

			acct.Refresh(ctx, vin1)

			value, status := acct.GetValue(vin1, cache.Odometer, "odometerMeters", false)
			Expect(status).To(Equal(cache.Found))
			Expect(value).To(Equal(1000.0))
			value, status = acct.GetCachedValue(vin1, cache.Battery, "batteryChargeLevelPercentage")
			Expect(status).To(Equal(cache.Found))
			Expect(value).To(Equal(80.0))
			value, _ = acct.GetValue(vin1, cache.Odometer, "eventUpdatedTimestamp/iso", false)
			Expect(value).To(Equal("2024-05-01T11:00:00Z"))

			Expect(acct.NextUpdate()).To(Equal(clk.Now().Add(account.DefaultCooldown)))
			Expect(acct.State()).To(Equal(account.StateIdle))
		})

		It("records a null payload as known-empty", func() {
			validToken()
			expectOdometer().Return(map[string]interface{}{"getOdometerData": nil}, nil)
			expectBattery().Return(battery(80), nil)

			acct.Refresh(ctx, vin1)
			_, status := acct.GetValue(vin1, cache.Odometer, "odometerMeters", false)
			Expect(status).To(Equal(cache.Empty))
		})

		It("throttles cycles within the cool-down window", func() {
			validToken()
			expectOdometer().Return(odometer(1000), nil).Times(1)
			expectBattery().Return(battery(80), nil).Times(1)

			acct.Refresh(ctx, vin1)
			clk.SetTime(clk.Now().Add(account.DefaultCooldown - time.Millisecond))
			acct.Refresh(ctx, vin1)
			acct.Refresh(ctx, vin2)
			Expect(acct.State()).To(Equal(account.StateIdle))
		})

		It("runs again after the cool-down window", func() {
			validToken()
			expectOdometer().Return(odometer(1000), nil)
			expectBattery().Return(battery(80), nil)
			acct.Refresh(ctx, vin1)

			clk.SetTime(clk.Now().Add(account.DefaultCooldown))
			expectOdometer().Return(odometer(2000), nil)
			expectBattery().Return(battery(79), nil)
			acct.Refresh(ctx, vin1)

			value, _ := acct.GetValue(vin1, cache.Odometer, "odometerMeters", false)
			Expect(value).To(Equal(2000.0))
		})

		It("coalesces concurrent refreshes", func() {
			validToken()
			started := make(chan struct{})
			release := make(chan struct{})
			expectOdometer().DoAndReturn(func(context.Context, string, connector.Request, string) (map[string]interface{}, error) {
				close(started)
				<-release
				return odometer(1000), nil
			}).Times(1)
			expectBattery().Return(battery(80), nil).Times(1)

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				acct.Refresh(ctx, vin1)
				close(done)
			}()

			Eventually(started).Should(BeClosed())
			Expect(acct.State()).To(Equal(account.StateRefreshing))
			acct.Refresh(ctx, vin1)
			acct.Refresh(ctx, vin2)
			_, status := acct.GetValue(vin2, cache.Odometer, "odometerMeters", true)
			Expect(status).To(Equal(cache.Missing))

			close(release)
			Eventually(done).Should(BeClosed())
			Expect(acct.State()).To(Equal(account.StateIdle))
		})

		It("preserves the previous entry when a fetch fails", func() {
			validToken()
			expectOdometer().Return(odometer(1000), nil)
			expectBattery().Return(battery(80), nil)
			acct.Refresh(ctx, vin1)
			before, ok := acct.Snapshot()[vin1][cache.Odometer]
			Expect(ok).To(BeTrue())

			clk.SetTime(clk.Now().Add(time.Minute))
			expectOdometer().Return(nil, &protocol.APIError{Operation: "GetOdometerData", Code: http.StatusInternalServerError, Message: "boom"})
			expectBattery().Return(battery(75), nil)
			transport.EXPECT().SetStatus(graphql.BaseURLV2, http.StatusInternalServerError).Times(1)
			acct.Refresh(ctx, vin1)

			after := acct.Snapshot()[vin1][cache.Odometer]
			Expect(after.Timestamp).To(Equal(before.Timestamp))
			Expect(after.Data).To(Equal(before.Data))

			value, _ := acct.GetValue(vin1, cache.Battery, "batteryChargeLevelPercentage", false)
			Expect(value).To(Equal(75.0))
			Expect(acct.NextUpdate()).To(Equal(clk.Now().Add(account.DefaultCooldown)))
		})

		It("swallows transport errors", func() {
			validToken()
			expectOdometer().Return(nil, fmt.Errorf("error sending GetOdometerData: %w", context.DeadlineExceeded))
			expectBattery().Return(nil, fmt.Errorf("error sending GetBatteryData: %w", context.DeadlineExceeded))
			transport.EXPECT().SetStatus(graphql.BaseURLV2, http.StatusInternalServerError).Times(2)

			acct.Refresh(ctx, vin1)
			_, status := acct.GetValue(vin1, cache.Battery, "batteryChargeLevelPercentage", true)
			Expect(status).To(Equal(cache.Missing))
		})

		It("signs in once when the token is rejected", func() {
			validToken()
			expectOdometer().Return(nil, fmt.Errorf("GetOdometerData: %w", protocol.ErrUnauthorized)).Times(1)
			tokens.EXPECT().Refresh(gomock.Any(), false).Return(nil).Times(1)
			expectBattery().Return(battery(80), nil).Times(1)

			acct.Refresh(ctx, vin1)
			_, status := acct.GetValue(vin1, cache.Odometer, "odometerMeters", true)
			Expect(status).To(Equal(cache.Missing))
			_, status = acct.GetValue(vin1, cache.Battery, "batteryChargeLevelPercentage", true)
			Expect(status).To(Equal(cache.Found))
		})

		It("signs in once per rejected fetch without retrying either", func() {
			validToken()
			expectOdometer().Return(nil, fmt.Errorf("GetOdometerData: %w", protocol.ErrUnauthorized)).Times(1)
			expectBattery().Return(nil, fmt.Errorf("GetBatteryData: %w", protocol.ErrUnauthorized)).Times(1)
			tokens.EXPECT().Refresh(gomock.Any(), false).Return(nil).Times(2)

			acct.Refresh(ctx, vin1)

			_, status := acct.GetValue(vin1, cache.Odometer, "odometerMeters", true)
			Expect(status).To(Equal(cache.Missing))
			_, status = acct.GetValue(vin1, cache.Battery, "batteryChargeLevelPercentage", true)
			Expect(status).To(Equal(cache.Missing))
			Expect(acct.NextUpdate()).To(Equal(clk.Now().Add(account.DefaultCooldown)))
			Expect(acct.State()).To(Equal(account.StateIdle))

			// The cool-down applies even though both fetches failed.
			acct.Refresh(ctx, vin1)
		})

		It("survives a failed re-authentication", func() {
			validToken()
			expectOdometer().Return(nil, protocol.ErrUnauthorized)
			tokens.EXPECT().Refresh(gomock.Any(), false).Return(protocol.NewAuthError(http.StatusBadRequest, errors.New("denied")))
			expectBattery().Return(battery(80), nil)

			acct.Refresh(ctx, vin1)
			Expect(acct.State()).To(Equal(account.StateIdle))
		})

		It("aborts when the token expiry is unknown", func() {
			tokens.EXPECT().Expiry().Return(time.Time{}, false)
			transport.EXPECT().SetStatus(graphql.BaseURL, http.StatusInternalServerError).Times(1)

			acct.Refresh(ctx, vin1)
			Expect(acct.State()).To(Equal(account.StateIdle))
			Expect(acct.NextUpdate().IsZero()).To(BeTrue())
		})

		It("refreshes a token that is about to expire", func() {
			tokens.EXPECT().Expiry().Return(clk.Now().Add(299*time.Second), true)
			tokens.EXPECT().Refresh(gomock.Any(), true).Return(nil).Times(1)
			expectOdometer().Return(odometer(1000), nil)
			expectBattery().Return(battery(80), nil)

			acct.Refresh(ctx, vin1)
			_, status := acct.GetValue(vin1, cache.Odometer, "odometerMeters", false)
			Expect(status).To(Equal(cache.Found))
		})

		It("does not refresh a token with more than five minutes left", func() {
			tokens.EXPECT().Expiry().Return(clk.Now().Add(300*time.Second), true)
			expectOdometer().Return(odometer(1000), nil)
			expectBattery().Return(battery(80), nil)

			acct.Refresh(ctx, vin1)
		})

		It("aborts when the token refresh fails", func() {
			tokens.EXPECT().Expiry().Return(clk.Now().Add(time.Minute), true)
			tokens.EXPECT().Refresh(gomock.Any(), true).Return(protocol.NewAuthError(http.StatusBadRequest, errors.New("expired")))
			transport.EXPECT().SetStatus(graphql.BaseURL, http.StatusInternalServerError).Times(1)

			acct.Refresh(ctx, vin1)
			Expect(acct.State()).To(Equal(account.StateIdle))
		})

		It("ignores unknown VINs", func() {
			acct.Refresh(ctx, "UNKNOWN")
			Expect(acct.State()).To(Equal(account.StateIdle))
		})

		It("accepts VINs in any case", func() {
			validToken()
			expectOdometer().Return(odometer(1000), nil)
			expectBattery().Return(battery(80), nil)
			acct.Refresh(ctx, " lpsvsedeeml000001")
			_, status := acct.GetValue(vin1, cache.Odometer, "odometerMeters", false)
			Expect(status).To(Equal(cache.Found))
		})
	})

	Describe("diagnostics", func() {
		BeforeEach(func() {
			initialize(vin1)
		})

		It("reports connectivity", func() {
			transport.EXPECT().LastStatus(graphql.BaseURL).Return(http.StatusOK, true).AnyTimes()
			transport.EXPECT().LastStatus(graphql.BaseURLV2).Return(http.StatusOK, true).AnyTimes()
			transport.EXPECT().LastStatus(graphql.AuthURL).Return(http.StatusOK, true).AnyTimes()
			tokens.EXPECT().Expiry().Return(clk.Now().Add(time.Hour), true)
			Expect(acct.Connected()).To(BeTrue())

			code, ok := acct.LastCallStatus(graphql.BaseURL)
			Expect(ok).To(BeTrue())
			Expect(code).To(Equal(http.StatusOK))
		})

		It("reports a failing endpoint as disconnected", func() {
			transport.EXPECT().LastStatus(graphql.BaseURL).Return(http.StatusOK, true)
			transport.EXPECT().LastStatus(graphql.BaseURLV2).Return(http.StatusInternalServerError, true)
			Expect(acct.Connected()).To(BeFalse())
		})

		It("reports an expired token as disconnected", func() {
			transport.EXPECT().LastStatus(graphql.BaseURL).Return(http.StatusOK, true)
			transport.EXPECT().LastStatus(graphql.BaseURLV2).Return(0, false)
			transport.EXPECT().LastStatus(graphql.AuthURL).Return(0, false)
			tokens.EXPECT().Expiry().Return(clk.Now().Add(-time.Second), true)
			Expect(acct.Connected()).To(BeFalse())
		})

		It("reports a failing auth endpoint as disconnected", func() {
			transport.EXPECT().LastStatus(graphql.BaseURL).Return(http.StatusOK, true)
			transport.EXPECT().LastStatus(graphql.BaseURLV2).Return(http.StatusOK, true)
			transport.EXPECT().LastStatus(graphql.AuthURL).Return(http.StatusBadRequest, true)
			Expect(acct.Connected()).To(BeFalse())
		})

		It("treats an auth endpoint without calls as healthy", func() {
			transport.EXPECT().LastStatus(graphql.BaseURL).Return(http.StatusOK, true)
			transport.EXPECT().LastStatus(graphql.BaseURLV2).Return(http.StatusOK, true)
			transport.EXPECT().LastStatus(graphql.AuthURL).Return(0, false)
			tokens.EXPECT().Expiry().Return(clk.Now().Add(time.Hour), true)
			Expect(acct.Connected()).To(BeTrue())
		})

		It("dumps the cache", func() {
			var buffer bytes.Buffer
			Expect(acct.Dump(&buffer)).To(Succeed())
			Expect(buffer.String()).To(ContainSubstring(vin1))
			Expect(buffer.String()).To(ContainSubstring("getConsumerCarsV2"))
		})
	})
})
