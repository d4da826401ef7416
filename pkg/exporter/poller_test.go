package exporter_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testclock "k8s.io/utils/clock/testing"

	"github.com/polestar-community/polestar-go/pkg/exporter"
)

var _ = Describe("Poller", func() {
	var (
		acct *fakeAccount
		clk  *testclock.FakeClock
	)

	BeforeEach(func() {
		acct = newFakeAccount(vin1, vin2)
		clk = testclock.NewFakeClock(epoch)
	})

	It("cycles through vehicles", func() {
		poller := exporter.NewPoller(acct, time.Minute, clk)
		ctx := context.Background()
		Expect(poller.Poll(ctx)).To(Equal(vin1))
		Expect(poller.Poll(ctx)).To(Equal(vin2))
		Expect(poller.Poll(ctx)).To(Equal(vin1))
		Expect(acct.Refreshed()).To(Equal([]string{vin1, vin2, vin1}))
	})

	It("does nothing without vehicles", func() {
		poller := exporter.NewPoller(newFakeAccount(), time.Minute, clk)
		Expect(poller.Poll(context.Background())).To(BeEmpty())
	})

	It("runs hooks after each poll", func() {
		poller := exporter.NewPoller(acct, time.Minute, clk)
		var (
			lock   sync.Mutex
			hooked []string
		)
		poller.OnPoll(func(ctx context.Context, vin string) {
			lock.Lock()
			defer lock.Unlock()
			Expect(acct.Refreshed()).To(ContainElement(vin))
			hooked = append(hooked, vin)
		})
		poller.Poll(context.Background())
		poller.Poll(context.Background())
		Expect(hooked).To(Equal([]string{vin1, vin2}))
	})

	It("polls on every tick until cancelled", func() {
		poller := exporter.NewPoller(acct, time.Minute, clk)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- poller.Start(ctx)
		}()

		Eventually(acct.Refreshed).Should(Equal([]string{vin1}))
		Eventually(clk.HasWaiters).Should(BeTrue())

		clk.Step(time.Minute)
		Eventually(acct.Refreshed).Should(Equal([]string{vin1, vin2}))

		clk.Step(30 * time.Second)
		Consistently(acct.Refreshed, 50*time.Millisecond).Should(HaveLen(2))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("defaults the interval", func() {
		poller := exporter.NewPoller(acct, 0, clk)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go poller.Start(ctx)

		Eventually(clk.HasWaiters).Should(BeTrue())
		clk.Step(exporter.DefaultInterval - time.Second)
		Consistently(acct.Refreshed, 50*time.Millisecond).Should(HaveLen(1))
		clk.Step(time.Second)
		Eventually(acct.Refreshed).Should(HaveLen(2))
	})
})
