package hk_test

import (
	"time"

	"github.com/epics-pva/pvaclient-go/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("reruns a callback on the interval it returns", func() {
		ticks := make(chan struct{}, 8)
		hk.DefaultHK.Reg("periodic", func() time.Duration {
			ticks <- struct{}{}
			return 10 * time.Millisecond
		}, time.Millisecond)

		for i := 0; i < 3; i++ {
			Eventually(ticks, time.Second).Should(Receive())
		}
		hk.DefaultHK.Unreg("periodic")
	})

	It("unregisters when the callback returns <=0", func() {
		done := make(chan struct{})
		hk.DefaultHK.Reg("onceonly", func() time.Duration {
			close(done)
			return 0
		}, time.Millisecond)
		Eventually(done, time.Second).Should(BeClosed())
	})
})
