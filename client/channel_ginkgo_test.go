package client

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// These specs drive spec.md §4.5's state machine through the transitions
// reachable without a live PVA server: NEVER_CONNECTED -> CONNECTING via
// connect(), the universal "* -> DESTROYED" row, and the reconnect re-entry
// a transport disconnect causes while not yet destroyed.
var _ = Describe("Channel state machine", func() {
	var (
		p  *Provider
		ch *Channel
	)

	BeforeEach(func() {
		var err error
		p, err = NewProvider("fsm-test", Config{})
		Expect(err).NotTo(HaveOccurred())
		ch = newChannel(p, "fsm:scalar", 0)
	})

	AfterEach(func() {
		p.Close()
	})

	It("starts NEVER_CONNECTED", func() {
		Expect(ch.State()).To(Equal(NeverConnected))
	})

	It("moves to CONNECTING on connect()", func() {
		ch.connect()
		Expect(ch.State()).To(Equal(Connecting))
	})

	It("re-enters CONNECTING after a disconnect while not yet destroyed", func() {
		ch.connect()
		Expect(ch.State()).To(Equal(Connecting))

		ch.ChannelDisconnect(ErrConnectionClosed)
		Expect(ch.State()).To(Equal(Connecting)) // Disconnected -> immediately re-registers
	})

	It("moves to DESTROYED from any non-terminal state and stays there", func() {
		ch.connect()
		ch.destroy()
		Expect(ch.State()).To(Equal(Destroyed))

		ch.connect() // must be a no-op once destroyed
		Expect(ch.State()).To(Equal(Destroyed))
	})

	It("ignores a disconnect notification once destroyed", func() {
		ch.connect()
		ch.destroy()
		ch.ChannelDisconnect(ErrConnectionClosed) // must not resurrect the channel
		Expect(ch.State()).To(Equal(Destroyed))
	})

	It("cancels pending operations synchronously on destroy", func() {
		var ev Event
		op := ch.Get("", func(e Event) { ev = e })
		ch.destroy()
		Expect(ev.Kind).To(Equal(EventCancel))
		Expect(op).NotTo(BeNil())
	})
})
