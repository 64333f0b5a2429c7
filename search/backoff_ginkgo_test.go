package search

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/epics-pva/pvaclient-go/hk"
)

// These specs drive Manager.tick() directly (rather than waiting on the
// housekeeper's real interval) to exercise spec.md §4.4's back-off schedule:
// each round a still-unmatched CID survives, its level climbs by one and its
// next-due time moves out by backoffDelay(level), capped at maxBackoffLevel.
var _ = Describe("Search manager back-off schedule", func() {
	var (
		m      *Manager
		target *fakeTarget
	)

	BeforeEach(func() {
		// Reg/Unreg only enqueue onto a buffered control channel (hk/housekeeper.go),
		// so these specs drive tick() by hand without ever starting Run().
		hkr := hk.New()
		var err error
		m, err = NewManager("127.0.0.1:0", nil, hkr)
		Expect(err).NotTo(HaveOccurred())
		target = &fakeTarget{cid: 42, name: "fsm:backoff"}
	})

	AfterEach(func() {
		m.Close()
	})

	It("registers a target at level 0, due immediately", func() {
		m.Register(target)

		m.mu.Lock()
		e := m.byCID[42]
		m.mu.Unlock()
		Expect(e).NotTo(BeNil())
		Expect(e.level).To(Equal(0))
		Expect(e.due.After(time.Now())).To(BeFalse())
	})

	It("bumps the level and re-buckets an unmatched CID each round", func() {
		m.Register(target)

		m.tick()

		m.mu.Lock()
		e := m.byCID[42]
		_, inLevel0 := m.buckets[0][42]
		_, inLevel1 := m.buckets[1][42]
		m.mu.Unlock()

		Expect(e.level).To(Equal(1))
		Expect(inLevel0).To(BeFalse())
		Expect(inLevel1).To(BeTrue())
	})

	It("caps the level at maxBackoffLevel after repeated rounds", func() {
		m.Register(target)

		for i := 0; i < maxBackoffLevel+5; i++ {
			m.mu.Lock()
			m.byCID[42].due = time.Time{} // force due on every round
			m.mu.Unlock()
			m.tick()
		}

		m.mu.Lock()
		level := m.byCID[42].level
		m.mu.Unlock()
		Expect(level).To(Equal(maxBackoffLevel))
	})

	It("removes a matched CID from the pending set and calls OnFound once", func() {
		m.Register(target)
		m.matchOne(42, nil)

		m.mu.Lock()
		_, stillPending := m.byCID[42]
		m.mu.Unlock()
		Expect(stillPending).To(BeFalse())

		Expect(target.foundCount()).To(Equal(1))
	})

	It("notifies the onRound hook once per round that sends a datagram", func() {
		rounds := 0
		m.SetOnRound(func() { rounds++ })
		m.Register(target)

		m.tick()
		Expect(rounds).To(Equal(1))

		// Nothing is due yet (level 1's delay hasn't elapsed), so a second
		// immediate tick must not fire the hook again.
		m.tick()
		Expect(rounds).To(Equal(1))
	})
})
