package redistore

import (
	"context"
	"time"

	. "github.com/bsm/ginkgo/v2"
	. "github.com/bsm/gomega"
)

var _ = Describe("toRouteEntries", func() {
	It("sorts by slot range regardless of input order", func() {
		lo, _ := NewSlotRange(0, 8191)
		hi, _ := NewSlotRange(8192, 16383)
		nodeLo := ClusterNode{Host: "lo", Port: 7000}
		nodeHi := ClusterNode{Host: "hi", Port: 7001}

		entries := toRouteEntries([]SlotNode{
			{Range: hi, Node: nodeHi},
			{Range: lo, Node: nodeLo},
		})

		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Node).To(Equal(nodeLo))
		Expect(entries[1].Node).To(Equal(nodeHi))
	})
})

var _ = Describe("lookupNode", func() {
	var (
		lo, hi     SlotRange
		nodeLo     ClusterNode
		nodeHi     ClusterNode
		id         StorageId
		ownedByLo  bool
	)

	BeforeEach(func() {
		lo, _ = NewSlotRange(0, 8191)
		hi, _ = NewSlotRange(8192, 16383)
		nodeLo = ClusterNode{Host: "lo", Port: 7000}
		nodeHi = ClusterNode{Host: "hi", Port: 7001}
		id = NewStorageId("ctx", "some-key", "")
		ownedByLo = lo.Contains(id.Slot())
	})

	It("finds the range owning the id's slot via binary search", func() {
		slotMap := []routeEntry{
			{Range: lo, Node: nodeLo},
			{Range: hi, Node: nodeHi},
		}

		node, ok := lookupNode(slotMap, id)
		Expect(ok).To(BeTrue())
		if ownedByLo {
			Expect(node).To(Equal(nodeLo))
		} else {
			Expect(node).To(Equal(nodeHi))
		}
	})

	It("reports not-found when no range in the map covers the slot", func() {
		var absent SlotRange
		if ownedByLo {
			absent, _ = NewSlotRange(8192, 16383)
		} else {
			absent, _ = NewSlotRange(0, 8191)
		}
		slotMap := []routeEntry{{Range: absent, Node: nodeLo}}

		_, ok := lookupNode(slotMap, id)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("ClusterRouter.backoff", func() {
	It("doubles the wait per attempt, uncapped when retryMaxTime is zero", func() {
		r := &ClusterRouter{
			retryBaseTime: 2 * time.Millisecond,
			retryMaxTime:  0,
			logger:        defaultLogger(),
		}

		start := time.Now()
		r.backoff(context.Background(), 2) // 2ms << 2 == 8ms
		elapsed := time.Since(start)

		Expect(elapsed).To(BeNumerically(">=", 8*time.Millisecond))
	})

	It("caps the wait at retryMaxTime", func() {
		r := &ClusterRouter{
			retryBaseTime: 50 * time.Millisecond,
			retryMaxTime:  5 * time.Millisecond,
			logger:        defaultLogger(),
		}

		start := time.Now()
		r.backoff(context.Background(), 3) // would be 400ms uncapped
		elapsed := time.Since(start)

		Expect(elapsed).To(BeNumerically("<", 50*time.Millisecond))
	})

	It("returns early when the context is already done", func() {
		r := &ClusterRouter{
			retryBaseTime: time.Hour,
			logger:        defaultLogger(),
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		r.backoff(ctx, 0)
		elapsed := time.Since(start)

		Expect(elapsed).To(BeNumerically("<", 100*time.Millisecond))
	})
})

var _ = Describe("findNodeByKey", func() {
	It("finds a node present in the slot map", func() {
		node := ClusterNode{Host: "a", Port: 7000}
		lo, _ := NewSlotRange(0, 16383)
		r := &ClusterRouter{slotMap: []routeEntry{{Range: lo, Node: node}}}

		found, ok := r.findNodeByKey(node.Key())
		Expect(ok).To(BeTrue())
		Expect(found).To(Equal(node))
	})

	It("reports not-found for an unknown key", func() {
		r := &ClusterRouter{}
		_, ok := r.findNodeByKey(NodeKey{Host: "nope", Port: 1})
		Expect(ok).To(BeFalse())
	})
})
