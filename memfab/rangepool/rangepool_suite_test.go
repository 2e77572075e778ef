package rangepool

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestRangePoolSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RangePool Suite")
}

// Property-style specs (§8.3: allocate/release shape invariants), matching
// the teacher's own ginkgo+gomega test stack (e.g. fuse/fs/cache_test.go).
var _ = Describe("Pool", func() {
	var p *Pool

	BeforeEach(func() {
		p = New(4*4096, 4096)
	})

	It("rounds every allocation up to the page granularity", func() {
		a, err := p.Allocate(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Size()).To(Equal(uint64(4096)))
	})

	It("never exceeds the pool's total size across live allocations", func() {
		var live []*Allocation
		for p.CanAllocate(4096) {
			a, err := p.Allocate(4096)
			Expect(err).NotTo(HaveOccurred())
			live = append(live, a)
		}
		var sum uint64
		for _, a := range live {
			sum += a.Size()
		}
		Expect(sum).To(Equal(p.TotalSize()))
		for _, a := range live {
			a.Release()
		}
	})

	It("fails MallocFailed once exhausted, never silently truncates", func() {
		for p.CanAllocate(4096) {
			_, err := p.Allocate(4096)
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := p.Allocate(4096)
		Expect(err).To(HaveOccurred())
	})

	It("restores a single free range after releasing every allocation", func() {
		a1, _ := p.Allocate(4096)
		a2, _ := p.Allocate(4096)
		a3, _ := p.Allocate(4096)
		a4, _ := p.Allocate(4096)
		a3.Release()
		a1.Release()
		a4.Release()
		a2.Release()

		snap := p.Snapshot()
		Expect(snap).To(HaveLen(1))
		Expect(snap[0]).To(Equal(p.TotalSize()))
	})
})
