package cmn

import "sync/atomic"

// Config is the fabric's process-wide tunables, analogous to aistore's
// cmn.Config but scoped to what this fabric needs: timeouts, scratch pool
// sizing, and the default page granularity per tier.
type Config struct {
	Timeout struct {
		ConnectTimeout  Duration `json:"connect_timeout"`
		BarrierTimeout  Duration `json:"barrier_timeout"`
		CopyTimeout     Duration `json:"copy_timeout"`
	} `json:"timeout"`
	Scratch struct {
		HBMSize  int64 `json:"hbm_size"`  // nominal 128 MiB
		DRAMSize int64 `json:"dram_size"` // nominal 128 MiB
	} `json:"scratch"`
	Align struct {
		HostPage   uint64 `json:"host_page"`   // large-page size for DRAM tier
		DevicePage uint64 `json:"device_page"` // large-page size for HBM tier
	} `json:"align"`
	Transport struct {
		QuiesceTime Duration `json:"quiesce_time"`
	} `json:"transport"`
}

// Duration is a nanosecond count stored as a bare int64 (cast-compatible
// with time.Duration); it has no custom JSON marshaling and encodes as a
// raw integer.
type Duration int64

func (d Duration) D() (t DurationAsTime) { return DurationAsTime(d) }

type DurationAsTime int64

const (
	defaultConnectTimeout = 30_000_000_000 // 30s in ns
	defaultBarrierTimeout = 60_000_000_000
	defaultCopyTimeout    = 120_000_000_000
	defaultQuiesceTime    = 2_000_000_000
	defaultHostPage       = 2 << 20 // 2 MiB huge page
	defaultDevicePage     = 2 << 20
	defaultScratchSize    = 128 << 20
)

// DefaultConfig returns a Config populated with the fabric's nominal defaults
// (§4.4: 128 MiB scratch pools, 2 MiB huge pages).
func DefaultConfig() *Config {
	c := &Config{}
	c.Timeout.ConnectTimeout = defaultConnectTimeout
	c.Timeout.BarrierTimeout = defaultBarrierTimeout
	c.Timeout.CopyTimeout = defaultCopyTimeout
	c.Scratch.HBMSize = defaultScratchSize
	c.Scratch.DRAMSize = defaultScratchSize
	c.Align.HostPage = defaultHostPage
	c.Align.DevicePage = defaultDevicePage
	c.Transport.QuiesceTime = defaultQuiesceTime
	return c
}

// globalConfigOwner is the process-wide config singleton, swapped atomically
// so readers never observe a torn Config. Mirrors aistore's cmn.GCO.
type globalConfigOwner struct {
	ptr atomic.Pointer[Config]
}

func (g *globalConfigOwner) Get() *Config {
	c := g.ptr.Load()
	if c == nil {
		c = DefaultConfig()
		g.ptr.CompareAndSwap(nil, c)
		return g.ptr.Load()
	}
	return c
}

func (g *globalConfigOwner) Put(c *Config) { g.ptr.Store(c) }

// GCO is the process-wide config owner, analogous to aistore's cmn.GCO.
var GCO = &globalConfigOwner{}
