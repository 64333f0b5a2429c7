package client

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/epics-pva/pvaclient-go/transport"
)

const (
	dfltBroadcastPort = 5076
	dfltServerPort    = 5075
	dfltMaxArrayBytes = 16 * 1024 * 1024
)

// Config is the in-process form of spec.md §6's configuration keys; callers
// may build one directly or leave fields zero to fall back to the
// environment variable of the same meaning, then a hard-coded default.
// Parsing a config file format is explicitly out of scope (spec.md §1) —
// only environment variables and this struct are supported.
type Config struct {
	AddrList      []string // extra search targets, space-separated in EPICS_PVA_ADDR_LIST
	AutoAddrList  bool     // append discovered broadcast addresses
	ConnTmo       time.Duration
	BeaconPeriod  time.Duration
	BroadcastPort int
	ServerPort    int
	MaxArrayBytes int
}

// ResolveConfig fills zero fields from the environment, then defaults
// (spec.md §6).
func ResolveConfig(c Config) Config {
	if len(c.AddrList) == 0 {
		if v := os.Getenv("EPICS_PVA_ADDR_LIST"); v != "" {
			c.AddrList = strings.Fields(v)
		}
	}
	if !c.AutoAddrList {
		c.AutoAddrList = envBool("EPICS_PVA_AUTO_ADDR_LIST")
	}
	if c.ConnTmo <= 0 {
		c.ConnTmo = envSeconds("EPICS_PVA_CONN_TMO", 30*time.Second)
	}
	if c.BeaconPeriod <= 0 {
		c.BeaconPeriod = envSeconds("EPICS_PVA_BEACON_PERIOD", 15*time.Second)
	}
	if c.BroadcastPort <= 0 {
		c.BroadcastPort = envInt("EPICS_PVA_BROADCAST_PORT", dfltBroadcastPort)
	}
	if c.ServerPort <= 0 {
		c.ServerPort = envInt("EPICS_PVA_SERVER_PORT", dfltServerPort)
	}
	if c.MaxArrayBytes <= 0 {
		c.MaxArrayBytes = envInt("EPICS_PVA_MAX_ARRAY_BYTES", dfltMaxArrayBytes)
	}
	return c
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func envInt(key string, dflt int) int {
	v := os.Getenv(key)
	if v == "" {
		return dflt
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return dflt
	}
	return n
}

func envSeconds(key string, dflt time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return dflt
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return dflt
	}
	return time.Duration(n) * time.Second
}

// searchTargets builds the configured UDP send-address list (spec.md §4.3,
// §6 address parsing: "space-separated list of host[:port]").
func (c Config) searchTargets() []transport.SendAddr {
	out := make([]transport.SendAddr, 0, len(c.AddrList)+1)
	for _, host := range c.AddrList {
		addr := host
		if !strings.Contains(addr, ":") {
			addr = addr + ":" + strconv.Itoa(c.BroadcastPort)
		}
		out = append(out, transport.SendAddr{Addr: addr})
	}
	if c.AutoAddrList {
		out = append(out, transport.SendAddr{Addr: "255.255.255.255:" + strconv.Itoa(c.BroadcastPort), Broadcast: true})
	}
	return out
}
