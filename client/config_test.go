package client

import (
	"testing"
	"time"
)

func TestResolveConfigFillsFromEnvironment(t *testing.T) {
	t.Setenv("EPICS_PVA_ADDR_LIST", "10.0.0.1 10.0.0.2:5077")
	t.Setenv("EPICS_PVA_AUTO_ADDR_LIST", "yes")
	t.Setenv("EPICS_PVA_CONN_TMO", "5")
	t.Setenv("EPICS_PVA_BEACON_PERIOD", "3")
	t.Setenv("EPICS_PVA_BROADCAST_PORT", "6000")
	t.Setenv("EPICS_PVA_SERVER_PORT", "6001")
	t.Setenv("EPICS_PVA_MAX_ARRAY_BYTES", "1024")

	c := ResolveConfig(Config{})

	if len(c.AddrList) != 2 || c.AddrList[0] != "10.0.0.1" || c.AddrList[1] != "10.0.0.2:5077" {
		t.Fatalf("unexpected AddrList: %#v", c.AddrList)
	}
	if !c.AutoAddrList {
		t.Fatal("expected AutoAddrList to be true")
	}
	if c.ConnTmo != 5*time.Second {
		t.Fatalf("expected ConnTmo=5s, got %v", c.ConnTmo)
	}
	if c.BeaconPeriod != 3*time.Second {
		t.Fatalf("expected BeaconPeriod=3s, got %v", c.BeaconPeriod)
	}
	if c.BroadcastPort != 6000 {
		t.Fatalf("expected BroadcastPort=6000, got %d", c.BroadcastPort)
	}
	if c.ServerPort != 6001 {
		t.Fatalf("expected ServerPort=6001, got %d", c.ServerPort)
	}
	if c.MaxArrayBytes != 1024 {
		t.Fatalf("expected MaxArrayBytes=1024, got %d", c.MaxArrayBytes)
	}
}

func TestResolveConfigExplicitFieldsBeatEnvironment(t *testing.T) {
	t.Setenv("EPICS_PVA_SERVER_PORT", "6001")

	c := ResolveConfig(Config{ServerPort: 9999})
	if c.ServerPort != 9999 {
		t.Fatalf("expected an explicitly set field to win over the environment, got %d", c.ServerPort)
	}
}

func TestResolveConfigDefaultsWithNoEnvironment(t *testing.T) {
	c := ResolveConfig(Config{})

	if c.BroadcastPort != dfltBroadcastPort {
		t.Fatalf("expected default broadcast port %d, got %d", dfltBroadcastPort, c.BroadcastPort)
	}
	if c.ServerPort != dfltServerPort {
		t.Fatalf("expected default server port %d, got %d", dfltServerPort, c.ServerPort)
	}
	if c.MaxArrayBytes != dfltMaxArrayBytes {
		t.Fatalf("expected default max array bytes %d, got %d", dfltMaxArrayBytes, c.MaxArrayBytes)
	}
	if c.ConnTmo != 30*time.Second {
		t.Fatalf("expected default conn timeout 30s, got %v", c.ConnTmo)
	}
}

func TestSearchTargetsAppendsBroadcastWhenAutoAddrList(t *testing.T) {
	c := Config{AddrList: []string{"10.0.0.1", "10.0.0.2:5077"}, AutoAddrList: true, BroadcastPort: 5076}
	targets := c.searchTargets()

	if len(targets) != 3 {
		t.Fatalf("expected 3 targets (2 explicit + 1 broadcast), got %d: %#v", len(targets), targets)
	}
	if targets[0].Addr != "10.0.0.1:5076" {
		t.Fatalf("expected a bare host to gain the configured broadcast port, got %q", targets[0].Addr)
	}
	if targets[1].Addr != "10.0.0.2:5077" {
		t.Fatalf("expected a host:port entry to pass through unchanged, got %q", targets[1].Addr)
	}
	if !targets[2].Broadcast || targets[2].Addr != "255.255.255.255:5076" {
		t.Fatalf("expected a trailing broadcast target, got %#v", targets[2])
	}
}

func TestSearchTargetsEmptyWithoutAutoAddrList(t *testing.T) {
	c := Config{BroadcastPort: 5076}
	targets := c.searchTargets()
	if len(targets) != 0 {
		t.Fatalf("expected no targets, got %#v", targets)
	}
}
