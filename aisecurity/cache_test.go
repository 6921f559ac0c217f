package aisecurity

import (
	"testing"
	"time"
)

func TestVerdictKey(t *testing.T) {
	profile := AIProfile{ProfileName: "p"}
	contents := []ScanContent{{Prompt: "hello", Response: "world"}}

	key1 := VerdictKey(profile, contents)
	key2 := VerdictKey(profile, []ScanContent{{Prompt: "hello", Response: "world"}})
	if key1 != key2 {
		t.Error("Expected identical inputs to produce identical keys")
	}

	if key1 == VerdictKey(AIProfile{ProfileName: "q"}, contents) {
		t.Error("Expected different profiles to produce different keys")
	}
	if key1 == VerdictKey(profile, []ScanContent{{Prompt: "hello", Response: "worlds"}}) {
		t.Error("Expected different contents to produce different keys")
	}
	// Field boundaries matter: prompt "ab"+response "c" is not prompt "a"+response "bc".
	if VerdictKey(profile, []ScanContent{{Prompt: "ab", Response: "c"}}) == VerdictKey(profile, []ScanContent{{Prompt: "a", Response: "bc"}}) {
		t.Error("Expected field boundaries to affect the key")
	}
}

func TestVerdictCache(t *testing.T) {
	c := newVerdictCache(time.Minute)
	defer c.stop()

	if _, found := c.get("missing"); found {
		t.Error("Expected miss for unknown key")
	}

	verdict := &ScanResponse{ScanID: "s1", Action: ActionAllow}
	c.set("k", verdict)
	got, found := c.get("k")
	if !found {
		t.Fatal("Expected hit after set")
	}
	if got.ScanID != "s1" {
		t.Errorf("Expected cached verdict, got %+v", got)
	}
	if c.len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.len())
	}
}

func TestVerdictCacheExpiry(t *testing.T) {
	c := newVerdictCache(10 * time.Millisecond)
	defer c.stop()

	c.set("k", &ScanResponse{ScanID: "s1"})
	time.Sleep(25 * time.Millisecond)

	if _, found := c.get("k"); found {
		t.Error("Expected entry to expire")
	}
}

func TestVerdictCacheStopIdempotent(t *testing.T) {
	c := newVerdictCache(time.Minute)
	c.stop()
	c.stop()
}
