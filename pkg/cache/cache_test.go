package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := New()
	c.Set("k1", "v1")
	v, ok := c.Get("k1")
	require.True(t, ok)
	require.Equal(t, "v1", v)
}

func TestCache_MissIncrementsStats(t *testing.T) {
	c := New()
	_, ok := c.Get("missing")
	require.False(t, ok)
	require.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_ExpiredEntryIsEvictedOnGet(t *testing.T) {
	clock := time.Now()
	c := New(withClock(func() time.Time { return clock }), WithTTL(time.Second))
	c.Set("k1", "v1")

	clock = clock.Add(2 * time.Second)
	v, ok := c.Get("k1")
	require.False(t, ok)
	require.Nil(t, v)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, int64(1), stats.Evictions)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(WithMaxEntries(2))
	c.Set("k1", 1)
	c.Set("k2", 2)
	c.Set("k3", 3) // evicts k1 (least recently used)

	_, ok := c.Get("k1")
	require.False(t, ok)
	_, ok = c.Get("k2")
	require.True(t, ok)
	_, ok = c.Get("k3")
	require.True(t, ok)
}

func TestCache_LRUEviction_RecentAccessProtects(t *testing.T) {
	c := New(WithMaxEntries(2))
	c.Set("k1", 1)
	c.Set("k2", 2)
	_, _ = c.Get("k1") // k1 now most-recently-used; k2 becomes LRU
	c.Set("k3", 3)     // evicts k2

	_, ok := c.Get("k1")
	require.True(t, ok)
	_, ok = c.Get("k2")
	require.False(t, ok)
	_, ok = c.Get("k3")
	require.True(t, ok)
}

func TestCache_SetIncrementsTotalEntriesLifetimeCounter(t *testing.T) {
	c := New()
	c.Set("k1", 1)
	c.Set("k1", 2) // overwrite — still counts
	c.Set("k2", 3)
	require.Equal(t, int64(3), c.Stats().TotalEntries)
	require.Equal(t, 2, c.Stats().MemoryEntries)
}

func TestCache_DeleteCountsInvalidationOnlyIfPresent(t *testing.T) {
	c := New()
	c.Delete("nope")
	require.Equal(t, int64(0), c.Stats().Invalidations)

	c.Set("k1", 1)
	c.Delete("k1")
	require.Equal(t, int64(1), c.Stats().Invalidations)
}

func TestCache_InvalidateDomain(t *testing.T) {
	c := New()
	c.Set(MakeKey(PrefixGlobalRisk, "corp.local", ""), 1)
	c.Set(MakeKey(PrefixDomainRisk, "corp.local", ""), 2)
	c.Set(MakeKey(PrefixGlobalRisk, "other.local", ""), 3)

	n := c.InvalidateDomain("corp.local")
	require.Equal(t, 2, n)

	_, ok := c.Get(MakeKey(PrefixGlobalRisk, "other.local", ""))
	require.True(t, ok)
}

func TestCache_InvalidateGroup_CascadesToDomain(t *testing.T) {
	c := New()
	groupKey := MakeKey(PrefixGroupRisk, "corp.local", "Domain Admins")
	domainKey := MakeKey(PrefixDomainRisk, "corp.local", "")
	globalKey := MakeKey(PrefixGlobalRisk, "corp.local", "")
	c.Set(groupKey, 1)
	c.Set(domainKey, 2)
	c.Set(globalKey, 3)

	c.InvalidateGroup("corp.local", "Domain Admins")

	_, ok := c.Get(groupKey)
	require.False(t, ok)
	_, ok = c.Get(domainKey)
	require.False(t, ok)
	_, ok = c.Get(globalKey)
	require.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	c := New()
	c.Set("k1", 1)
	c.Set("k2", 2)
	c.Clear()
	require.Equal(t, 0, c.Stats().MemoryEntries)
	require.Equal(t, int64(2), c.Stats().Invalidations)
}

func TestMakeKey_WithArgsHash(t *testing.T) {
	k1 := MakeKey(PrefixRiskHistory, "corp.local", "", 30)
	k2 := MakeKey(PrefixRiskHistory, "corp.local", "", 60)
	require.NotEqual(t, k1, k2)
	require.Contains(t, k1, "risk_history:corp.local:")
}

func TestStats_HitRate(t *testing.T) {
	c := New()
	c.Set("k1", 1)
	c.Get("k1")
	c.Get("k1")
	c.Get("missing")
	require.InDelta(t, 66.67, c.Stats().HitRate(), 0.1)
}
