package ratelimit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"100/hour", 100, false},
		{"10/hours", 10, false},
		{"2/second", 7200, false},
		{"5/min", 300, false},
		{"48/day", 2, false},
		{"10/days", 0, false},
		{"75", 75, false},
		{" 20 / hour ", 20, false},
		{"abc/hour", 0, true},
		{"10/fortnight", 0, true},
		{"-1/hour", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRate(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRate(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLimiter_TenPerHour(t *testing.T) {
	clock := newFakeClock()
	l, err := NewLimiter(LimiterConfig{Default: "100/hour", Endpoints: map[string]string{"/search": "10/hour"}}, clock)
	if err != nil {
		t.Fatal(err)
	}

	first := clock.Now()
	for i := 0; i < 10; i++ {
		if !l.IsAllowed("10.0.0.1", "/search") {
			t.Fatalf("request %d should be allowed", i+1)
		}
		l.RecordRequest("10.0.0.1", "/search", time.Time{})
		clock.Advance(time.Minute)
	}
	if l.IsAllowed("10.0.0.1", "/search") {
		t.Fatal("11th request should be rejected")
	}
	if got := l.Remaining("10.0.0.1", "/search"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
	if got := l.ResetTime("10.0.0.1", "/search"); !got.Equal(first.Add(time.Hour)) {
		t.Errorf("ResetTime = %v, want %v", got, first.Add(time.Hour))
	}

	// Other clients and endpoints are independent.
	if !l.IsAllowed("10.0.0.2", "/search") || !l.IsAllowed("10.0.0.1", "/other") {
		t.Error("unrelated keys must not be limited")
	}

	// Exactly one hour after the first request it leaves the window.
	clock.Advance(first.Add(time.Hour).Sub(clock.Now()))
	if !l.IsAllowed("10.0.0.1", "/search") {
		t.Error("request should be allowed once the first entry expired")
	}
	if got := l.Usage("10.0.0.1", "/search"); got != 9 {
		t.Errorf("Usage = %d, want 9", got)
	}
}

func TestLimiter_ExemptAndDefaults(t *testing.T) {
	clock := newFakeClock()
	l, err := NewLimiter(DefaultLimiterConfig(), clock)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 200; i++ {
		l.RecordRequest("127.0.0.1", EndpointSearch, time.Time{})
	}
	if !l.IsAllowed("127.0.0.1", EndpointSearch) || !l.IsAllowed("::1", EndpointSearch) {
		t.Error("loopback must be exempt")
	}

	cases := map[string]int{
		EndpointSearch:            50,
		EndpointMarketAnalysis:    20,
		EndpointPriceHistory:      30,
		EndpointNeighborhoodStats: 25,
		"/api/v1/stats":           100,
	}
	for endpoint, want := range cases {
		if got := l.EndpointLimit(endpoint); got != want {
			t.Errorf("EndpointLimit(%s) = %d, want %d", endpoint, got, want)
		}
	}

	l.SetEndpointLimit("/api/v1/stats", 1)
	if got := l.EndpointLimit("/api/v1/stats"); got != 1 {
		t.Errorf("after SetEndpointLimit got %d", got)
	}
}

func TestLimiter_Reset(t *testing.T) {
	clock := newFakeClock()
	l, _ := NewLimiter(DefaultLimiterConfig(), clock)

	l.RecordRequest("1.1.1.1", "/a", time.Time{})
	l.RecordRequest("1.1.1.1", "/b", time.Time{})
	l.RecordRequest("2.2.2.2", "/a", time.Time{})

	l.Reset("1.1.1.1", "/a")
	if l.Usage("1.1.1.1", "/a") != 0 || l.Usage("1.1.1.1", "/b") != 1 {
		t.Error("endpoint reset cleared the wrong keys")
	}
	l.Reset("1.1.1.1", "")
	if l.Usage("1.1.1.1", "/b") != 0 || l.Usage("2.2.2.2", "/a") != 1 {
		t.Error("client reset cleared the wrong keys")
	}
	if got := l.ResetTime("1.1.1.1", "/a"); !got.Equal(clock.Now()) {
		t.Errorf("empty window reset time = %v, want now", got)
	}
}

func TestWindow_OutOfOrderTimestamps(t *testing.T) {
	clock := newFakeClock()
	w := NewWindow(clock)
	now := clock.Now()

	w.Record("c", "/e", now.Add(-10*time.Minute))
	w.Record("c", "/e", now.Add(-50*time.Minute))
	w.Record("c", "/e", now.Add(-2*time.Hour)) // already expired

	if got := w.Count("c", "/e"); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
	if got := w.ResetTime("c", "/e"); !got.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("ResetTime = %v", got)
	}
}

func TestWindow_Concurrent(t *testing.T) {
	w := NewWindow(newFakeClock())
	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, ok := w.TryRecord("shared", "/e", 100); ok {
					admitted.Add(1)
				}
				w.Record(fmt.Sprintf("client-%d", i), "/e", time.Time{})
			}
		}(i)
	}
	wg.Wait()

	if got := admitted.Load(); got != 100 {
		t.Errorf("admitted = %d, want 100", got)
	}
	if got := w.Count("shared", "/e"); got != 100 {
		t.Errorf("shared Count = %d, want 100", got)
	}
	for i := 0; i < 8; i++ {
		if got := w.Count(fmt.Sprintf("client-%d", i), "/e"); got != 50 {
			t.Errorf("client-%d Count = %d, want 50", i, got)
		}
	}
}

func TestKeyManager(t *testing.T) {
	clock := newFakeClock()
	m, err := NewKeyManager(DefaultAPIKeys(), clock)
	if err != nil {
		t.Fatal(err)
	}

	if !m.IsValid("valid_key_123") || m.IsValid("unknown_key") {
		t.Error("IsValid mismatch")
	}
	if got := m.RateLimit("valid_key_123"); got != 1000 {
		t.Errorf("RateLimit = %d", got)
	}
	if got := m.RateLimit("nobody_knows"); got != 100 {
		t.Errorf("unknown key RateLimit = %d", got)
	}
	if !m.HasPermission("valid_key_123", PermHistory) || m.HasPermission("limited_key_456", PermAnalysis) {
		t.Error("HasPermission mismatch")
	}

	info, err := m.Info("limited_key_456")
	if err != nil || info.Name != "Limited App" {
		t.Fatalf("Info = %+v, %v", info, err)
	}
	info.Permissions[0] = "mutated"
	if !m.HasPermission("limited_key_456", PermSearch) {
		t.Error("Info must return a copy")
	}
	if _, err := m.Info("nope_nope_nope"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Info(unknown) err = %v", err)
	}

	for i := 0; i < 100; i++ {
		m.RecordUsage("limited_key_456", EndpointSearch, time.Time{})
	}
	if !m.IsRateLimited("limited_key_456", EndpointSearch) {
		t.Error("limited key should be rate limited after 100 requests")
	}
	clock.Advance(time.Hour)
	if m.IsRateLimited("limited_key_456", EndpointSearch) {
		t.Error("usage should expire after an hour")
	}
}

func TestGuard_PathExclusivity(t *testing.T) {
	clock := newFakeClock()
	g := NewDefaultGuard(clock)
	const ip = "203.0.113.7"

	d, err := g.Admit(ip, "valid_key_123", EndpointSearch, PermSearch)
	if err != nil {
		t.Fatalf("Admit with key: %v", err)
	}
	if d.Path != PathKey || d.Limit != 1000 || d.Remaining != 999 {
		t.Errorf("decision = %+v", d)
	}
	if got := g.Limiter().Usage(ip, EndpointSearch); got != 0 {
		t.Errorf("key request charged the ip window: %d", got)
	}

	// Malformed key: IP path.
	d, err = g.Admit(ip, "short", EndpointSearch, PermSearch)
	if err != nil {
		t.Fatalf("Admit without key: %v", err)
	}
	if d.Path != PathIP || d.Limit != 50 || d.Remaining != 49 {
		t.Errorf("decision = %+v", d)
	}
	if got := g.Keys().Usage("valid_key_123", EndpointSearch); got != 1 {
		t.Errorf("ip request charged the key window: %d", got)
	}
}

func TestGuard_Rejections(t *testing.T) {
	clock := newFakeClock()
	g := NewDefaultGuard(clock)
	const ip = "198.51.100.1"

	if _, err := g.Admit(ip, "well_formed_but_unknown", EndpointSearch, PermSearch); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("unknown key err = %v", err)
	}
	if _, err := g.Admit(ip, "limited_key_456", EndpointPriceHistory, PermHistory); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("missing permission err = %v", err)
	}

	for i := 0; i < 50; i++ {
		if _, err := g.Admit(ip, "", EndpointSearch, PermSearch); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		clock.Advance(time.Second)
	}
	_, err := g.Admit(ip, "", EndpointSearch, PermSearch)
	var qe *QuotaError
	if !errors.As(err, &qe) || !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if qe.RetryAfter != time.Hour-50*time.Second {
		t.Errorf("RetryAfter = %s", qe.RetryAfter)
	}
	if qe.KeyBased {
		t.Error("ip rejection marked key based")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	content := `
limits:
  default: 10/min
  endpoints:
    /api/v1/search: 5/hour
  exempt: []
api_keys:
  - key: partner_key_0001
    name: Partner
    rate_limit: 2/hour
    permissions: [search]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	g, err := LoadFile(path, newFakeClock())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := g.Limiter().EndpointLimit("/api/v1/stats"); got != 600 {
		t.Errorf("default limit = %d", got)
	}
	if got := g.Limiter().EndpointLimit(EndpointSearch); got != 5 {
		t.Errorf("search limit = %d", got)
	}
	if got := g.Limiter().EndpointLimit(EndpointPriceHistory); got != 30 {
		t.Errorf("history limit kept default = %d", got)
	}
	if g.Limiter().IsExempt("127.0.0.1") {
		t.Error("empty exempt list should disable loopback exemption")
	}
	if g.Keys().IsValid("valid_key_123") || !g.Keys().IsValid("partner_key_0001") {
		t.Error("keys section should replace the defaults")
	}

	if _, err := Parse([]byte("limits:\n  default: often\n"), nil); err == nil {
		t.Error("expected error for bad rate")
	}
	if _, err := Parse([]byte("unknown: 1\n"), nil); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestWindow_EvictsIdleKeys(t *testing.T) {
	clock := newFakeClock()
	w := NewWindow(clock)

	for i := 0; i < 20; i++ {
		if _, ok := w.TryRecord(fmt.Sprintf("10.0.0.%d", i), "/e", 5); !ok {
			t.Fatalf("client %d rejected", i)
		}
	}
	if got := w.Len(); got != 20 {
		t.Fatalf("Len = %d, want 20", got)
	}

	// Reads of unknown keys do not allocate buckets.
	if got := w.Count("203.0.113.1", "/e"); got != 0 {
		t.Errorf("Count of unknown key = %d", got)
	}
	if got := w.Len(); got != 20 {
		t.Errorf("Len after read = %d, want 20", got)
	}

	clock.Advance(WindowSize)
	if got := w.Count("10.0.0.0", "/e"); got != 0 {
		t.Fatalf("expired Count = %d", got)
	}
	if got := w.Len(); got != 19 {
		t.Errorf("Len after expired Count = %d, want 19", got)
	}

	// The next write after sweepInterval drops the rest.
	w.TryRecord("10.0.0.99", "/e", 5)
	if got := w.Len(); got != 1 {
		t.Errorf("Len after sweep = %d, want 1", got)
	}

	// An evicted key starts over with a fresh bucket.
	if n, ok := w.TryRecord("10.0.0.1", "/e", 5); !ok || n != 1 {
		t.Errorf("TryRecord after eviction = %d, %t", n, ok)
	}
}

func TestWindow_EvictionKeepsConcurrentWrites(t *testing.T) {
	clock := newFakeClock()
	w := NewWindow(clock)
	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, ok := w.TryRecord("shared", "/e", 1000); ok {
					admitted.Add(1)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w.Sweep()
				w.Count("shared", "/e")
			}
		}()
	}
	wg.Wait()

	if got := w.Count("shared", "/e"); int64(got) != admitted.Load() {
		t.Errorf("Count = %d, admitted %d", got, admitted.Load())
	}
}

func TestGuard_ForwardedClientNeverExempt(t *testing.T) {
	clock := newFakeClock()
	g := NewDefaultGuard(clock)
	g.Limiter().SetEndpointLimit(EndpointSearch, 1)

	d, err := g.Admit("127.0.0.1", "", EndpointSearch, PermSearch)
	if err != nil || d.Path != PathExempt {
		t.Fatalf("direct loopback = %+v, %v", d, err)
	}

	d, err = g.AdmitForwarded("127.0.0.1", "", EndpointSearch, PermSearch)
	if err != nil {
		t.Fatalf("first forwarded request: %v", err)
	}
	if d.Path != PathIP || d.Remaining != 0 {
		t.Errorf("forwarded decision = %+v", d)
	}
	if _, err := g.AdmitForwarded("127.0.0.1", "", EndpointSearch, PermSearch); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("second forwarded request err = %v, want quota exceeded", err)
	}

	// Keys still take precedence over the forwarded address.
	if d, err := g.AdmitForwarded("127.0.0.1", "valid_key_123", EndpointSearch, PermSearch); err != nil || d.Path != PathKey {
		t.Errorf("forwarded key decision = %+v, %v", d, err)
	}
}
