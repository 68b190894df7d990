package tier

import (
	"testing"
	"time"

	"github.com/validly/dispatchd/internal/core/config"
)

func testPolicy() *Policy {
	return NewPolicy(map[string]config.TierConfig{
		"free":    {Concurrency: 2, InterTaskDelay: config.Duration(time.Second)},
		"premium": {Concurrency: 10, InterTaskDelay: 0},
	})
}

func TestLimitsFor_Known(t *testing.T) {
	p := testPolicy()

	premium := p.LimitsFor("premium")
	if premium.Concurrency != 10 {
		t.Errorf("premium concurrency = %d, want 10", premium.Concurrency)
	}
	if premium.InterTaskDelay != 0 {
		t.Errorf("premium delay = %v, want 0", premium.InterTaskDelay)
	}
}

func TestLimitsFor_UnknownFallsBack(t *testing.T) {
	p := testPolicy()

	got := p.LimitsFor("no-such-tier")
	if got.Concurrency != 2 {
		t.Errorf("fallback concurrency = %d, want 2 (free tier)", got.Concurrency)
	}
	if got.InterTaskDelay != time.Second {
		t.Errorf("fallback delay = %v, want 1s", got.InterTaskDelay)
	}
}
