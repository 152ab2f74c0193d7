package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"imovel-scraper/metrics"
	"imovel-scraper/utils"
)

// Services known to the rate gate.
const (
	ServiceAI       = "ai_oracle"
	ServiceMaps     = "google_maps"
	ServiceScraping = "caixa_scraping"
)

// Limit is a fixed-window allowance.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimits are the per-service allowances.
var DefaultLimits = map[string]Limit{
	ServiceAI:       {Limit: 100, Window: time.Hour},
	ServiceMaps:     {Limit: 1000, Window: 24 * time.Hour},
	ServiceScraping: {Limit: 500, Window: time.Hour},
}

// allowScript checks and increments the window counter in one step, so
// concurrent workers can never push it past the limit.
var allowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// RateGate admits calls to external services within fixed windows.
type RateGate struct {
	rdb     *redis.Client
	limits  map[string]Limit
	logger  *utils.Logger
	metrics *metrics.Metrics
}

// NewRateGate creates a RateGate. A nil limits map uses DefaultLimits.
func NewRateGate(rdb *redis.Client, limits map[string]Limit, logger *utils.Logger, m *metrics.Metrics) *RateGate {
	if limits == nil {
		limits = DefaultLimits
	}
	return &RateGate{rdb: rdb, limits: limits, logger: logger, metrics: m}
}

func gateKey(service, identifier string) string {
	return fmt.Sprintf("rate_limit:%s:%s", service, identifier)
}

// Allow reports whether one more call to service for identifier fits the
// current window, counting it if so. Unknown services are always allowed.
// A Redis failure admits the call and is logged.
func (g *RateGate) Allow(ctx context.Context, service, identifier string) bool {
	lim, ok := g.limits[service]
	if !ok {
		return true
	}
	if identifier == "" {
		identifier = "default"
	}

	window := int64(lim.Window / time.Second)
	if window < 1 {
		window = 1
	}
	res, err := allowScript.Run(ctx, g.rdb, []string{gateKey(service, identifier)}, lim.Limit, window).Int()
	if err != nil {
		g.logger.Error("[rate-gate] %s:%s check failed, admitting call: %v", service, identifier, err)
		g.count(service, "error")
		return true
	}

	if res == 0 {
		g.logger.Warn("[rate-gate] limit reached for %s:%s (%d per %v)", service, identifier, lim.Limit, lim.Window)
		g.count(service, "denied")
		return false
	}
	g.count(service, "allowed")
	return true
}

func (g *RateGate) count(service, decision string) {
	if g.metrics != nil {
		g.metrics.GateDecisions.WithLabelValues(service, decision).Inc()
	}
}
