package registry

import (
	"time"

	"trustgate/internal/models"
)

// Plan bundles the defaults applied when a key is provisioned under a
// named subscription plan. Explicit limits or scopes on the create request
// override the plan defaults.
type Plan struct {
	Name        string
	DailyLimit  int
	MinuteLimit int
	Scopes      []string
	// TTL, when non-zero, gives keys under this plan an expiry at creation.
	TTL time.Duration
}

// Tier returns the service tier the plan's daily limit maps to.
func (p Plan) Tier() models.Tier {
	return models.TierForDailyLimit(p.DailyLimit)
}

var plans = map[string]Plan{
	"free_temp": {
		Name:        "free_temp",
		DailyLimit:  100,
		MinuteLimit: models.DefaultMinuteLimit,
		Scopes:      []string{"read:basic", "read:category"},
		TTL:         7 * 24 * time.Hour,
	},
	"free": {
		Name:        "free",
		DailyLimit:  500,
		MinuteLimit: models.DefaultMinuteLimit,
		Scopes:      []string{"read:basic", "read:category", "read:insights:basic"},
	},
	"starter": {
		Name:        "starter",
		DailyLimit:  2000,
		MinuteLimit: models.DefaultMinuteLimit,
		Scopes:      []string{"read:basic", "read:category", "read:insights:basic", "read:insights:detailed"},
	},
	"pro": {
		Name:        "pro",
		DailyLimit:  10000,
		MinuteLimit: models.DefaultMinuteLimit,
		Scopes:      []string{"read:basic", "read:category", "read:insights:basic", "read:insights:detailed", "read:trends", "write:basic"},
	},
	"enterprise": {
		Name:        "enterprise",
		DailyLimit:  50000,
		MinuteLimit: models.DefaultMinuteLimit,
		Scopes:      []string{"read:basic", "read:category", "read:insights:basic", "read:insights:detailed", "read:trends", "write:basic", "write:advanced", "admin:basic"},
	},
}

// PlanByName looks up a plan in the catalog.
func PlanByName(name string) (Plan, bool) {
	p, ok := plans[name]
	return p, ok
}

// PlanNames returns the catalog's plan names.
func PlanNames() []string {
	return []string{"free_temp", "free", "starter", "pro", "enterprise"}
}
