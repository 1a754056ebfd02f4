package entitlements

import (
	"strings"

	"github.com/ManuelReschke/ProUnlock/app/models"
)

type Plan string

const (
	PlanFree Plan = models.PlanFree
	PlanPro  Plan = models.PlanPro
)

// Source records how a pro entitlement was obtained.
const SourcePayPal = "paypal"

// Normalize maps stored plan strings to a known plan. Unknown values are free.
func Normalize(plan string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(plan))) {
	case PlanPro:
		return PlanPro
	default:
		return PlanFree
	}
}

// IsPro reports whether the settings carry the pro entitlement.
func IsPro(us *models.UserSettings) bool {
	return us != nil && Normalize(us.Plan) == PlanPro
}
