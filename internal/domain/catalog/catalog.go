package catalog

import "time"

// Catalog answers plan and add-on eligibility questions
type Catalog interface {
	// FindPlan resolves planName as of effectiveDate for a subscription aligned on alignStartDate.
	// Returns an ierr.ErrCatalog error when the plan cannot be resolved.
	FindPlan(planName string, effectiveDate, alignStartDate time.Time) (*Plan, error)

	// IsAddonAvailable reports whether addonPlan may be purchased on top of baseProduct
	IsAddonAvailable(baseProduct *Product, addonPlan *Plan) bool

	// IsAddonIncluded reports whether baseProduct already bundles addonPlan's product
	IsAddonIncluded(baseProduct *Product, addonPlan *Plan) bool
}
