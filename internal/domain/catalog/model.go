package catalog

import (
	"time"

	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
	"github.com/samber/lo"
)

// Product is a sellable product. Base products list the add-on products they
// allow (Available) and the ones they bundle for free (Included).
type Product struct {
	Name      string                `json:"name" yaml:"name"`
	Category  types.ProductCategory `json:"category" yaml:"category"`
	Available []string              `json:"available,omitempty" yaml:"available"`
	Included  []string              `json:"included,omitempty" yaml:"included"`
}

type Phase struct {
	Name string          `json:"name" yaml:"name"`
	Type types.PhaseType `json:"type" yaml:"type"`
}

// Plan is a plan as defined by one catalog version
type Plan struct {
	Name          string    `json:"name"`
	PriceList     string    `json:"price_list"`
	Product       *Product  `json:"product"`
	Phases        []*Phase  `json:"phases"`
	EffectiveDate time.Time `json:"effective_date"`
}

// InitialPhase is the phase a subscription starts in
func (p *Plan) InitialPhase() *Phase {
	if len(p.Phases) == 0 {
		return nil
	}
	return p.Phases[0]
}

// FindPhase resolves a phase by name
func (p *Plan) FindPhase(name string) (*Phase, error) {
	phase, ok := lo.Find(p.Phases, func(ph *Phase) bool {
		return ph.Name == name
	})
	if !ok {
		return nil, ierr.NewErrorf("phase %s not found in plan %s", name, p.Name).
			WithHintf("Phase %s does not exist for plan %s", name, p.Name).
			WithReportableDetails(map[string]any{
				"plan":  p.Name,
				"phase": name,
			}).
			Mark(ierr.ErrCatalog)
	}
	return phase, nil
}
