package catalog

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/flexprice/subledger/internal/cache"
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/domain/catalog"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Versions []versionFile `yaml:"versions"`
}

type versionFile struct {
	EffectiveDate time.Time          `yaml:"effective_date"`
	Products      []*catalog.Product `yaml:"products"`
	Plans         []planFile         `yaml:"plans"`
}

type planFile struct {
	Name      string           `yaml:"name"`
	Product   string           `yaml:"product"`
	PriceList string           `yaml:"price_list"`
	Phases    []*catalog.Phase `yaml:"phases"`
}

type version struct {
	effectiveDate time.Time
	plans         map[string]*catalog.Plan
}

// StaticCatalog is a versioned catalog read once from a YAML file
type StaticCatalog struct {
	versions []*version
	cache    cache.Cache
	logger   *logger.Logger
}

var _ catalog.Catalog = (*StaticCatalog)(nil)

// NewStaticCatalog loads the catalog file named in the configuration
func NewStaticCatalog(cfg *config.Configuration, c cache.Cache, log *logger.Logger) (*StaticCatalog, error) {
	data, err := os.ReadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Could not read catalog file %s", cfg.Catalog.Path).
			Mark(ierr.ErrCatalog)
	}

	cat, err := Parse(data, c, log)
	if err != nil {
		return nil, err
	}

	log.Infow("catalog loaded",
		"path", cfg.Catalog.Path,
		"versions", len(cat.versions),
	)
	return cat, nil
}

// Parse builds a catalog from YAML. Versions may appear in any order.
func Parse(data []byte, c cache.Cache, log *logger.Logger) (*StaticCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Catalog file is not valid YAML").
			Mark(ierr.ErrCatalog)
	}

	versions := make([]*version, 0, len(file.Versions))
	for _, vf := range file.Versions {
		v, err := buildVersion(vf)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].effectiveDate.Before(versions[j].effectiveDate)
	})

	return &StaticCatalog{
		versions: versions,
		cache:    c,
		logger:   log,
	}, nil
}

func buildVersion(vf versionFile) (*version, error) {
	products := lo.KeyBy(vf.Products, func(p *catalog.Product) string {
		return p.Name
	})
	for _, p := range vf.Products {
		if err := p.Category.Validate(); err != nil {
			return nil, err
		}
	}

	plans := make(map[string]*catalog.Plan, len(vf.Plans))
	for _, pf := range vf.Plans {
		product, ok := products[pf.Product]
		if !ok {
			return nil, ierr.NewErrorf("plan %s references unknown product %s", pf.Name, pf.Product).
				WithHintf("Catalog plan %s references an unknown product", pf.Name).
				Mark(ierr.ErrCatalog)
		}
		if len(pf.Phases) == 0 {
			return nil, ierr.NewErrorf("plan %s has no phases", pf.Name).
				WithHintf("Catalog plan %s must define at least one phase", pf.Name).
				Mark(ierr.ErrCatalog)
		}
		for _, ph := range pf.Phases {
			if err := ph.Type.Validate(); err != nil {
				return nil, err
			}
		}
		plans[pf.Name] = &catalog.Plan{
			Name:          pf.Name,
			PriceList:     pf.PriceList,
			Product:       product,
			Phases:        pf.Phases,
			EffectiveDate: vf.EffectiveDate.UTC(),
		}
	}

	return &version{
		effectiveDate: vf.EffectiveDate.UTC(),
		plans:         plans,
	}, nil
}

// FindPlan prefers the newest version already in force on alignStartDate so that
// existing subscriptions keep their original definition, and falls back to the
// newest version in force on effectiveDate.
func (c *StaticCatalog) FindPlan(planName string, effectiveDate, alignStartDate time.Time) (*catalog.Plan, error) {
	ctx := context.Background()
	key := cache.GenerateKey(cache.PrefixPlan, planName, effectiveDate.Unix(), alignStartDate.Unix())
	if cached, found := c.cache.Get(ctx, key); found {
		if plan, ok := cached.(*catalog.Plan); ok {
			return plan, nil
		}
	}

	plan := c.latestDefinition(planName, alignStartDate)
	if plan == nil {
		plan = c.latestDefinition(planName, effectiveDate)
	}
	if plan == nil {
		return nil, ierr.NewErrorf("plan %s not found for %s", planName, effectiveDate.Format(time.RFC3339)).
			WithHintf("Plan %s does not exist in the catalog", planName).
			WithReportableDetails(map[string]any{
				"plan":           planName,
				"effective_date": effectiveDate,
			}).
			Mark(ierr.ErrCatalog)
	}

	c.cache.Set(ctx, key, plan, 0)
	return plan, nil
}

func (c *StaticCatalog) latestDefinition(planName string, at time.Time) *catalog.Plan {
	var found *catalog.Plan
	for _, v := range c.versions {
		if v.effectiveDate.After(at) {
			break
		}
		if p, ok := v.plans[planName]; ok {
			found = p
		}
	}
	return found
}

func (c *StaticCatalog) IsAddonAvailable(baseProduct *catalog.Product, addonPlan *catalog.Plan) bool {
	if baseProduct == nil || addonPlan == nil || addonPlan.Product == nil {
		return false
	}
	return lo.Contains(baseProduct.Available, addonPlan.Product.Name)
}

func (c *StaticCatalog) IsAddonIncluded(baseProduct *catalog.Product, addonPlan *catalog.Plan) bool {
	if baseProduct == nil || addonPlan == nil || addonPlan.Product == nil {
		return false
	}
	return lo.Contains(baseProduct.Included, addonPlan.Product.Name)
}
