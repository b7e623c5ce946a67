package testutil

import (
	"github.com/flexprice/subledger/internal/cache"
	"github.com/flexprice/subledger/internal/catalog"
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/logger"
)

// TestCatalogYAML has two versions. In the 2024-06-01 version Pistol no
// longer offers Bullets and the pistol trial is dropped.
const TestCatalogYAML = `
versions:
  - effective_date: 2024-01-01T00:00:00Z
    products:
      - name: Pistol
        category: BASE
        available: [Telescope, Bullets]
      - name: Shotgun
        category: BASE
        available: [Bullets]
        included: [Telescope]
      - name: Rifle
        category: BASE
        available: [Telescope]
      - name: Telescope
        category: ADD_ON
      - name: Bullets
        category: ADD_ON
      - name: Knife
        category: STANDALONE
    plans:
      - name: pistol-monthly
        product: Pistol
        price_list: DEFAULT
        phases:
          - name: pistol-monthly-trial
            type: TRIAL
          - name: pistol-monthly-evergreen
            type: EVERGREEN
      - name: shotgun-monthly
        product: Shotgun
        price_list: DEFAULT
        phases:
          - name: shotgun-monthly-evergreen
            type: EVERGREEN
      - name: rifle-monthly
        product: Rifle
        price_list: DEFAULT
        phases:
          - name: rifle-monthly-evergreen
            type: EVERGREEN
      - name: telescope-monthly
        product: Telescope
        price_list: DEFAULT
        phases:
          - name: telescope-monthly-evergreen
            type: EVERGREEN
      - name: bullets-monthly
        product: Bullets
        price_list: DEFAULT
        phases:
          - name: bullets-monthly-evergreen
            type: EVERGREEN
      - name: knife-annual
        product: Knife
        price_list: DEFAULT
        phases:
          - name: knife-annual-fixedterm
            type: FIXEDTERM
  - effective_date: 2024-06-01T00:00:00Z
    products:
      - name: Pistol
        category: BASE
        available: [Telescope]
      - name: Telescope
        category: ADD_ON
    plans:
      - name: pistol-monthly
        product: Pistol
        price_list: DEFAULT
        phases:
          - name: pistol-monthly-evergreen
            type: EVERGREEN
`

// NewTestCatalog parses TestCatalogYAML with a disabled cache
func NewTestCatalog(log *logger.Logger) (*catalog.StaticCatalog, error) {
	return catalog.Parse([]byte(TestCatalogYAML), cache.NewInMemoryCache(&config.Configuration{}), log)
}
