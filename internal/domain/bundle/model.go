package bundle

import (
	"fmt"
	"strings"
	"time"

	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
)

// Bundle groups one base subscription and its add-ons for an account
type Bundle struct {
	ID          string `db:"id" json:"id"`
	AccountID   string `db:"account_id" json:"account_id"`
	ExternalKey string `db:"external_key" json:"external_key"`
	// OriginalCreatedDate survives external key reuse
	OriginalCreatedDate time.Time `db:"original_created_date" json:"original_created_date"`

	types.BaseModel
}

func (b *Bundle) Validate() error {
	if b.AccountID == "" {
		return ierr.NewError("account_id is required").
			WithHint("Bundle must belong to an account").
			Mark(ierr.ErrValidation)
	}
	if b.ExternalKey == "" {
		return ierr.NewError("external_key is required").
			WithHint("Bundle must have an external key").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RenamedExternalKey builds the key a released bundle is renamed to, ex cncl-01HZX8Q2:gold
func RenamedExternalKey(prefix, bundleID, externalKey string) string {
	short := bundleID
	if i := strings.LastIndex(short, "_"); i >= 0 {
		short = short[i+1:]
	}
	if len(short) > 8 {
		short = short[len(short)-8:]
	}
	return fmt.Sprintf("%s-%s:%s", prefix, short, externalKey)
}

// OriginalExternalKey strips a rename prefix, if any
func OriginalExternalKey(key string) string {
	for _, prefix := range []string{types.ExternalKeyPrefixCancelled, types.ExternalKeyPrefixTransfered} {
		if !strings.HasPrefix(key, prefix+"-") {
			continue
		}
		if i := strings.Index(key, ":"); i >= 0 {
			return key[i+1:]
		}
	}
	return key
}
