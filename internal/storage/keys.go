package storage

import (
	"fmt"

	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/model"
)

// ObjectKey addresses a published mosaic artifact.
type ObjectKey struct {
	Source    string
	Product   string
	Date      string // in YYYY-MM-DD format
	RunID     model.RunID
	Extension string
}

func (k ObjectKey) Key() string {
	return fmt.Sprintf("%s/%s/%s/%s.%s", k.Source, k.Product, k.Date, k.RunID, k.Extension)
}
