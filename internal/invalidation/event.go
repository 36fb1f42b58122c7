// Package invalidation carries layer-group eviction events between tiler
// instances so in-process style caches drop deleted records promptly.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const OpDelete = "delete"

type Event struct {
	Version      int       `json:"version"`
	Op           string    `json:"op"`
	Tenant       string    `json:"tenant"`
	LayergroupID string    `json:"layergroupid"`
	TS           time.Time `json:"ts"`
	Source       string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if e.Op != OpDelete {
		return fmt.Errorf("op must be delete")
	}
	if strings.TrimSpace(e.Tenant) == "" {
		return fmt.Errorf("tenant is required")
	}
	if strings.TrimSpace(e.LayergroupID) == "" {
		return fmt.Errorf("layergroupid is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
