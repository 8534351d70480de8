package cluster

import (
	"fmt"

	dedup "github.com/wolfeidau/capture-dedup"
)

// WriteResult is the store's acknowledgement of an upsert.
type WriteResult struct {
	Inserted  int `json:"inserted"`
	Replaced  int `json:"replaced"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Applied is the number of rows the write landed on.
func (r WriteResult) Applied() int {
	return r.Inserted + r.Replaced + r.Unchanged
}

// Verify returns ErrIntegrity unless exactly one row was applied and
// nothing was deleted, skipped or errored.
func (r WriteResult) Verify() error {
	if r.Applied() != 1 || r.Deleted != 0 || r.Skipped != 0 || r.Errors != 0 {
		return fmt.Errorf("%w: %s", dedup.ErrIntegrity, r)
	}
	return nil
}

func (r WriteResult) String() string {
	return fmt.Sprintf("inserted=%d replaced=%d unchanged=%d deleted=%d skipped=%d errors=%d",
		r.Inserted, r.Replaced, r.Unchanged, r.Deleted, r.Skipped, r.Errors)
}
