// Package archive handles the optional persistence paths for a
// completed run: the run's own JSON sidecar and, config-gated, an S3
// object for durable cross-run comparison. It also reads the upstream
// pre-funding sidecar.
package archive

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paritytech/stps-go/internal/domain"
)

// FundedAccount is one entry in the upstream chain-spec generator's
// pre-funding sidecar: an address paired with its funded balance.
// Core only ever reads this file to determine n_accounts when explicit
// CLI/config sizing is omitted; it never writes one itself for that
// purpose.
type FundedAccount struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// ReadFundedAccounts loads the upstream-generated pre-funding sidecar at
// path and returns its entries.
func ReadFundedAccounts(path string) ([]FundedAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: read funded accounts sidecar %s: %w", path, err)
	}
	var out []FundedAccount
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("archive: decode funded accounts sidecar %s: %w", path, err)
	}
	return out, nil
}

// WriteRunSummary writes summary as the run's own JSON sidecar at path,
// the artifact the optional S3 uploader (see s3.go) picks up afterward.
func WriteRunSummary(path string, summary domain.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal run summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("archive: write run summary sidecar %s: %w", path, err)
	}
	return nil
}
