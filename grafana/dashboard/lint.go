// Package dashboard lints the provisioned Grafana dashboards.
package dashboard

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed dashboard.schema.json
var schemaJSON []byte

// ValidateDashboard は、ダッシュボードのJSONがスキーマに準拠しているか検証します。
func ValidateDashboard(dashboardJSON []byte) (bool, []gojsonschema.ResultError, error) {
	schemaLoader := gojsonschema.NewBytesLoader(schemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(dashboardJSON)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return false, nil, fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	return false, result.Errors(), nil
}

var metricPattern = regexp.MustCompile(`\bcolony_[a-z_]+`)

// MetricNames returns the colony_* series referenced by the PromQL targets,
// with histogram suffixes stripped.
func MetricNames(dashboardJSON []byte) ([]string, error) {
	var doc struct {
		Panels []struct {
			Targets []struct {
				Expr string `json:"expr"`
			} `json:"targets"`
		} `json:"panels"`
	}
	if err := json.Unmarshal(dashboardJSON, &doc); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, p := range doc.Panels {
		for _, t := range p.Targets {
			for _, m := range metricPattern.FindAllString(t.Expr, -1) {
				seen[histogramBase.ReplaceAllString(m, "")] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

var histogramBase = regexp.MustCompile(`_(bucket|sum|count)$`)
