package registry

import (
	"fmt"
	"strings"

	"github.com/corvuslabs/corvus/internal/domain"
)

// GuidanceReport enumerates the validation outcome per framework. When any
// framework failed it doubles as the rollback-guidance report the operator
// sees: each failing framework with its specific reason and a remediation
// hint, never a raw internal trace.
type GuidanceReport struct {
	Entries []domain.FrameworkGuidance `json:"entries"`
}

// buildGuidance projects outcomes into the report form.
func buildGuidance(outcomes []Outcome) *GuidanceReport {
	report := &GuidanceReport{Entries: make([]domain.FrameworkGuidance, 0, len(outcomes))}
	for _, o := range outcomes {
		g := domain.FrameworkGuidance{
			Name:  o.Name(),
			State: o.State(),
		}
		if !o.Valid() {
			g.Reason = o.Reason()
			g.Hint = o.Hint()
		}
		report.Entries = append(report.Entries, g)
	}
	return report
}

// Failed returns the entries for frameworks that did not validate.
func (r *GuidanceReport) Failed() []domain.FrameworkGuidance {
	var failed []domain.FrameworkGuidance
	for _, e := range r.Entries {
		if e.State != domain.CheckValid && e.State != domain.CheckCommitted {
			failed = append(failed, e)
		}
	}
	return failed
}

// Render formats the report for operator output.
func (r *GuidanceReport) Render() string {
	var b strings.Builder
	failed := r.Failed()
	if len(failed) == 0 {
		fmt.Fprintf(&b, "all %d frameworks validated\n", len(r.Entries))
		return b.String()
	}

	fmt.Fprintf(&b, "%d of %d frameworks failed validation; run aborted before analysis\n\n",
		len(failed), len(r.Entries))
	for _, e := range failed {
		fmt.Fprintf(&b, "  %s [%s]\n    reason: %s\n    fix:    %s\n", e.Name, e.State, e.Reason, e.Hint)
	}
	return b.String()
}
