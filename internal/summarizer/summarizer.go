// Package summarizer aggregates evaluation records per criterion of the catalog.
package summarizer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"policyeval/internal/criteria"
	"policyeval/internal/domain"
)

// Default judgment fields read by the summarizer.
const (
	DefaultItemField       = "item"
	DefaultComplianceField = "compliance"
)

// Row is the summary of one criterion.
type Row struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Level      string   `json:"level"`
	Compliance []string `json:"compliance"`
	EvalIDs    []string `json:"eval_ids"`
	// MissingRequired is set for a mandatory criterion no record was matched to.
	MissingRequired bool `json:"missing_required"`
}

// Summary is the per-criterion view of one run.
type Summary struct {
	Rows []Row `json:"rows"`
	// Unmatched lists accepted records whose item does not resolve to a criterion.
	Unmatched []string `json:"unmatched"`
	Failed    int      `json:"failed"`
}

// Options names the judgment fields to read.
type Options struct {
	ItemField       string
	ComplianceField string
}

// Summarizer builds criterion summaries.
type Summarizer struct {
	itemField       string
	complianceField string
}

// New creates a Summarizer. Empty options select the default field names.
func New(opts Options) *Summarizer {
	if opts.ItemField == "" {
		opts.ItemField = DefaultItemField
	}
	if opts.ComplianceField == "" {
		opts.ComplianceField = DefaultComplianceField
	}
	return &Summarizer{itemField: opts.ItemField, complianceField: opts.ComplianceField}
}

// Summarize returns one row per criterion, ordered by id. Records with an error status are
// counted in Failed and otherwise ignored.
func (s *Summarizer) Summarize(records []domain.EvaluationRecord, catalog criteria.Catalog) Summary {
	sorted := catalog.SortedByID()
	index := make(map[string]int, len(sorted))
	rows := make([]Row, len(sorted))
	for i, c := range sorted {
		rows[i] = Row{ID: c.ID, Label: criteria.Label(c), Level: c.Level}
		index[c.ID] = i
	}

	var sum Summary
	for _, rec := range records {
		if !rec.OK() {
			sum.Failed++
			continue
		}
		c, ok := catalog.Find(rec.Result[s.itemField])
		if !ok {
			sum.Unmatched = append(sum.Unmatched, rec.EvalID)
			continue
		}
		row := &rows[index[c.ID]]
		row.EvalIDs = append(row.EvalIDs, rec.EvalID)
		if v, ok := rec.Result[s.complianceField]; ok && v != nil {
			row.Compliance = append(row.Compliance, fmt.Sprint(v))
		}
	}
	for i, c := range sorted {
		rows[i].MissingRequired = c.Required() && len(rows[i].EvalIDs) == 0
	}
	sum.Rows = rows
	return sum
}

// MissingRequired returns the rows flagged as unmatched mandatory criteria.
func (s Summary) MissingRequired() []Row {
	var out []Row
	for _, r := range s.Rows {
		if r.MissingRequired {
			out = append(out, r)
		}
	}
	return out
}

// WriteTable prints the summary as aligned columns.
func (s Summary) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tLEVEL\tCOMPLIANCE\tEVAL IDS\tNOTE")
	for _, r := range s.Rows {
		note := ""
		if r.MissingRequired {
			note = "missing required"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Label, r.Level, strings.Join(r.Compliance, ","), strings.Join(r.EvalIDs, ","), note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(s.Unmatched) > 0 || s.Failed > 0 {
		_, err := fmt.Fprintf(w, "\nunmatched: %s  failed: %d\n", strings.Join(s.Unmatched, ","), s.Failed)
		return err
	}
	return nil
}
