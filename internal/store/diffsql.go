package store

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// diffColumns is the allowlist of snapshot columns a DiffSpec may compare or
// emit as a label. Specs are built from in-repo detector definitions, but the
// allowlist keeps a bad spec from ever reaching string-built SQL.
var diffColumns = map[string]bool{
	"overall_rating":           true,
	"health_inspection_rating": true,
	"qm_rating":                true,
	"staffing_rating":          true,
	"ownership_type":           true,
	"certified_beds":           true,
	"special_focus_status":     true,
	"provider_name":            true,
}

// dialect selects placeholder style for the shared diff SQL.
type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

func (d dialect) placeholder(n int) string {
	if d == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

const eventInsertColumns = "ccn, state, event_type, event_date, previous_extract_id, current_extract_id, previous_value, new_value, change_magnitude"

// buildDiffSQL renders the INSERT ... SELECT for one detector. Both backends
// share the same statement shape; only the placeholder style differs. The
// argument order is always: event_type, event_date, previous_extract_id,
// current_extract_id, then the join-side extract id, then the filter-side
// extract id.
func buildDiffSQL(spec DiffSpec, d dialect) (string, error) {
	label := spec.LabelColumn
	if label == "" {
		label = "provider_name"
	}
	if !diffColumns[label] {
		return "", eris.Errorf("store: diff: label column %q not allowed", label)
	}

	p := make([]string, 6)
	for i := range p {
		p[i] = d.placeholder(i + 1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO provider_events (%s)\n", eventInsertColumns)

	switch spec.Join {
	case DiffChanged:
		col := spec.CompareColumn
		if !diffColumns[col] {
			return "", eris.Errorf("store: diff: compare column %q not allowed", col)
		}
		magnitude := "NULL"
		if spec.Numeric {
			magnitude = fmt.Sprintf("CAST(cur.%s AS REAL) - CAST(prev.%s AS REAL)", col, col)
		}
		fmt.Fprintf(&b,
			"SELECT cur.ccn, cur.state, %s, %s, %s, %s, CAST(prev.%s AS TEXT), CAST(cur.%s AS TEXT), %s\n"+
				"FROM provider_snapshots cur\n"+
				"JOIN provider_snapshots prev ON prev.ccn = cur.ccn AND prev.extract_id = %s\n"+
				"WHERE cur.extract_id = %s\n"+
				"  AND prev.%s IS NOT NULL AND cur.%s IS NOT NULL\n"+
				"  AND cur.%s <> prev.%s\n",
			p[0], p[1], p[2], p[3], col, col, magnitude,
			p[4], p[5], col, col, col, col,
		)
	case DiffAdded:
		fmt.Fprintf(&b,
			"SELECT cur.ccn, cur.state, %s, %s, %s, %s, NULL, cur.%s, NULL\n"+
				"FROM provider_snapshots cur\n"+
				"LEFT JOIN provider_snapshots prev ON prev.ccn = cur.ccn AND prev.extract_id = %s\n"+
				"WHERE cur.extract_id = %s AND prev.ccn IS NULL\n",
			p[0], p[1], p[2], p[3], label,
			p[4], p[5],
		)
	case DiffRemoved:
		fmt.Fprintf(&b,
			"SELECT prev.ccn, prev.state, %s, %s, %s, %s, prev.%s, NULL, NULL\n"+
				"FROM provider_snapshots prev\n"+
				"LEFT JOIN provider_snapshots cur ON cur.ccn = prev.ccn AND cur.extract_id = %s\n"+
				"WHERE prev.extract_id = %s AND cur.ccn IS NULL\n",
			p[0], p[1], p[2], p[3], label,
			p[4], p[5],
		)
	default:
		return "", eris.Errorf("store: diff: unknown join %q", spec.Join)
	}

	b.WriteString("ON CONFLICT (ccn, event_type, previous_extract_id, current_extract_id) DO NOTHING")
	return b.String(), nil
}

// diffArgs returns the placeholder arguments matching buildDiffSQL's order.
// eventDate is passed pre-converted because the two backends render dates
// differently.
func diffArgs(spec DiffSpec, eventDate any, currentID, previousID int64) []any {
	args := []any{string(spec.EventType), eventDate, previousID, currentID}
	switch spec.Join {
	case DiffRemoved:
		// join side is current, filter side is previous
		return append(args, currentID, previousID)
	default:
		// DiffChanged and DiffAdded join against previous, filter on current
		return append(args, previousID, currentID)
	}
}
