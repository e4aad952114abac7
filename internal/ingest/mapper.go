// Package ingest reads monthly provider extract files and loads them into
// the snapshot store: a declarative field mapper coerces the loosely-typed
// source columns, row sources abstract CSV and XLSX inputs, and the importer
// drives the extract lifecycle around batched upserts.
package ingest

import (
	_ "embed"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/quality-cli/internal/model"
)

//go:embed mapping.yaml
var defaultMapping []byte

// Kind is the coercion class applied to a mapped column.
type Kind string

const (
	KindInt   Kind = "int"
	KindFloat Kind = "float"
	KindBool  Kind = "bool"
	KindDate  Kind = "date"
	KindText  Kind = "text"
)

// Field maps one source column (plus historical aliases) to an internal
// snapshot field.
type Field struct {
	Name    string   `yaml:"field"`
	Kind    Kind     `yaml:"kind"`
	Column  string   `yaml:"column"`
	Aliases []string `yaml:"aliases"`
}

// Mapper holds the declared field table.
type Mapper struct {
	fields []Field
}

// NewMapper parses the embedded mapping table.
func NewMapper() (*Mapper, error) {
	var doc struct {
		Fields []Field `yaml:"fields"`
	}
	if err := yaml.Unmarshal(defaultMapping, &doc); err != nil {
		return nil, eris.Wrap(err, "ingest: parse mapping table")
	}
	for _, f := range doc.Fields {
		switch f.Kind {
		case KindInt, KindFloat, KindBool, KindDate, KindText:
		default:
			return nil, eris.Errorf("ingest: field %s has unknown kind %q", f.Name, f.Kind)
		}
	}
	return &Mapper{fields: doc.Fields}, nil
}

// Bind resolves the mapping against one file's header row. Unmapped source
// columns are ignored; mapped columns missing from the header yield nil for
// every row.
func (m *Mapper) Bind(header []string) *BoundMapper {
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[normalizeCol(col)] = i
	}

	b := &BoundMapper{indexes: make([]int, len(m.fields)), fields: m.fields}
	for i, f := range m.fields {
		b.indexes[i] = -1
		for _, name := range append([]string{f.Column}, f.Aliases...) {
			if idx, ok := colIdx[normalizeCol(name)]; ok {
				b.indexes[i] = idx
				break
			}
		}
	}
	return b
}

// BoundMapper is a Mapper resolved against a concrete header row.
type BoundMapper struct {
	fields  []Field
	indexes []int
}

// Map coerces one record into a snapshot. Coercion never fails: every bad
// field degrades to nil. The second return is false when the row lacks the
// natural key (ccn plus jurisdiction) and must be dropped.
func (b *BoundMapper) Map(record []string) (model.ProviderSnapshot, bool) {
	var snap model.ProviderSnapshot

	for i, f := range b.fields {
		var raw *string
		if idx := b.indexes[i]; idx >= 0 && idx < len(record) {
			raw = normalizeValue(record[idx])
		}
		assignField(&snap, f, raw)
	}

	snap.CCN = StandardizeCCN(snap.CCN)
	if snap.State == "" {
		snap.State = stateFromCCN(snap.CCN)
	}
	return snap, snap.CCN != "" && snap.State != ""
}

func assignField(snap *model.ProviderSnapshot, f Field, raw *string) {
	switch f.Name {
	case "ccn":
		snap.CCN = coerceText(raw)
	case "state":
		snap.State = strings.ToUpper(coerceText(raw))
	case "provider_name":
		snap.ProviderName = coerceText(raw)
	case "address":
		snap.Address = coerceText(raw)
	case "city":
		snap.City = coerceText(raw)
	case "zip_code":
		snap.ZipCode = coerceText(raw)
	case "ownership_type":
		snap.OwnershipType = coerceText(raw)
	case "overall_rating":
		snap.OverallRating = coerceInt(raw)
	case "health_inspection_rating":
		snap.HealthInspectionRating = coerceInt(raw)
	case "qm_rating":
		snap.QMRating = coerceInt(raw)
	case "staffing_rating":
		snap.StaffingRating = coerceInt(raw)
	case "certified_beds":
		snap.CertifiedBeds = coerceInt(raw)
	case "average_residents":
		snap.AverageResidents = coerceFloat(raw)
	case "occupancy_pct":
		snap.OccupancyPct = coerceFloat(raw)
	case "abuse_icon":
		snap.AbuseIcon = coerceBool(raw)
	case "special_focus_status":
		snap.SpecialFocusStatus = coerceText(raw)
	case "ccrc_flag":
		snap.CCRCFlag = coerceBool(raw)
	case "processing_date":
		snap.ProcessingDate = coerceDate(raw)
	}
}

// normalizeValue trims the raw cell and treats "" and the CMS placeholder
// "-" as absent.
func normalizeValue(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil
	}
	return &s
}

// normalizeCol strips parentheses and lowercases for cross-vintage column
// matching: "CMS Certification Number (CCN)" matches with or without the
// parenthetical.
func normalizeCol(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "(", "")
	s = strings.ReplaceAll(s, ")", "")
	return s
}

func coerceText(raw *string) string {
	if raw == nil {
		return ""
	}
	return *raw
}

func coerceInt(raw *string) *int64 {
	if raw == nil {
		return nil
	}
	s := strings.ReplaceAll(*raw, ",", "")
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func coerceFloat(raw *string) *float64 {
	if raw == nil {
		return nil
	}
	s := strings.ReplaceAll(*raw, ",", "")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

// coerceBool maps the truthy tokens to true and any other present value to
// false. Absent stays nil so "no value published" is distinguishable from an
// explicit negative.
func coerceBool(raw *string) *bool {
	if raw == nil {
		return nil
	}
	v := strings.EqualFold(*raw, "Yes") ||
		strings.EqualFold(*raw, "Y") ||
		strings.EqualFold(*raw, "TRUE") ||
		*raw == "1"
	return &v
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"2006-01-02 15:04:05",
	"Jan 2006",
	"January 2006",
}

func coerceDate(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, *raw); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

// StandardizeCCN strips non-alphanumerics, left-pads with zeros to six
// characters, and truncates anything longer. CCNs are nominally six
// characters but source files drop leading zeros.
func StandardizeCCN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	ccn := b.String()
	if ccn == "" {
		return ""
	}
	for len(ccn) < 6 {
		ccn = "0" + ccn
	}
	return ccn[:6]
}

func stateFromCCN(ccn string) string {
	if len(ccn) >= 2 {
		return ccn[:2]
	}
	return ""
}
