package model

import "time"

// ProviderSnapshot is one provider's attribute values as of one extract.
// Rows are keyed by (extract_id, ccn) and are immutable once written, except
// for the volatile descriptive columns refreshed on re-import (see
// store.SnapshotVolatileColumns).
type ProviderSnapshot struct {
	ExtractID int64  `json:"extract_id"`
	CCN       string `json:"ccn"`
	State     string `json:"state"`

	ProviderName string `json:"provider_name,omitempty"`
	Address      string `json:"address,omitempty"`
	City         string `json:"city,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`

	OwnershipType string `json:"ownership_type,omitempty"`

	// Star ratings are 1-5 ordinals; nil means unrated or suppressed.
	OverallRating          *int64 `json:"overall_rating,omitempty"`
	HealthInspectionRating *int64 `json:"health_inspection_rating,omitempty"`
	QMRating               *int64 `json:"qm_rating,omitempty"`
	StaffingRating         *int64 `json:"staffing_rating,omitempty"`

	CertifiedBeds    *int64   `json:"certified_beds,omitempty"`
	AverageResidents *float64 `json:"average_residents,omitempty"`
	OccupancyPct     *float64 `json:"occupancy_pct,omitempty"`

	AbuseIcon          *bool      `json:"abuse_icon,omitempty"`
	SpecialFocusStatus string     `json:"special_focus_status,omitempty"`
	CCRCFlag           *bool      `json:"ccrc_flag,omitempty"`
	ProcessingDate     *time.Time `json:"processing_date,omitempty"`
}

// EventType classifies a detected change between two extracts.
type EventType string

const (
	EventRatingChange    EventType = "RATING_CHANGE"
	EventNewEntity       EventType = "NEW_ENTITY"
	EventEntityRemoved   EventType = "ENTITY_REMOVED"
	EventAttributeChange EventType = "ATTRIBUTE_CHANGE"
)

// ProviderEvent is a detected difference between two extracts for one
// provider. Events are naturally keyed by
// (ccn, event_type, previous_extract_id, current_extract_id); re-running
// detection for the same extract pair inserts nothing new.
type ProviderEvent struct {
	ID                int64     `json:"id"`
	CCN               string    `json:"ccn"`
	State             string    `json:"state,omitempty"`
	EventType         EventType `json:"event_type"`
	EventDate         time.Time `json:"event_date"`
	PreviousExtractID int64     `json:"previous_extract_id"`
	CurrentExtractID  int64     `json:"current_extract_id"`
	PreviousValue     *string   `json:"previous_value,omitempty"`
	NewValue          *string   `json:"new_value,omitempty"`
	ChangeMagnitude   *float64  `json:"change_magnitude,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
