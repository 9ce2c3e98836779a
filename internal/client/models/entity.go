// Package models defines the inspection entities (assets, vessels, scans) and
// the bookkeeping types shared by the local store, outbox and sync service.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// EntityType classifies an entity kind.
type EntityType string

const (
	EntityAsset  EntityType = "asset"
	EntityVessel EntityType = "vessel"
	EntityScan   EntityType = "scan"
)

// EntityTypes lists every syncable type in pull order: parents before children.
var EntityTypes = []EntityType{EntityAsset, EntityVessel, EntityScan}

// Collection returns the store collection holding records of this type.
func (t EntityType) Collection() string {
	return string(t) + "s"
}

func (t EntityType) Valid() bool {
	switch t {
	case EntityAsset, EntityVessel, EntityScan:
		return true
	}
	return false
}

// ParseEntityType accepts singular or plural names ("asset", "assets").
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if !t.Valid() {
		return "", common.Invalid("type", fmt.Sprintf("unknown entity type %q", s))
	}
	return t, nil
}

// Entity is the tagged variant Asset | Vessel | Scan. Generic code over
// LocalRecord is written once against this constraint.
type Entity interface {
	Asset | Vessel | Scan
	Kind() EntityType
	Validate() error
}

// Asset is a site or installation that owns pressure vessels.
type Asset struct {
	Name        string   `json:"name"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (Asset) Kind() EntityType { return EntityAsset }

func (a Asset) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return common.Invalid("name", "is required")
	}
	if strings.TrimSpace(a.Location) == "" {
		return common.Invalid("location", "is required")
	}
	return nil
}

// Vessel is an inspected piece of equipment identified by its plant tag.
type Vessel struct {
	AssetID    string  `json:"asset_id"`
	Tag        string  `json:"tag"`
	Name       string  `json:"name"`
	Material   string  `json:"material"`
	DiameterMM float64 `json:"diameter_mm"`
	LengthMM   float64 `json:"length_mm"`
}

func (Vessel) Kind() EntityType { return EntityVessel }

func (v Vessel) Validate() error {
	if strings.TrimSpace(v.AssetID) == "" {
		return common.Invalid("asset_id", "is required")
	}
	if strings.TrimSpace(v.Tag) == "" {
		return common.Invalid("tag", "is required")
	}
	if v.DiameterMM < 0 {
		return common.Invalid("diameter_mm", "must not be negative")
	}
	if v.LengthMM < 0 {
		return common.Invalid("length_mm", "must not be negative")
	}
	return nil
}

// Scan is one non-intrusive inspection pass over a vessel.
type Scan struct {
	VesselID        string    `json:"vessel_id"`
	Method          string    `json:"method"`
	PerformedAt     time.Time `json:"performed_at"`
	Inspector       string    `json:"inspector"`
	CoveragePercent float64   `json:"coverage_percent"`
	Notes           string    `json:"notes"`
}

func (Scan) Kind() EntityType { return EntityScan }

func (s Scan) Validate() error {
	if strings.TrimSpace(s.VesselID) == "" {
		return common.Invalid("vessel_id", "is required")
	}
	if strings.TrimSpace(s.Method) == "" {
		return common.Invalid("method", "is required")
	}
	if s.PerformedAt.IsZero() {
		return common.Invalid("performed_at", "is required")
	}
	if s.CoveragePercent < 0 || s.CoveragePercent > 100 {
		return common.Invalid("coverage_percent", "must be between 0 and 100")
	}
	return nil
}
