package l3zones

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/occupancy.report/internal/fsutil"
	"github.com/golang/geo/r2"
)

// ErrInvalidZone is returned for zone configuration that cannot be used.
var ErrInvalidZone = errors.New("invalid zone")

// maxZoneFileBytes caps the zone configuration file size.
const maxZoneFileBytes = 1 << 20

// Thresholds are the occupant counts at which a zone reaches each
// occupancy level. Low is the floor of the Low band; counts below it are
// still reported Low.
type Thresholds struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// DefaultThresholds applies to zones configured as bare polygons.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 5, Medium: 15, High: 30}
}

// ZoneDefinition is one named polygonal region in detector-frame pixels.
// Definitions are immutable for the lifetime of an Engine.
type ZoneDefinition struct {
	ID         int
	Name       string
	Polygon    []r2.Point
	Thresholds Thresholds
}

// Validate checks polygon shape, coordinates and threshold order.
func (z ZoneDefinition) Validate() error {
	if len(z.Polygon) < 3 {
		return fmt.Errorf("%w: zone %d has %d points, need at least 3", ErrInvalidZone, z.ID, len(z.Polygon))
	}
	for i, p := range z.Polygon {
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("%w: zone %d point %d is not finite", ErrInvalidZone, z.ID, i)
		}
	}
	t := z.Thresholds
	if t.Low < 0 || t.Medium < t.Low || t.High < t.Medium {
		return fmt.Errorf("%w: zone %d thresholds must satisfy 0 <= low <= medium <= high, got %d/%d/%d",
			ErrInvalidZone, z.ID, t.Low, t.Medium, t.High)
	}
	return nil
}

// Level classifies an occupant count against the zone thresholds.
func (z ZoneDefinition) Level(count int) OccupancyLevel {
	switch {
	case count >= z.Thresholds.High:
		return LevelHigh
	case count >= z.Thresholds.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ValidateZones validates each zone and rejects duplicate ids.
func ValidateZones(zones []ZoneDefinition) error {
	seen := make(map[int]bool, len(zones))
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			return err
		}
		if seen[z.ID] {
			return fmt.Errorf("%w: duplicate zone id %d", ErrInvalidZone, z.ID)
		}
		seen[z.ID] = true
	}
	return nil
}

// wireZone is the object form of a zone entry:
//
//	{"id":0,"name":"Entrance","polygon":[[x,y],...],"thresholds":{"low":5,"medium":15,"high":30}}
type wireZone struct {
	ID         *int         `json:"id"`
	Name       string       `json:"name"`
	Polygon    [][2]float64 `json:"polygon"`
	Thresholds *Thresholds  `json:"thresholds"`
}

// ParseZones decodes a zone configuration document. Two shapes are
// accepted: a list of bare polygons ([[[x,y],...],...]), numbered by
// position with default thresholds, or a list of zone objects.
func ParseZones(data []byte) ([]ZoneDefinition, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: zone configuration must be a JSON list: %v", ErrInvalidZone, err)
	}

	zones := make([]ZoneDefinition, 0, len(entries))
	for i, raw := range entries {
		z, err := parseZone(i, raw)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	if err := ValidateZones(zones); err != nil {
		return nil, err
	}
	return zones, nil
}

func parseZone(index int, raw json.RawMessage) (ZoneDefinition, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ZoneDefinition{}, fmt.Errorf("%w: zone %d is empty", ErrInvalidZone, index)
	}

	switch trimmed[0] {
	case '[':
		var pts [][2]float64
		if err := json.Unmarshal(trimmed, &pts); err != nil {
			return ZoneDefinition{}, fmt.Errorf("%w: zone %d polygon: %v", ErrInvalidZone, index, err)
		}
		return ZoneDefinition{
			ID:         index,
			Name:       fmt.Sprintf("Zone %d", index),
			Polygon:    toPoints(pts),
			Thresholds: DefaultThresholds(),
		}, nil
	case '{':
		var wz wireZone
		if err := json.Unmarshal(trimmed, &wz); err != nil {
			return ZoneDefinition{}, fmt.Errorf("%w: zone %d: %v", ErrInvalidZone, index, err)
		}
		z := ZoneDefinition{
			ID:         index,
			Name:       wz.Name,
			Polygon:    toPoints(wz.Polygon),
			Thresholds: DefaultThresholds(),
		}
		if wz.ID != nil {
			z.ID = *wz.ID
		}
		if z.Name == "" {
			z.Name = fmt.Sprintf("Zone %d", z.ID)
		}
		if wz.Thresholds != nil {
			z.Thresholds = *wz.Thresholds
		}
		return z, nil
	}
	return ZoneDefinition{}, fmt.Errorf("%w: zone %d must be a polygon or an object", ErrInvalidZone, index)
}

// LoadZones reads and parses a zone configuration file.
func LoadZones(fsys fsutil.FileSystem, path string) ([]ZoneDefinition, error) {
	data, err := fsutil.ReadFileLimited(fsys, path, maxZoneFileBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read zones %s: %w", path, err)
	}
	zones, err := ParseZones(data)
	if err != nil {
		return nil, fmt.Errorf("zones %s: %w", path, err)
	}
	diagf("loaded %d zones from %s", len(zones), path)
	return zones, nil
}

func toPoints(pts [][2]float64) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = r2.Point{X: p[0], Y: p[1]}
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
