package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Zone anchor modes.
const (
	AnchorCenter = "center"
	AnchorFoot   = "foot"
)

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional: the Get* accessors fall back to documented
// defaults, so partial JSON files are safe. A loaded TuningConfig is
// treated as immutable for the lifetime of a stream.
type TuningConfig struct {
	// Detection params (applied upstream of the tracking core)
	DetectionConfidenceThreshold *float64 `json:"detection_confidence_threshold,omitempty"`
	FrameRate                    *float64 `json:"frame_rate,omitempty"`

	// Association and ghost re-identification params
	GhostBufferSeconds       *float64 `json:"ghost_buffer_seconds,omitempty"`
	GhostIoUThreshold        *float64 `json:"ghost_iou_threshold,omitempty"`
	GhostDistanceThreshold   *float64 `json:"ghost_distance_threshold,omitempty"` // pixels
	AssociationIoUThreshold  *float64 `json:"association_iou_threshold,omitempty"`
	MinimumConsecutiveFrames *int     `json:"minimum_consecutive_frames,omitempty"`
	MaxTracks                *int     `json:"max_tracks,omitempty"`

	// Zone params
	ZoneAnchor *string `json:"zone_anchor,omitempty"` // "center" or "foot"

	// Activity params
	KeypointHistoryLength *int     `json:"keypoint_history_length,omitempty"`
	KeypointConfidenceMin *float64 `json:"keypoint_confidence_min,omitempty"`
	ActivityWarmupFrames  *int     `json:"activity_warmup_frames,omitempty"`
	VelocityWindowSeconds *float64 `json:"velocity_window_seconds,omitempty"`

	// Speed breakpoints (px/s)
	StandingSpeedThreshold *float64 `json:"standing_speed_threshold,omitempty"`
	WalkingSlowThreshold   *float64 `json:"walking_slow_threshold,omitempty"`
	WalkingThreshold       *float64 `json:"walking_threshold,omitempty"`
	FastWalkingThreshold   *float64 `json:"fast_walking_threshold,omitempty"`
	RunningSpeedThreshold  *float64 `json:"running_speed_threshold,omitempty"`

	// Posture params (degrees)
	SittingHipAngleMax  *float64 `json:"sitting_hip_angle_max,omitempty"`
	ReadingHeadAngleMin *float64 `json:"reading_head_angle_min,omitempty"`

	SmoothingWindow *int `json:"smoothing_window,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		DetectionConfidenceThreshold: ptrFloat64(c.GetDetectionConfidenceThreshold()),
		FrameRate:                    ptrFloat64(c.GetFrameRate()),
		GhostBufferSeconds:           ptrFloat64(c.GetGhostBufferSeconds()),
		GhostIoUThreshold:            ptrFloat64(c.GetGhostIoUThreshold()),
		GhostDistanceThreshold:       ptrFloat64(c.GetGhostDistanceThreshold()),
		AssociationIoUThreshold:      ptrFloat64(c.GetAssociationIoUThreshold()),
		MinimumConsecutiveFrames:     ptrInt(c.GetMinimumConsecutiveFrames()),
		MaxTracks:                    ptrInt(c.GetMaxTracks()),
		ZoneAnchor:                   ptrString(c.GetZoneAnchor()),
		KeypointHistoryLength:        ptrInt(c.GetKeypointHistoryLength()),
		KeypointConfidenceMin:        ptrFloat64(c.GetKeypointConfidenceMin()),
		ActivityWarmupFrames:         ptrInt(c.GetActivityWarmupFrames()),
		VelocityWindowSeconds:        ptrFloat64(c.GetVelocityWindowSeconds()),
		StandingSpeedThreshold:       ptrFloat64(c.GetStandingSpeedThreshold()),
		WalkingSlowThreshold:         ptrFloat64(c.GetWalkingSlowThreshold()),
		WalkingThreshold:             ptrFloat64(c.GetWalkingThreshold()),
		FastWalkingThreshold:         ptrFloat64(c.GetFastWalkingThreshold()),
		RunningSpeedThreshold:        ptrFloat64(c.GetRunningSpeedThreshold()),
		SittingHipAngleMax:           ptrFloat64(c.GetSittingHipAngleMax()),
		ReadingHeadAngleMin:          ptrFloat64(c.GetReadingHeadAngleMin()),
		SmoothingWindow:              ptrInt(c.GetSmoothingWindow()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes and validates a JSON tuning document.
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/people/l2track/
		"../../../../" + DefaultConfigPath,    // from internal/people/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Misordered
// thresholds are reported, never silently reordered.
func (c *TuningConfig) Validate() error {
	if v := c.GetDetectionConfidenceThreshold(); v < 0 || v > 1 || math.IsNaN(v) {
		return fmt.Errorf("detection_confidence_threshold must be between 0 and 1, got %f", v)
	}
	if v := c.GetFrameRate(); !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("frame_rate must be positive, got %f", v)
	}
	if v := c.GetGhostBufferSeconds(); v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("ghost_buffer_seconds must be non-negative, got %f", v)
	}
	if v := c.GetGhostIoUThreshold(); !(v > 0) || v > 1 {
		return fmt.Errorf("ghost_iou_threshold must be in (0, 1], got %f", v)
	}
	if v := c.GetAssociationIoUThreshold(); !(v > 0) || v > 1 {
		return fmt.Errorf("association_iou_threshold must be in (0, 1], got %f", v)
	}
	if v := c.GetGhostDistanceThreshold(); v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("ghost_distance_threshold must be non-negative, got %f", v)
	}
	if v := c.GetMinimumConsecutiveFrames(); v < 1 {
		return fmt.Errorf("minimum_consecutive_frames must be at least 1, got %d", v)
	}
	if v := c.GetMaxTracks(); v < 1 {
		return fmt.Errorf("max_tracks must be at least 1, got %d", v)
	}
	if a := c.GetZoneAnchor(); a != AnchorCenter && a != AnchorFoot {
		return fmt.Errorf("zone_anchor must be %q or %q, got %q", AnchorCenter, AnchorFoot, a)
	}
	if v := c.GetKeypointHistoryLength(); v < 2 {
		return fmt.Errorf("keypoint_history_length must be at least 2, got %d", v)
	}
	if v := c.GetKeypointConfidenceMin(); v < 0 || v > 1 || math.IsNaN(v) {
		return fmt.Errorf("keypoint_confidence_min must be between 0 and 1, got %f", v)
	}
	if v := c.GetActivityWarmupFrames(); v < 1 || v > c.GetKeypointHistoryLength() {
		return fmt.Errorf("activity_warmup_frames must be between 1 and keypoint_history_length (%d), got %d",
			c.GetKeypointHistoryLength(), v)
	}
	if v := c.GetVelocityWindowSeconds(); !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("velocity_window_seconds must be positive, got %f", v)
	}
	if v := c.GetSmoothingWindow(); v < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", v)
	}
	if err := c.validateSpeedThresholds(); err != nil {
		return err
	}
	if v := c.GetSittingHipAngleMax(); !(v > 0) || v > 180 {
		return fmt.Errorf("sitting_hip_angle_max must be in (0, 180], got %f", v)
	}
	if v := c.GetReadingHeadAngleMin(); !(v > 0) || v > 90 {
		return fmt.Errorf("reading_head_angle_min must be in (0, 90], got %f", v)
	}
	return nil
}

// validateSpeedThresholds requires the five speed breakpoints to be
// positive and strictly increasing.
func (c *TuningConfig) validateSpeedThresholds() error {
	breakpoints := []struct {
		name  string
		value float64
	}{
		{"standing_speed_threshold", c.GetStandingSpeedThreshold()},
		{"walking_slow_threshold", c.GetWalkingSlowThreshold()},
		{"walking_threshold", c.GetWalkingThreshold()},
		{"fast_walking_threshold", c.GetFastWalkingThreshold()},
		{"running_speed_threshold", c.GetRunningSpeedThreshold()},
	}
	for i, bp := range breakpoints {
		if !(bp.value > 0) || math.IsInf(bp.value, 0) {
			return fmt.Errorf("%s must be positive, got %f", bp.name, bp.value)
		}
		if i == 0 {
			continue
		}
		prev := breakpoints[i-1]
		if bp.value <= prev.value {
			return fmt.Errorf("%s (%.1f) must be greater than %s (%.1f)", bp.name, bp.value, prev.name, prev.value)
		}
	}
	return nil
}

// GhostWindowFrames converts the ghost buffer duration into a frame count
// at the configured frame rate.
func (c *TuningConfig) GhostWindowFrames() int64 {
	return int64(math.Round(c.GetGhostBufferSeconds() * c.GetFrameRate()))
}

// GetDetectionConfidenceThreshold returns the detection_confidence_threshold value or the default.
func (c *TuningConfig) GetDetectionConfidenceThreshold() float64 {
	if c.DetectionConfidenceThreshold == nil {
		return 0.3
	}
	return *c.DetectionConfidenceThreshold
}

// GetFrameRate returns the frame_rate value or the default.
func (c *TuningConfig) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 30
	}
	return *c.FrameRate
}

// GetGhostBufferSeconds returns the ghost_buffer_seconds value or the default.
func (c *TuningConfig) GetGhostBufferSeconds() float64 {
	if c.GhostBufferSeconds == nil {
		return 5.0
	}
	return *c.GhostBufferSeconds
}

// GetGhostIoUThreshold returns the ghost_iou_threshold value or the default.
func (c *TuningConfig) GetGhostIoUThreshold() float64 {
	if c.GhostIoUThreshold == nil {
		return 0.2
	}
	return *c.GhostIoUThreshold
}

// GetGhostDistanceThreshold returns the ghost_distance_threshold value or the default.
func (c *TuningConfig) GetGhostDistanceThreshold() float64 {
	if c.GhostDistanceThreshold == nil {
		return 200.0
	}
	return *c.GhostDistanceThreshold
}

// GetAssociationIoUThreshold returns the association_iou_threshold value or the default.
func (c *TuningConfig) GetAssociationIoUThreshold() float64 {
	if c.AssociationIoUThreshold == nil {
		return 0.3
	}
	return *c.AssociationIoUThreshold
}

// GetMinimumConsecutiveFrames returns the minimum_consecutive_frames value or the default.
func (c *TuningConfig) GetMinimumConsecutiveFrames() int {
	if c.MinimumConsecutiveFrames == nil {
		return 3
	}
	return *c.MinimumConsecutiveFrames
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 256
	}
	return *c.MaxTracks
}

// GetZoneAnchor returns the zone_anchor value or the default.
func (c *TuningConfig) GetZoneAnchor() string {
	if c.ZoneAnchor == nil || *c.ZoneAnchor == "" {
		return AnchorCenter
	}
	return *c.ZoneAnchor
}

// GetKeypointHistoryLength returns the keypoint_history_length value or the default.
func (c *TuningConfig) GetKeypointHistoryLength() int {
	if c.KeypointHistoryLength == nil {
		return 30
	}
	return *c.KeypointHistoryLength
}

// GetKeypointConfidenceMin returns the keypoint_confidence_min value or the default.
func (c *TuningConfig) GetKeypointConfidenceMin() float64 {
	if c.KeypointConfidenceMin == nil {
		return 0.25
	}
	return *c.KeypointConfidenceMin
}

// GetActivityWarmupFrames returns the activity_warmup_frames value or the default.
func (c *TuningConfig) GetActivityWarmupFrames() int {
	if c.ActivityWarmupFrames == nil {
		return 5
	}
	return *c.ActivityWarmupFrames
}

// GetVelocityWindowSeconds returns the velocity_window_seconds value or the default.
func (c *TuningConfig) GetVelocityWindowSeconds() float64 {
	if c.VelocityWindowSeconds == nil {
		return 0.5
	}
	return *c.VelocityWindowSeconds
}

// GetStandingSpeedThreshold returns the standing_speed_threshold value or the default.
func (c *TuningConfig) GetStandingSpeedThreshold() float64 {
	if c.StandingSpeedThreshold == nil {
		return 25.0
	}
	return *c.StandingSpeedThreshold
}

// GetWalkingSlowThreshold returns the walking_slow_threshold value or the default.
func (c *TuningConfig) GetWalkingSlowThreshold() float64 {
	if c.WalkingSlowThreshold == nil {
		return 100.0
	}
	return *c.WalkingSlowThreshold
}

// GetWalkingThreshold returns the walking_threshold value or the default.
func (c *TuningConfig) GetWalkingThreshold() float64 {
	if c.WalkingThreshold == nil {
		return 200.0
	}
	return *c.WalkingThreshold
}

// GetFastWalkingThreshold returns the fast_walking_threshold value or the default.
func (c *TuningConfig) GetFastWalkingThreshold() float64 {
	if c.FastWalkingThreshold == nil {
		return 350.0
	}
	return *c.FastWalkingThreshold
}

// GetRunningSpeedThreshold returns the running_speed_threshold value or the default.
// Deployments are expected to tune this; 700 px/s is conservative for
// overhead CCTV where people near the camera cover more pixels.
func (c *TuningConfig) GetRunningSpeedThreshold() float64 {
	if c.RunningSpeedThreshold == nil {
		return 700.0
	}
	return *c.RunningSpeedThreshold
}

// GetSittingHipAngleMax returns the sitting_hip_angle_max value or the default.
func (c *TuningConfig) GetSittingHipAngleMax() float64 {
	if c.SittingHipAngleMax == nil {
		return 120.0
	}
	return *c.SittingHipAngleMax
}

// GetReadingHeadAngleMin returns the reading_head_angle_min value or the default.
func (c *TuningConfig) GetReadingHeadAngleMin() float64 {
	if c.ReadingHeadAngleMin == nil {
		return 30.0
	}
	return *c.ReadingHeadAngleMin
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *TuningConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 10
	}
	return *c.SmoothingWindow
}
