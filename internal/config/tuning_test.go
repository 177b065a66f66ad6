package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	// Test that defaults are set via pointers
	if cfg.GhostBufferSeconds == nil || *cfg.GhostBufferSeconds != 5.0 {
		t.Errorf("Expected GhostBufferSeconds 5.0, got %v", cfg.GhostBufferSeconds)
	}
	if cfg.MinimumConsecutiveFrames == nil || *cfg.MinimumConsecutiveFrames != 3 {
		t.Errorf("Expected MinimumConsecutiveFrames 3, got %v", cfg.MinimumConsecutiveFrames)
	}
	if cfg.ZoneAnchor == nil || *cfg.ZoneAnchor != AnchorCenter {
		t.Errorf("Expected ZoneAnchor %q, got %v", AnchorCenter, cfg.ZoneAnchor)
	}
	if cfg.SmoothingWindow == nil || *cfg.SmoothingWindow != 10 {
		t.Errorf("Expected SmoothingWindow 10, got %v", cfg.SmoothingWindow)
	}

	// Test getter methods
	if cfg.GetStandingSpeedThreshold() != 25.0 {
		t.Errorf("GetStandingSpeedThreshold() = %f, want 25", cfg.GetStandingSpeedThreshold())
	}
	if cfg.GetRunningSpeedThreshold() != 700.0 {
		t.Errorf("GetRunningSpeedThreshold() = %f, want 700", cfg.GetRunningSpeedThreshold())
	}
	if cfg.GhostWindowFrames() != 150 {
		t.Errorf("GhostWindowFrames() = %d, want 150", cfg.GhostWindowFrames())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultTuningConfig() failed validation: %v", err)
	}
}

func TestDefaultsFileMatchesBuiltins(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	builtin := EmptyTuningConfig()

	if fromFile.GetGhostDistanceThreshold() != builtin.GetGhostDistanceThreshold() {
		t.Errorf("ghost_distance_threshold: file %f, builtin %f",
			fromFile.GetGhostDistanceThreshold(), builtin.GetGhostDistanceThreshold())
	}
	if fromFile.GetWalkingThreshold() != builtin.GetWalkingThreshold() {
		t.Errorf("walking_threshold: file %f, builtin %f",
			fromFile.GetWalkingThreshold(), builtin.GetWalkingThreshold())
	}
	if fromFile.GetKeypointHistoryLength() != builtin.GetKeypointHistoryLength() {
		t.Errorf("keypoint_history_length: file %d, builtin %d",
			fromFile.GetKeypointHistoryLength(), builtin.GetKeypointHistoryLength())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "ghost_buffer_seconds": 2.5,
  "frame_rate": 10,
  "ghost_distance_threshold": 120,
  "zone_anchor": "foot",
  "smoothing_window": 5
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GhostWindowFrames(); got != 25 {
		t.Errorf("GhostWindowFrames() = %d, want 25", got)
	}
	if got := cfg.GetZoneAnchor(); got != AnchorFoot {
		t.Errorf("GetZoneAnchor() = %q, want %q", got, AnchorFoot)
	}
	if got := cfg.GetSmoothingWindow(); got != 5 {
		t.Errorf("GetSmoothingWindow() = %d, want 5", got)
	}
	// Omitted fields fall back to defaults.
	if got := cfg.GetSittingHipAngleMax(); got != 120.0 {
		t.Errorf("GetSittingHipAngleMax() = %f, want 120", got)
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	_, err := LoadTuningConfig("config.yaml")
	if err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("Expected extension error, got %v", err)
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "ghost_iou_threshold": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr string
	}{
		{
			name: "valid config",
			cfg:  DefaultTuningConfig(),
		},
		{
			name: "empty config is valid",
			cfg:  &TuningConfig{},
		},
		{
			name:    "walking_slow above walking",
			cfg:     &TuningConfig{WalkingSlowThreshold: ptrFloat64(250)},
			wantErr: "walking_threshold (200.0) must be greater than walking_slow_threshold (250.0)",
		},
		{
			name:    "equal breakpoints",
			cfg:     &TuningConfig{FastWalkingThreshold: ptrFloat64(700)},
			wantErr: "running_speed_threshold",
		},
		{
			name:    "negative standing threshold",
			cfg:     &TuningConfig{StandingSpeedThreshold: ptrFloat64(-1)},
			wantErr: "standing_speed_threshold must be positive",
		},
		{
			name:    "ghost iou out of range",
			cfg:     &TuningConfig{GhostIoUThreshold: ptrFloat64(1.5)},
			wantErr: "ghost_iou_threshold",
		},
		{
			name:    "zero consecutive frames",
			cfg:     &TuningConfig{MinimumConsecutiveFrames: ptrInt(0)},
			wantErr: "minimum_consecutive_frames",
		},
		{
			name:    "unknown anchor",
			cfg:     &TuningConfig{ZoneAnchor: ptrString("head")},
			wantErr: "zone_anchor",
		},
		{
			name:    "warmup longer than history",
			cfg:     &TuningConfig{ActivityWarmupFrames: ptrInt(40)},
			wantErr: "activity_warmup_frames",
		},
		{
			name:    "zero frame rate",
			cfg:     &TuningConfig{FrameRate: ptrFloat64(0)},
			wantErr: "frame_rate",
		},
		{
			name:    "zero smoothing window",
			cfg:     &TuningConfig{SmoothingWindow: ptrInt(0)},
			wantErr: "smoothing_window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}
