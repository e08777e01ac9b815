package protocol

import (
	"fmt"
	"strings"
)

// SensorType identifies the kind of sensor a notification frame came from
type SensorType uint8

const (
	SensorEEG SensorType = iota + 1
	SensorPPG
	SensorAccelerometer
	SensorBattery
)

// SensorInfo holds static metadata for one sensor kind
type SensorInfo struct {
	Name        string // Stable lowercase name used in config and APIs
	Tag         string // File name prefix
	FrameLength int    // Exact (or minimum, for accelerometer/battery) frame size
	SampleSize  int    // Per-sample byte stride after the header
	SampleRate  float64
	CSVHeader   []string
}

var sensorRegistry = map[SensorType]SensorInfo{
	SensorEEG: {
		Name:        "eeg",
		Tag:         "eeg",
		FrameLength: EEGFrameSize,
		SampleSize:  EEGSampleSize,
		SampleRate:  SampleRateEEG,
		CSVHeader:   []string{"timestamp", "ch1Raw", "ch2Raw", "ch1uV", "ch2uV", "leadOff"},
	},
	SensorPPG: {
		Name:        "ppg",
		Tag:         "ppg",
		FrameLength: PPGFrameSize,
		SampleSize:  PPGSampleSize,
		SampleRate:  SampleRatePPG,
		CSVHeader:   []string{"timestamp", "red", "ir"},
	},
	SensorAccelerometer: {
		Name:        "accelerometer",
		Tag:         "accelerometer",
		FrameLength: AccelFrameSize,
		SampleSize:  AccelSampleSize,
		CSVHeader:   []string{"timestamp", "x", "y", "z"},
	},
	SensorBattery: {
		Name:        "battery",
		Tag:         "battery",
		FrameLength: BatteryFrameSize,
		SampleSize:  BatteryFrameSize,
		CSVHeader:   []string{"timestamp", "level"},
	},
}

// AllSensors lists every known sensor kind in wire id order
var AllSensors = []SensorType{SensorEEG, SensorPPG, SensorAccelerometer, SensorBattery}

// Info returns the static metadata for the sensor kind
func (s SensorType) Info() (SensorInfo, bool) {
	info, ok := sensorRegistry[s]
	return info, ok
}

// IsValid reports whether s is a known sensor kind
func (s SensorType) IsValid() bool {
	_, ok := sensorRegistry[s]
	return ok
}

// String returns the sensor's lowercase name
func (s SensorType) String() string {
	if info, ok := sensorRegistry[s]; ok {
		return info.Name
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(s))
}

// FileName builds the per-session CSV file name for the sensor
func (s SensorType) FileName(stamp string) string {
	info, ok := sensorRegistry[s]
	if !ok {
		return fmt.Sprintf("sensor%d_data_%s.csv", uint8(s), stamp)
	}
	return fmt.Sprintf("%s_data_%s.csv", info.Tag, stamp)
}

// MarshalText implements encoding.TextMarshaler
func (s SensorType) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownSensor, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *SensorType) UnmarshalText(text []byte) error {
	parsed, err := ParseSensorType(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSensorType parses a sensor name (case-insensitive); "accel" is accepted as shorthand
func ParseSensorType(name string) (SensorType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "eeg":
		return SensorEEG, nil
	case "ppg":
		return SensorPPG, nil
	case "accelerometer", "accel":
		return SensorAccelerometer, nil
	case "battery":
		return SensorBattery, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSensor, name)
	}
}

// ParseSensorTypes parses a list of sensor names, dropping duplicates
func ParseSensorTypes(names []string) ([]SensorType, error) {
	seen := make(map[SensorType]bool, len(names))
	types := make([]SensorType, 0, len(names))
	for _, name := range names {
		s, err := ParseSensorType(name)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		types = append(types, s)
	}
	return types, nil
}
