package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout constants
const (
	// Every sample-bearing frame starts with a little-endian tick counter
	HeaderSize = 4

	// EEG sample: [LeadOff:1][Ch1:3][Ch2:3]
	EEGSampleSize      = 7
	EEGSamplesPerFrame = 25
	EEGFrameSize       = HeaderSize + EEGSampleSize*EEGSamplesPerFrame

	// PPG sample: [Red:3][IR:3]
	PPGSampleSize      = 6
	PPGSamplesPerFrame = 28
	PPGFrameSize       = HeaderSize + PPGSampleSize*PPGSamplesPerFrame

	// Accelerometer sample: x, y, z each in a 2-byte slot
	AccelSampleSize = 6
	AccelFrameSize  = HeaderSize + AccelSampleSize

	BatteryFrameSize = 1
)

// Sampling and scaling constants
const (
	// Header ticks are milliseconds since device boot
	TicksPerSecond = 1000.0

	SampleRateEEG = 250.0 // Hz
	SampleRatePPG = 100.0 // Hz

	// EEGMicrovoltsPerCount converts a 24-bit ADC count to µV (Vref 4.5 V, gain 24)
	EEGMicrovoltsPerCount = 4.5 / 24.0 / 8388607.0 * 1e6
)

var (
	// ErrLengthMismatch is wrapped by every LengthMismatchError
	ErrLengthMismatch = errors.New("frame length mismatch")
	// ErrEmptyInput is returned when a frame that needs at least one byte is empty
	ErrEmptyInput = errors.New("empty input")
	// ErrUnknownSensor is returned for sensor ids or names outside the registry
	ErrUnknownSensor = errors.New("unknown sensor type")
)

// LengthMismatchError reports a frame whose size violates its sensor's layout
type LengthMismatchError struct {
	Sensor   SensorType
	Expected int
	Actual   int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("%s frame length mismatch: expected %d bytes, got %d", e.Sensor, e.Expected, e.Actual)
}

// Unwrap lets errors.Is match ErrLengthMismatch
func (e *LengthMismatchError) Unwrap() error {
	return ErrLengthMismatch
}

// EEGReading is one sample of the two-channel EEG stream
type EEGReading struct {
	Channel1  float64 `json:"channel1"` // µV
	Channel2  float64 `json:"channel2"` // µV
	Ch1Raw    int32   `json:"ch1Raw"`
	Ch2Raw    int32   `json:"ch2Raw"`
	LeadOff   bool    `json:"leadOff"`
	Timestamp float64 `json:"timestamp"` // seconds
}

// PPGReading is one red/infrared photoplethysmography sample
type PPGReading struct {
	Red       int32   `json:"red"`
	IR        int32   `json:"ir"`
	Timestamp float64 `json:"timestamp"`
}

// AccelerometerReading is one three-axis accelerometer sample
type AccelerometerReading struct {
	X         int16   `json:"x"`
	Y         int16   `json:"y"`
	Z         int16   `json:"z"`
	Timestamp float64 `json:"timestamp"`
}

// BatteryReading carries the battery percentage. Battery frames have no header,
// so Timestamp stays zero unless the receiver stamps it.
type BatteryReading struct {
	Level     uint8   `json:"level"`
	Timestamp float64 `json:"timestamp"`
}

// Frame is a fully decoded notification. Only the slice matching Sensor is set.
type Frame struct {
	Sensor        SensorType             `json:"sensor"`
	EEG           []EEGReading           `json:"eeg,omitempty"`
	PPG           []PPGReading           `json:"ppg,omitempty"`
	Accelerometer []AccelerometerReading `json:"accelerometer,omitempty"`
	Battery       []BatteryReading       `json:"battery,omitempty"`
}

// Len returns the number of readings carried by the frame
func (f *Frame) Len() int {
	switch f.Sensor {
	case SensorEEG:
		return len(f.EEG)
	case SensorPPG:
		return len(f.PPG)
	case SensorAccelerometer:
		return len(f.Accelerometer)
	case SensorBattery:
		return len(f.Battery)
	default:
		return 0
	}
}

// String returns a human-readable summary of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Sensor:%s, Readings:%d}", f.Sensor, f.Len())
}

// Decode turns a raw notification payload into a Frame for the declared sensor kind
func Decode(sensor SensorType, data []byte) (*Frame, error) {
	frame := &Frame{Sensor: sensor}

	switch sensor {
	case SensorEEG:
		readings, err := ParseEEGData(data)
		if err != nil {
			return nil, err
		}
		frame.EEG = readings

	case SensorPPG:
		readings, err := ParsePPGData(data)
		if err != nil {
			return nil, err
		}
		frame.PPG = readings

	case SensorAccelerometer:
		readings, err := ParseAccelerometerData(data)
		if err != nil {
			return nil, err
		}
		frame.Accelerometer = readings

	case SensorBattery:
		reading, err := ParseBatteryData(data)
		if err != nil {
			return nil, err
		}
		frame.Battery = []BatteryReading{reading}

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownSensor, uint8(sensor))
	}

	return frame, nil
}

// ParseEEGData decodes a 179-byte EEG frame into 25 readings
// Layout: [Ticks:4 LE] then 25 x [LeadOff:1][Ch1:3 BE][Ch2:3 BE]
func ParseEEGData(data []byte) ([]EEGReading, error) {
	if len(data) != EEGFrameSize {
		return nil, &LengthMismatchError{Sensor: SensorEEG, Expected: EEGFrameSize, Actual: len(data)}
	}

	base := headerSeconds(data)
	readings := make([]EEGReading, EEGSamplesPerFrame)

	for i := range readings {
		offset := HeaderSize + i*EEGSampleSize
		sample := data[offset : offset+EEGSampleSize]

		ch1 := int24(sample[1:4])
		ch2 := int24(sample[4:7])

		readings[i] = EEGReading{
			Channel1:  float64(ch1) * EEGMicrovoltsPerCount,
			Channel2:  float64(ch2) * EEGMicrovoltsPerCount,
			Ch1Raw:    ch1,
			Ch2Raw:    ch2,
			LeadOff:   sample[0] != 0,
			Timestamp: base + float64(i)/SampleRateEEG,
		}
	}

	return readings, nil
}

// ParsePPGData decodes a 172-byte PPG frame into 28 readings
// Layout: [Ticks:4 LE] then 28 x [Red:3 BE][IR:3 BE]
func ParsePPGData(data []byte) ([]PPGReading, error) {
	if len(data) != PPGFrameSize {
		return nil, &LengthMismatchError{Sensor: SensorPPG, Expected: PPGFrameSize, Actual: len(data)}
	}

	base := headerSeconds(data)
	readings := make([]PPGReading, PPGSamplesPerFrame)

	for i := range readings {
		offset := HeaderSize + i*PPGSampleSize
		sample := data[offset : offset+PPGSampleSize]

		readings[i] = PPGReading{
			Red:       uint24(sample[0:3]),
			IR:        uint24(sample[3:6]),
			Timestamp: base + float64(i)/SampleRatePPG,
		}
	}

	return readings, nil
}

// ParseAccelerometerData decodes an accelerometer frame into exactly one reading.
// Only the odd bytes of the sample window (frame offsets 5, 7, 9) carry data, each
// read as a signed byte; bytes past offset 9 are ignored.
func ParseAccelerometerData(data []byte) ([]AccelerometerReading, error) {
	if len(data) < AccelFrameSize {
		return nil, &LengthMismatchError{Sensor: SensorAccelerometer, Expected: AccelFrameSize, Actual: len(data)}
	}

	reading := AccelerometerReading{
		X:         int16(int8(data[HeaderSize+1])),
		Y:         int16(int8(data[HeaderSize+3])),
		Z:         int16(int8(data[HeaderSize+5])),
		Timestamp: headerSeconds(data),
	}

	return []AccelerometerReading{reading}, nil
}

// ParseBatteryData decodes a battery notification; the first byte is the percentage
func ParseBatteryData(data []byte) (BatteryReading, error) {
	if len(data) == 0 {
		return BatteryReading{}, fmt.Errorf("battery frame: %w", ErrEmptyInput)
	}
	return BatteryReading{Level: data[0]}, nil
}

// headerSeconds converts the little-endian tick header to seconds
func headerSeconds(data []byte) float64 {
	return float64(binary.LittleEndian.Uint32(data[0:HeaderSize])) / TicksPerSecond
}

// int24 reconstructs a big-endian two's-complement 24-bit value
func int24(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

// uint24 reads a big-endian unsigned 24-bit value
func uint24(b []byte) int32 {
	return int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
}
