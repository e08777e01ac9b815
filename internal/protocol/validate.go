package protocol

import "math"

// EEGMaxAmplitude is the largest physiologically plausible EEG amplitude in µV
const EEGMaxAmplitude = 200.0

// ValidateEEGReading reports whether both channels are within ±EEGMaxAmplitude
func ValidateEEGReading(r EEGReading) bool {
	return math.Abs(r.Channel1) <= EEGMaxAmplitude && math.Abs(r.Channel2) <= EEGMaxAmplitude
}

// ValidatePPGReading reports whether both PPG channels are non-negative
func ValidatePPGReading(r PPGReading) bool {
	return r.Red >= 0 && r.IR >= 0
}

// ValidateAccelerometerReading always succeeds; the full int16 range is meaningful
func ValidateAccelerometerReading(AccelerometerReading) bool {
	return true
}

// ValidateFrame returns a copy of the frame holding only valid readings, plus the
// number of readings removed. Battery readings are always kept.
func ValidateFrame(f *Frame) (*Frame, int) {
	out := &Frame{Sensor: f.Sensor}
	dropped := 0

	switch f.Sensor {
	case SensorEEG:
		out.EEG = make([]EEGReading, 0, len(f.EEG))
		for _, r := range f.EEG {
			if ValidateEEGReading(r) {
				out.EEG = append(out.EEG, r)
			} else {
				dropped++
			}
		}
	case SensorPPG:
		out.PPG = make([]PPGReading, 0, len(f.PPG))
		for _, r := range f.PPG {
			if ValidatePPGReading(r) {
				out.PPG = append(out.PPG, r)
			} else {
				dropped++
			}
		}
	case SensorAccelerometer:
		out.Accelerometer = make([]AccelerometerReading, 0, len(f.Accelerometer))
		for _, r := range f.Accelerometer {
			if ValidateAccelerometerReading(r) {
				out.Accelerometer = append(out.Accelerometer, r)
			} else {
				dropped++
			}
		}
	case SensorBattery:
		out.Battery = append([]BatteryReading(nil), f.Battery...)
	}

	return out, dropped
}
