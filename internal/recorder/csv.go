package recorder

import (
	"encoding/csv"
	"strconv"

	"github.com/skypro1111/headband-recorder/internal/protocol"
)

// sensorWriter is the per-sensor CSV file of a session
type sensorWriter struct {
	sensor protocol.SensorType
	file   *FileWriter
	csv    *csv.Writer
	rows   uint64
}

func newSensorWriter(sensor protocol.SensorType, file *FileWriter) (*sensorWriter, error) {
	w := &sensorWriter{
		sensor: sensor,
		file:   file,
		csv:    csv.NewWriter(file),
	}

	info, _ := sensor.Info()
	if err := w.csv.Write(info.CSVHeader); err != nil {
		return nil, err
	}
	w.csv.Flush()
	return w, w.csv.Error()
}

// writeFrame appends one row per reading and flushes them to the file
func (w *sensorWriter) writeFrame(frame *protocol.Frame) (int, error) {
	rows := 0
	var err error

	switch frame.Sensor {
	case protocol.SensorEEG:
		for _, r := range frame.EEG {
			if err = w.csv.Write(eegRow(r)); err != nil {
				break
			}
			rows++
		}
	case protocol.SensorPPG:
		for _, r := range frame.PPG {
			if err = w.csv.Write(ppgRow(r)); err != nil {
				break
			}
			rows++
		}
	case protocol.SensorAccelerometer:
		for _, r := range frame.Accelerometer {
			if err = w.csv.Write(accelRow(r)); err != nil {
				break
			}
			rows++
		}
	}

	w.csv.Flush()
	if err == nil {
		err = w.csv.Error()
	}
	if err != nil {
		return 0, err
	}

	w.rows += uint64(rows)
	return rows, nil
}

func (w *sensorWriter) close() error {
	w.csv.Flush()
	flushErr := w.csv.Error()
	if err := w.file.Close(); err != nil {
		return err
	}
	return flushErr
}

func eegRow(r protocol.EEGReading) []string {
	return []string{
		formatFloat(r.Timestamp),
		strconv.FormatInt(int64(r.Ch1Raw), 10),
		strconv.FormatInt(int64(r.Ch2Raw), 10),
		formatFloat(r.Channel1),
		formatFloat(r.Channel2),
		strconv.FormatBool(r.LeadOff),
	}
}

func ppgRow(r protocol.PPGReading) []string {
	return []string{
		formatFloat(r.Timestamp),
		strconv.FormatInt(int64(r.Red), 10),
		strconv.FormatInt(int64(r.IR), 10),
	}
}

func accelRow(r protocol.AccelerometerReading) []string {
	return []string{
		formatFloat(r.Timestamp),
		strconv.FormatInt(int64(r.X), 10),
		strconv.FormatInt(int64(r.Y), 10),
		strconv.FormatInt(int64(r.Z), 10),
	}
}

// formatFloat uses the shortest representation that parses back to the same value
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
