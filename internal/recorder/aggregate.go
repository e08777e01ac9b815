package recorder

import (
	"bytes"
	"encoding/json"

	"github.com/skypro1111/headband-recorder/internal/protocol"
)

// Column is one typed field of the aggregate buffer. Rows where the field does
// not apply are stored as absent and encoded as JSON null.
type Column[T any] struct {
	values  []T
	present []bool
}

// Append adds a value row
func (c *Column[T]) Append(v T) {
	c.values = append(c.values, v)
	c.present = append(c.present, true)
}

// AppendAbsent adds an empty row
func (c *Column[T]) AppendAbsent() {
	var zero T
	c.values = append(c.values, zero)
	c.present = append(c.present, false)
}

// Len returns the number of rows
func (c *Column[T]) Len() int {
	return len(c.values)
}

func (c *Column[T]) reset() {
	c.values = c.values[:0]
	c.present = c.present[:0]
}

// MarshalJSON encodes the column as an array with null for absent rows
func (c Column[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range c.values {
		if i > 0 {
			buf.WriteByte(',')
		}
		if !c.present[i] {
			buf.WriteString("null")
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Aggregate accumulates every recorded sample across sensor kinds as parallel
// columns. All columns always have the same length.
type Aggregate struct {
	Timestamp   Column[float64] `json:"timestamp"`
	EEGChannel1 Column[float64] `json:"eegChannel1"`
	EEGChannel2 Column[float64] `json:"eegChannel2"`
	EEGLeadOff  Column[bool]    `json:"eegLeadOff"`
	PPGRed      Column[int32]   `json:"ppgRed"`
	PPGIr       Column[int32]   `json:"ppgIr"`
	AccelX      Column[int16]   `json:"accelX"`
	AccelY      Column[int16]   `json:"accelY"`
	AccelZ      Column[int16]   `json:"accelZ"`
}

// NewAggregate creates an empty aggregate buffer
func NewAggregate() *Aggregate {
	return &Aggregate{}
}

// AppendEEG adds one EEG sample row
func (a *Aggregate) AppendEEG(r protocol.EEGReading) {
	a.Timestamp.Append(r.Timestamp)
	a.EEGChannel1.Append(r.Channel1)
	a.EEGChannel2.Append(r.Channel2)
	a.EEGLeadOff.Append(r.LeadOff)
	a.PPGRed.AppendAbsent()
	a.PPGIr.AppendAbsent()
	a.AccelX.AppendAbsent()
	a.AccelY.AppendAbsent()
	a.AccelZ.AppendAbsent()
}

// AppendPPG adds one PPG sample row
func (a *Aggregate) AppendPPG(r protocol.PPGReading) {
	a.Timestamp.Append(r.Timestamp)
	a.EEGChannel1.AppendAbsent()
	a.EEGChannel2.AppendAbsent()
	a.EEGLeadOff.AppendAbsent()
	a.PPGRed.Append(r.Red)
	a.PPGIr.Append(r.IR)
	a.AccelX.AppendAbsent()
	a.AccelY.AppendAbsent()
	a.AccelZ.AppendAbsent()
}

// AppendAccelerometer adds one accelerometer sample row
func (a *Aggregate) AppendAccelerometer(r protocol.AccelerometerReading) {
	a.Timestamp.Append(r.Timestamp)
	a.EEGChannel1.AppendAbsent()
	a.EEGChannel2.AppendAbsent()
	a.EEGLeadOff.AppendAbsent()
	a.PPGRed.AppendAbsent()
	a.PPGIr.AppendAbsent()
	a.AccelX.Append(r.X)
	a.AccelY.Append(r.Y)
	a.AccelZ.Append(r.Z)
}

// Len returns the number of sample rows
func (a *Aggregate) Len() int {
	return a.Timestamp.Len()
}

// Reset empties every column, keeping allocated capacity
func (a *Aggregate) Reset() {
	a.Timestamp.reset()
	a.EEGChannel1.reset()
	a.EEGChannel2.reset()
	a.EEGLeadOff.reset()
	a.PPGRed.reset()
	a.PPGIr.reset()
	a.AccelX.reset()
	a.AccelY.reset()
	a.AccelZ.reset()
}

// Encode serializes the aggregate as one JSON document
func (a *Aggregate) Encode() ([]byte, error) {
	return json.Marshal(a)
}
