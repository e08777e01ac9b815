package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/skypro1111/headband-recorder/internal/protocol"
)

// Compression identifies the stream compression of a capture file.
// Values are stored in the file header; changing them breaks old captures.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

// String returns the configuration name of the compression
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name; the empty string means none
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, zstd or lz4)", name)
	}
}

// File header: magic, format version, compression tag, reserved
const (
	headerSize    = 8
	formatVersion = 1
)

var magic = [5]byte{'H', 'B', 'C', 'A', 'P'}

var (
	// ErrBadMagic is returned when a file is not a capture log
	ErrBadMagic = errors.New("not a capture file")
	// ErrUnsupportedVersion is returned for capture files from a newer format
	ErrUnsupportedVersion = errors.New("unsupported capture format version")
	// ErrClosed is returned when writing to a closed Writer
	ErrClosed = errors.New("capture writer closed")
)

// Record is one received notification exactly as it arrived
type Record struct {
	Sensor     protocol.SensorType `cbor:"sensor"`
	ReceivedAt int64               `cbor:"received_at"` // unix nanoseconds
	Payload    []byte              `cbor:"payload"`
}

// NewRecord stamps a payload with its receipt time
func NewRecord(sensor protocol.SensorType, payload []byte, at time.Time) Record {
	return Record{Sensor: sensor, ReceivedAt: at.UnixNano(), Payload: payload}
}

// Time returns the receipt time
func (r Record) Time() time.Time {
	return time.Unix(0, r.ReceivedAt)
}

// Decode runs the payload through the frame decoder
func (r Record) Decode() (*protocol.Frame, error) {
	return protocol.Decode(r.Sensor, r.Payload)
}

// FileName returns the capture file name for a session stamp
func FileName(stamp string) string {
	return "capture_" + stamp + ".hbcap"
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Deterministic encoding so identical captures produce identical bytes
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("capture: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("capture: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeHeader(c Compression) []byte {
	header := make([]byte, headerSize)
	copy(header, magic[:])
	header[5] = formatVersion
	header[6] = byte(c)
	return header
}

func decodeHeader(header []byte) (Compression, error) {
	if len(header) != headerSize || string(header[:5]) != string(magic[:]) {
		return 0, ErrBadMagic
	}
	if header[5] != formatVersion {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header[5])
	}
	c := Compression(header[6])
	if c > CompressionLZ4 {
		return 0, fmt.Errorf("unknown compression tag %d", header[6])
	}
	return c, nil
}
