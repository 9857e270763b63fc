package probe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Temperature range reported by the probe, in degrees Celsius
const (
	MinTemperature = 0.0
	MaxTemperature = 300.0
)

const (
	telemetryLen = 6
	statusLen    = 2
)

// Decode errors
var (
	ErrShortPayload = errors.New("payload too short")
	ErrNotASCII     = errors.New("payload is not ASCII")
)

// Telemetry is a decoded temperature event
type Telemetry struct {
	Probe float64
	Grill float64
}

// RawToDegrees converts a raw reading to degrees Celsius, clamped to the probe range.
func RawToDegrees(raw uint16) float64 {
	return min(max(float64(raw)/10-40, MinTemperature), MaxTemperature)
}

// DecodeTelemetry decodes a temperature event. Bytes 0-1 are reserved, bytes
// 2-3 carry the probe reading and bytes 4-5 the grill reading (little-endian).
func DecodeTelemetry(payload []byte) (Telemetry, error) {
	if len(payload) < telemetryLen {
		return Telemetry{}, fmt.Errorf("%w: telemetry needs %d bytes, got %d", ErrShortPayload, telemetryLen, len(payload))
	}
	return Telemetry{
		Probe: RawToDegrees(binary.LittleEndian.Uint16(payload[2:4])),
		Grill: RawToDegrees(binary.LittleEndian.Uint16(payload[4:6])),
	}, nil
}

// DecodeStatus decodes the battery flag carried in byte 1 of a status event.
func DecodeStatus(payload []byte) (BatteryState, error) {
	if len(payload) < statusLen {
		return BatteryUnknown, fmt.Errorf("%w: status needs %d bytes, got %d", ErrShortPayload, statusLen, len(payload))
	}
	switch payload[1] {
	case 0:
		return BatteryOK, nil
	case 1:
		return BatteryLow, nil
	default:
		return BatteryUnknown, nil
	}
}

// DecodeASCII decodes an identity string. Trailing NUL padding is trimmed.
func DecodeASCII(payload []byte) (string, error) {
	for i, b := range payload {
		if b > 0x7f {
			return "", fmt.Errorf("%w: byte 0x%02x at offset %d", ErrNotASCII, b, i)
		}
	}
	return string(bytes.TrimRight(payload, "\x00")), nil
}
