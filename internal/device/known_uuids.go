package device

// Well-known service UUIDs (normalized)
const (
	ServiceProbe             = "fb00"
	ServiceDeviceInformation = "180a"
)

// Well-known characteristic UUIDs (normalized)
const (
	CharDeviceName       = "fb01"
	CharTemperature      = "fb02"
	CharWrite            = "fb03"
	CharResponse         = "fb04"
	CharStatus           = "fb05"
	CharManufacturerName = "2a29"
	CharModelNumber      = "2a24"
	CharSerialNumber     = "2a25"
	CharFirmwareRevision = "2a26"
)

// CharacteristicKind is the closed set of characteristics a probe session understands.
type CharacteristicKind int

const (
	KindUnknown CharacteristicKind = iota
	KindDeviceName
	KindTemperature
	KindWrite
	KindResponse
	KindStatus
	KindManufacturerName
	KindModelNumber
	KindSerialNumber
	KindFirmwareRevision
)

var kindNames = map[CharacteristicKind]string{
	KindUnknown:          "unknown",
	KindDeviceName:       "device_name",
	KindTemperature:      "temperature",
	KindWrite:            "write",
	KindResponse:         "response",
	KindStatus:           "status",
	KindManufacturerName: "manufacturer_name",
	KindModelNumber:      "model_number",
	KindSerialNumber:     "serial_number",
	KindFirmwareRevision: "firmware_revision",
}

func (k CharacteristicKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

type kindKey struct {
	service string
	char    string
}

var knownKinds = map[kindKey]CharacteristicKind{
	{ServiceProbe, CharDeviceName}:                   KindDeviceName,
	{ServiceProbe, CharTemperature}:                  KindTemperature,
	{ServiceProbe, CharWrite}:                        KindWrite,
	{ServiceProbe, CharResponse}:                     KindResponse,
	{ServiceProbe, CharStatus}:                       KindStatus,
	{ServiceDeviceInformation, CharManufacturerName}: KindManufacturerName,
	{ServiceDeviceInformation, CharModelNumber}:      KindModelNumber,
	{ServiceDeviceInformation, CharSerialNumber}:     KindSerialNumber,
	{ServiceDeviceInformation, CharFirmwareRevision}: KindFirmwareRevision,
}

// ResolveKind maps a (service, characteristic) pair to its kind.
// Unrecognized pairs resolve to KindUnknown.
func ResolveKind(service, characteristic string) CharacteristicKind {
	return knownKinds[kindKey{NormalizeUUID(service), NormalizeUUID(characteristic)}]
}

// RequiredServices lists the services a probe must expose, in discovery order.
func RequiredServices() []string {
	return []string{ServiceProbe, ServiceDeviceInformation}
}

// KnownCharacteristics returns the characteristics requested during discovery of a service.
func KnownCharacteristics(service string) []string {
	switch NormalizeUUID(service) {
	case ServiceProbe:
		return []string{CharDeviceName, CharTemperature, CharWrite, CharResponse, CharStatus}
	case ServiceDeviceInformation:
		return []string{CharManufacturerName, CharModelNumber, CharSerialNumber, CharFirmwareRevision}
	default:
		return nil
	}
}
