package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/grillprobe/internal/device"
)

// bleAdvertisement wraps ble.Advertisement to implement device.Advertisement interface
type bleAdvertisement struct {
	adv ble.Advertisement
}

func newAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &bleAdvertisement{adv: adv}
}

func (a *bleAdvertisement) ID() device.ID     { return device.ID(a.adv.Addr().String()) }
func (a *bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a *bleAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a *bleAdvertisement) Connectable() bool { return a.adv.Connectable() }

func (a *bleAdvertisement) Services() []string {
	return uuidStrings(a.adv.Services())
}

func uuidStrings(uuids []ble.UUID) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = device.NormalizeUUID(u.String())
	}
	return result
}

// advertisesAny reports whether any advertised service is in the wanted set.
// An empty wanted set matches everything.
func advertisesAny(advertised []ble.UUID, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, have := range uuidStrings(advertised) {
		for _, w := range wanted {
			if have == device.NormalizeUUID(w) {
				return true
			}
		}
	}
	return false
}

// parseUUIDs converts normalized UUID strings to the go-ble representation
func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	result := make([]ble.UUID, 0, len(uuids))
	for _, s := range uuids {
		u, err := ble.Parse(device.NormalizeUUID(s))
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, nil
}
