// Package device defines the transport boundary between the probe manager and
// a Bluetooth Low Energy stack.
//
// The package provides:
//   - An event-driven Transport interface (connect, service and characteristic
//     discovery, reads, subscriptions) whose results are delivered through an
//     EventHandler
//   - Structured connection errors comparable with errors.Is
//   - The well-known probe and device-information UUIDs, resolved once into a
//     closed CharacteristicKind enumeration
//   - UUID normalization shared by every transport implementation
package device
