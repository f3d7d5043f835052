// Package device defines the radio abstraction consumed by the sync core.
//
// The host Bluetooth Low Energy stack is modeled as a Radio: a Scanner
// (power state, start/stop scan) plus a Central (connect, service and
// characteristic discovery, read/subscribe). Every asynchronous outcome is
// delivered as a tagged Event through a single handler, so state machines can
// consume radio activity as a plain event stream and be driven in tests
// without a live adapter.
//
// The package also carries the shared error taxonomy:
//   - RadioError / ErrRadioUnavailable for adapters that are off, unauthorized or unsupported
//   - ErrConnectFailed, ErrNotConnected and ErrHandshakeIncomplete for link failures
//   - NormalizeError to map radio stack error strings onto the taxonomy
package device
