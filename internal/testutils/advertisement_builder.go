package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/ringsync/internal/device"
	"github.com/srg/ringsync/internal/testutils/mocks"
)

// AdvertisementBuilder builds mocked advertisements for testing.
// Every accessor gets an optional expectation, so code under test may read
// any field; explicitly set fields return the configured value, the rest
// return zero values (connectable defaults to true).
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	manufData   []byte
	connectable bool
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with connectable=true.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{connectable: true}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the peripheral identifier for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithManufacturerData sets the manufacturer-specific data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithConnectable sets whether the peripheral accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
//
//	NewAdvertisementBuilder().FromJSON(`{"name": "EZ Ring %02d", "address": "ring-1", "rssi": -40}`, 1)
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name             *string  `json:"name"`
		Address          *string  `json:"address"`
		RSSI             *int     `json:"rssi"`
		Services         []string `json:"services"`
		ManufacturerData []byte   `json:"manufacturerData"`
		Connectable      *bool    `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: failed to unmarshal advertisement: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if len(data.Services) > 0 {
		b.WithServices(data.Services...)
	}
	if data.ManufacturerData != nil {
		b.WithManufacturerData(data.ManufacturerData)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	return b
}

// Build creates a MockAdvertisement implementing device.Advertisement.
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}
	adv.On("Addr").Return(b.address).Maybe()
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	adv.On("Services").Return(b.services).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	return adv
}

// BuildEvent wraps the built advertisement in a radio event.
func (b *AdvertisementBuilder) BuildEvent() device.Event {
	return device.AdvertisementEvent(b.Build())
}

// AdvertisementArrayBuilder collects advertisements for a scripted scan.
//
//	ads := NewAdvertisementArrayBuilder().
//	    WithNewAdvertisement().WithName("Other Band").WithAddress("band-1").Add().
//	    WithNewAdvertisement().WithName("EZ Ring 01").WithAddress("ring-1").Add().
//	    Build()
type AdvertisementArrayBuilder struct {
	advertisements []device.Advertisement
}

// NewAdvertisementArrayBuilder creates an empty array builder.
func NewAdvertisementArrayBuilder() *AdvertisementArrayBuilder {
	return &AdvertisementArrayBuilder{}
}

// WithAdvertisements appends pre-built advertisements.
func (ab *AdvertisementArrayBuilder) WithAdvertisements(ads ...device.Advertisement) *AdvertisementArrayBuilder {
	ab.advertisements = append(ab.advertisements, ads...)
	return ab
}

// WithNewAdvertisement starts a nested builder; Add returns to this one.
func (ab *AdvertisementArrayBuilder) WithNewAdvertisement() *AdvertisementArrayBuilderItem {
	return &AdvertisementArrayBuilderItem{
		AdvertisementBuilder: NewAdvertisementBuilder(),
		parent:               ab,
	}
}

// Build returns the collected advertisements in insertion order.
func (ab *AdvertisementArrayBuilder) Build() []device.Advertisement {
	out := make([]device.Advertisement, len(ab.advertisements))
	copy(out, ab.advertisements)
	return out
}

// AdvertisementArrayBuilderItem is an AdvertisementBuilder bound to its parent array.
type AdvertisementArrayBuilderItem struct {
	*AdvertisementBuilder
	parent *AdvertisementArrayBuilder
}

// WithName overrides the embedded setter to keep chaining on the item.
func (abi *AdvertisementArrayBuilderItem) WithName(name string) *AdvertisementArrayBuilderItem {
	abi.AdvertisementBuilder.WithName(name)
	return abi
}

// WithAddress overrides the embedded setter to keep chaining on the item.
func (abi *AdvertisementArrayBuilderItem) WithAddress(addr string) *AdvertisementArrayBuilderItem {
	abi.AdvertisementBuilder.WithAddress(addr)
	return abi
}

// WithRSSI overrides the embedded setter to keep chaining on the item.
func (abi *AdvertisementArrayBuilderItem) WithRSSI(rssi int) *AdvertisementArrayBuilderItem {
	abi.AdvertisementBuilder.WithRSSI(rssi)
	return abi
}

// Add appends the advertisement to the parent array and returns the parent.
func (abi *AdvertisementArrayBuilderItem) Add() *AdvertisementArrayBuilder {
	abi.parent.advertisements = append(abi.parent.advertisements, abi.AdvertisementBuilder.Build())
	return abi.parent
}
