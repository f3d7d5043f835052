package testutils

import (
	"testing"

	"github.com/srg/ringsync/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvertisementBuilder(t *testing.T) {
	adv := CreateMockAdvertisementFromJSON(`{"name": "EZ Ring %02d", "address": "ring-1", "rssi": -42, "services": ["180d"]}`, 1).Build()

	assert.Equal(t, "EZ Ring 01", adv.LocalName())
	assert.Equal(t, "ring-1", adv.Addr())
	assert.Equal(t, -42, adv.RSSI())
	assert.Equal(t, []string{"180d"}, adv.Services())
	assert.True(t, adv.Connectable())
	assert.Nil(t, adv.ManufacturerData())
}

func TestAdvertisementArrayBuilder(t *testing.T) {
	ads := NewAdvertisementArrayBuilder().
		WithNewAdvertisement().WithName("Other Band").WithAddress("band-1").Add().
		WithNewAdvertisement().WithName("EZ Ring 01").WithAddress("ring-1").Add().
		Build()

	require.Len(t, ads, 2)
	assert.Equal(t, "band-1", ads[0].Addr())
	assert.Equal(t, "EZ Ring 01", ads[1].LocalName())
}

func TestFakeRadio_AutoRespond(t *testing.T) {
	profile := CreateMockPeripheralFromJSON(`{
		"services": [
			{"uuid": "180D", "characteristics": [{"uuid": "2A37", "properties": "notify", "value": [0, 72]}]}
		]
	}`).Build()

	events := make(chan device.Event, 8)
	radio := NewFakeRadio().WithPeripheral("ring-1", profile)
	radio.SetHandler(func(ev device.Event) { events <- ev })

	require.NoError(t, radio.Connect("ring-1"))
	ev := <-events
	assert.Equal(t, device.EventConnected, ev.Kind)

	require.NoError(t, radio.DiscoverServices("ring-1", nil))
	ev = <-events
	require.Equal(t, device.EventServicesDiscovered, ev.Kind)
	assert.Equal(t, []device.ServiceInfo{{UUID: "180d"}}, ev.Services)

	require.NoError(t, radio.DiscoverCharacteristics("ring-1", "180d", nil))
	ev = <-events
	require.Equal(t, device.EventCharacteristicsDiscovered, ev.Kind)
	require.Len(t, ev.Characteristics, 1)
	assert.True(t, ev.Characteristics[0].Properties.CanSubscribe())

	require.NoError(t, radio.Subscribe("ring-1", ev.Characteristics[0]))
	ev = <-events
	assert.Equal(t, device.EventValueUpdated, ev.Kind)
	assert.Equal(t, []byte{0, 72}, ev.Value)

	assert.Equal(t, []string{OpConnect, OpDiscoverServices, OpDiscoverCharacteristics, OpSubscribe}, ops(radio.Calls()))
}

func TestFakeRadio_PowerAndFailures(t *testing.T) {
	radio := NewFakeRadio().WithPowerState(device.StatePoweredOff)
	err := radio.StartScan()
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrBluetoothOff)

	radio.WithPowerState(device.StatePoweredOn).FailOn(OpConnect, device.ErrConnectFailed)
	assert.ErrorIs(t, radio.Connect("x"), device.ErrConnectFailed)
	assert.Len(t, radio.CallsTo(OpConnect), 1)
}

func TestDiffJSON(t *testing.T) {
	assert.Empty(t, DiffJSON(`{"a": 1, "b": [1, 2]}`, `{"b": [1, 2], "a": 1}`))
	assert.NotEmpty(t, DiffJSON(`{"a": 1}`, `{"a": 2}`))
	assert.Contains(t, DiffJSON(`not json`, `{}`), "invalid actual JSON")

	// array documents
	assert.Empty(t, DiffJSON(`[{"id": "ring-1", "rssi": -41}]`, `[{"rssi": -41, "id": "ring-1"}]`))
	assert.NotEmpty(t, DiffJSON(`[{"id": "ring-1"}]`, `[{"id": "ring-2"}]`))
	assert.NotEmpty(t, DiffJSON(`[1, 2]`, `[1, 2, 3]`))
	assert.Contains(t, DiffJSON(`{"a": 1}`, `[1]`), "type mismatch")
}

func TestDiffText(t *testing.T) {
	assert.Empty(t, DiffText("a  \nb\n", "a\nb"))
	diff := DiffText("a\nc", "a\nb")
	assert.Contains(t, diff, "-b")
	assert.Contains(t, diff, "+c")
}

func ops(calls []Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}
