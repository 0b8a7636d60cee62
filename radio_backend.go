package main

// RadioBackend abstracts the radio that drives this hub's four slices
// (spec.md §4.5). The decoder supervisor and HRD servers talk to a radio
// only through this interface, never through the concrete transport, so a
// future backend needs no changes above this layer.
type RadioBackend interface {
	Connect(host string) error
	Disconnect() error
	IsConnected() bool

	ListSlices() []int
	TuneSlice(index int, freqHz uint64) error
	SetSliceMode(index int, mode string) error
	SetSliceTx(index int, tx bool) error
	SetSliceAudio(index int, channel int) error

	OnSliceAdded(cb func(index int))
	OnSliceRemoved(cb func(index int))
	OnSliceUpdated(cb func(index int, u BackendUpdate))
	OnError(cb func(err error))
	OnConnected(cb func())
	OnDisconnected(cb func())
}
