package main

// StandardBackend is the RadioBackend stand-in for "standard" operating
// mode (spec.md §6: "Standard mode uses a single hard-coded 'IC-7300'
// channel without a radio backend"). It satisfies the interface so the HRD
// servers and decoder supervisor need no mode-specific branch, but every
// method is a harmless no-op: there is no transport underneath it, and
// IsConnected always reports false so HRD commands correctly return
// RPRT -9 and rig_get_state shows backend_connected=false, matching
// end-to-end scenario 1 in spec.md §8.
type StandardBackend struct{}

func NewStandardBackend() *StandardBackend { return &StandardBackend{} }

func (b *StandardBackend) Connect(host string) error { return nil }
func (b *StandardBackend) Disconnect() error          { return nil }
func (b *StandardBackend) IsConnected() bool          { return false }

func (b *StandardBackend) ListSlices() []int                      { return []int{0} }
func (b *StandardBackend) TuneSlice(index int, freqHz uint64) error { return nil }
func (b *StandardBackend) SetSliceMode(index int, mode string) error { return nil }
func (b *StandardBackend) SetSliceTx(index int, tx bool) error      { return nil }
func (b *StandardBackend) SetSliceAudio(index int, channel int) error { return nil }

func (b *StandardBackend) OnSliceAdded(cb func(index int))                    {}
func (b *StandardBackend) OnSliceRemoved(cb func(index int))                  {}
func (b *StandardBackend) OnSliceUpdated(cb func(index int, u BackendUpdate)) {}
func (b *StandardBackend) OnError(cb func(err error))                        {}
func (b *StandardBackend) OnConnected(cb func())                             {}
func (b *StandardBackend) OnDisconnected(cb func())                          {}
