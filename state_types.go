package main

import "time"

// ChannelStatus is the small closed tagged variant a channel's lifecycle
// moves through. Modeled as a string enum the way the teacher models
// DecoderMode in decoder_config.go, rather than a bag of booleans.
type ChannelStatus string

const (
	StatusOffline  ChannelStatus = "offline"
	StatusIdle     ChannelStatus = "idle"
	StatusDecoding ChannelStatus = "decoding"
	StatusCalling  ChannelStatus = "calling"
	StatusInQSO    ChannelStatus = "in_qso"
	StatusError    ChannelStatus = "error"
)

// channelLetters maps channel index 0..3 to the public letter identifier.
var channelLetters = [4]string{"A", "B", "C", "D"}

// Channel is the system's abstraction of one SDR slice.
type Channel struct {
	Index    int
	Letter   string
	Instance string

	DialFrequencyHz uint64
	RadioMode       string // e.g. "digital-upper-sideband"
	Band            string

	IsTx bool

	AudioRxChannel int
	AudioTxChannel int

	UDPPort int
	TCPPort int

	DecoderMode        string
	DecoderTxEnabled   bool
	DecoderTransmitting bool
	DecoderDecoding    bool

	RxAudioOffsetHz uint32
	TxAudioOffsetHz uint32

	Status    ChannelStatus
	Connected bool

	LastHeartbeat time.Time
	LastDecode    time.Time

	DecodeCount int64
	QSOCount    int64
}

// Clone returns a value copy safe to hand to a caller outside the state
// core's lock.
func (c Channel) Clone() Channel { return c }

// DecoderInstance is the lifecycle record for one spawned decoder process.
type DecoderInstance struct {
	Name          string
	ChannelIndex  int
	PID           *int
	Running       bool
	RestartCount  int
	LastStart     time.Time
	LastError     string
	ResourceSample *ProcessResourceSample
}

func (d DecoderInstance) Clone() DecoderInstance {
	cp := d
	if d.PID != nil {
		pid := *d.PID
		cp.PID = &pid
	}
	if d.ResourceSample != nil {
		rs := *d.ResourceSample
		cp.ResourceSample = &rs
	}
	return cp
}

// ProcessResourceSample is a point-in-time resource reading for a spawned
// decoder process, surfaced only through internal diagnostics.
type ProcessResourceSample struct {
	CPUPercent float64
	RSSBytes   uint64
	SampledAt  time.Time
}

// InternalDecodeRecord is the full, routing-aware view of one decoded
// message. Never crosses the AI boundary directly — PublicDecodeRecord does.
type InternalDecodeRecord struct {
	ChannelIndex int
	SliceLetter  string

	Timestamp time.Time
	Band      string
	Mode      string
	DialHz    uint64
	OffsetHz  int64
	RFHz      uint64
	SNRDb     int
	DTSec     float64

	Callsign string
	Grid     string

	IsCQ               bool
	IsMyCall           bool
	IsDirectedCQToMe   bool
	CQTargetToken      string // empty means absent

	RawText string

	IsNew           bool
	IsLowConfidence bool
	IsOffAir        bool

	DistanceKm *float64
	BearingDeg *float64
}

// PublicDecodeRecord is the AI-facing projection of InternalDecodeRecord: all
// routing identifiers (channel index, slice letter) are stripped, and a
// snapshot-scoped unique id is added.
type PublicDecodeRecord struct {
	ID string `json:"id"`

	Timestamp string `json:"timestamp"`
	Band      string `json:"band"`
	Mode      string `json:"mode"`
	DialHz    uint64 `json:"dial_hz"`
	OffsetHz  int64  `json:"offset_hz"`
	RFHz      uint64 `json:"rf_hz"`
	SNRDb     int    `json:"snr_db"`
	DTSec     float64 `json:"dt_sec"`

	Callsign string `json:"callsign"`
	Grid     string `json:"grid,omitempty"`

	IsCQ             bool   `json:"is_cq"`
	IsMyCall         bool   `json:"is_my_call"`
	IsDirectedCQToMe bool   `json:"is_directed_cq_to_me"`
	CQTargetToken    string `json:"cq_target_token,omitempty"`

	RawText string `json:"raw_text"`

	IsNew           bool `json:"is_new,omitempty"`
	IsLowConfidence bool `json:"is_low_confidence,omitempty"`
	IsOffAir        bool `json:"is_off_air,omitempty"`

	DistanceKm *float64 `json:"distance_km,omitempty"`
	BearingDeg *float64 `json:"bearing_deg,omitempty"`
}

// DecodeSnapshot is a time-bounded, id-stamped list of public decode records.
type DecodeSnapshot struct {
	SnapshotID  string                `json:"snapshot_id"`
	GeneratedAt string                `json:"generated_at"`
	Decodes     []PublicDecodeRecord  `json:"decodes"`
}

// WorkedKey is the (callsign, band, mode) duplicate-detection key.
type WorkedKey struct {
	Call string
	Band string
	Mode string
}

// QSORecord is one completed or logged contact.
type QSORecord struct {
	StartTime time.Time
	EndTime   time.Time

	Callsign string
	Grid     string
	Band     string
	DialHz   uint64
	Mode     string

	ReportSent     string
	ReportReceived string
	TxPowerWatts   int

	SliceLetter    string
	ChannelIndex   int
	DecoderInstance string

	Notes string
}

// StationProfile is the local operator's identity used for CQ-targeting and
// QSO automation.
type StationProfile struct {
	Callsign    string
	Continent   string // EU/NA/SA/AF/AS/OC/AN
	DXCCPrefix  string
	KnownPrefixes []string
	Grid        string
}
