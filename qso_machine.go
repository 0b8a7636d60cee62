package main

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
)

// QSOState is the small closed tagged variant the per-channel autonomous
// contact machine moves through (spec.md §4.7).
type QSOState string

const (
	QSOIdle          QSOState = "IDLE"
	QSOCallingCQ     QSOState = "CALLING_CQ"
	QSOWaitingReply  QSOState = "WAITING_REPLY"
	QSOSendingReport QSOState = "SENDING_REPORT"
	QSOWaitingReport QSOState = "WAITING_REPORT"
	QSOSendingRR73   QSOState = "SENDING_RR73"
	QSOWaiting73     QSOState = "WAITING_73"
	QSOComplete      QSOState = "COMPLETE"
	QSOFailed        QSOState = "FAILED"
)

const (
	qsoCycleTimeout = 15 * time.Second
	qsoMaxRetries   = 3
)

// qsoSession is one channel's active autonomous contact attempt. mu guards
// state/retries/timer, which the decode-callback goroutine and the session's
// own time.AfterFunc goroutine both mutate; every read or write of those
// fields outside construction must hold it.
type qsoSession struct {
	mu sync.Mutex

	channelIndex int
	state        QSOState
	myCall       string
	myGrid       string
	theirCall    string
	lastSNR      int
	retries      int
	timer        *time.Timer
}

// EgressProvider resolves the outbound sender for a channel, satisfied by
// the decoder supervisor's tracked per-channel EgressSender.
type EgressProvider func(channelIndex int) *EgressSender

// QSOMachine owns every channel's autonomous-contact state. Grounded on
// spec.md §4.7's transition table; the single-timer-per-session,
// explicit-cancel-before-rearm pattern follows spec.md §5's cancellation
// rule rather than any one teacher file (the teacher has no analogous
// protocol state machine), so the session bookkeeping style (a small struct
// per active unit guarded by one mutex, matching decoder_health.go's map of
// per-band structs) is the structural borrow.
type QSOMachine struct {
	mu       sync.Mutex
	sessions map[int]*qsoSession
	egress   EgressProvider
	core     *StateCore
}

func NewQSOMachine(core *StateCore, egress EgressProvider) *QSOMachine {
	return &QSOMachine{
		sessions: make(map[int]*qsoSession),
		egress:   egress,
		core:     core,
	}
}

// ExecuteQSO starts an autonomous contact attempt on channel targeting
// targetCall. Fails if one is already active on that channel, or if no
// recent decode for targetCall exists.
func (m *QSOMachine) ExecuteQSO(channel int, targetCall, myCall, myGrid string) error {
	m.mu.Lock()
	existing, exists := m.sessions[channel]
	m.mu.Unlock()
	if exists {
		existing.mu.Lock()
		active := existing.state != QSOComplete && existing.state != QSOFailed
		existing.mu.Unlock()
		if active {
			return fmt.Errorf("qso machine: channel %d already has an active contact", channel)
		}
	}

	dec, ok := m.core.MostRecentDecodeFor(channel, targetCall, decodeLookbackWindow)
	if !ok {
		return fmt.Errorf("qso machine: no decode for %s within %s on channel %d", targetCall, decodeLookbackWindow, channel)
	}

	sess := &qsoSession{
		channelIndex: channel,
		state:        QSOWaitingReply,
		myCall:       strings.ToUpper(myCall),
		myGrid:       myGrid,
		theirCall:    strings.ToUpper(targetCall),
	}

	m.mu.Lock()
	m.sessions[channel] = sess
	m.mu.Unlock()

	m.core.SetChannelStatus(channel, StatusCalling)

	sess.mu.Lock()
	m.sendReplyToDecode(channel, dec, dec.RawText)
	m.armTimer(sess)
	sess.mu.Unlock()
	return nil
}

// OnDecode routes one newly arrived decode to the active session (if any)
// on its channel, matching it against the current state's transition
// pattern.
func (m *QSOMachine) OnDecode(channel int, rec InternalDecodeRecord) {
	m.mu.Lock()
	sess, exists := m.sessions[channel]
	m.mu.Unlock()
	if !exists {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	text := strings.ToUpper(strings.TrimSpace(rec.RawText))
	myCall := regexp.QuoteMeta(sess.myCall)
	theirCall := regexp.QuoteMeta(sess.theirCall)

	switch sess.state {
	case QSOWaitingReply:
		pattern := regexp.MustCompile(`^` + myCall + `\s+` + theirCall + `\b`)
		if pattern.MatchString(text) {
			m.cancelTimer(sess)
			sess.lastSNR = rec.SNRDb
			sess.state = QSOSendingReport
			report := formatSignalReport(rec.SNRDb)
			m.sendReplyToDecode(channel, rec, fmt.Sprintf("%s %s %s", sess.theirCall, sess.myCall, report))
			sess.state = QSOWaitingReport
			sess.retries = 0
			m.armTimer(sess)
		}

	case QSOWaitingReport:
		pattern := regexp.MustCompile(myCall + `\s+` + theirCall + `\s+[R+-]\d+`)
		if pattern.MatchString(text) {
			m.cancelTimer(sess)
			sess.state = QSOSendingRR73
			m.sendFreeText(channel, fmt.Sprintf("%s %s RR73", sess.theirCall, sess.myCall))
			sess.state = QSOWaiting73
			sess.retries = 0
			m.armTimer(sess)
		}

	case QSOWaiting73:
		if strings.Contains(text, sess.myCall) && strings.Contains(text, sess.theirCall) && strings.Contains(text, "73") {
			m.cancelTimer(sess)
			m.finish(sess, QSOComplete)
		}
	}
}

func formatSignalReport(snr int) string {
	sign := "+"
	v := snr
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%02d", sign, v)
}

func (m *QSOMachine) sendReplyToDecode(channel int, rec InternalDecodeRecord, message string) {
	sender := m.egress(channel)
	if sender == nil {
		return
	}
	timeMs := uint32(rec.Timestamp.Hour()*3600000 + rec.Timestamp.Minute()*60000 + rec.Timestamp.Second()*1000)
	if err := sender.SendReply(timeMs, int32(rec.SNRDb), rec.DTSec, rec.OffsetHz, rec.Mode, message, false, true); err != nil {
		log.Printf("qso machine: channel %d: send reply failed: %v", channel, err)
	}
}

func (m *QSOMachine) sendFreeText(channel int, text string) {
	sender := m.egress(channel)
	if sender == nil {
		return
	}
	if err := sender.SendFreeText(text, true); err != nil {
		log.Printf("qso machine: channel %d: send free text failed: %v", channel, err)
	}
}

// armTimer starts the 15s cycle timer for sess's current waiting state.
func (m *QSOMachine) armTimer(sess *qsoSession) {
	sess.timer = time.AfterFunc(qsoCycleTimeout, func() {
		m.onTimeout(sess)
	})
}

func (m *QSOMachine) cancelTimer(sess *qsoSession) {
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
}

func (m *QSOMachine) onTimeout(sess *qsoSession) {
	m.mu.Lock()
	current, exists := m.sessions[sess.channelIndex]
	m.mu.Unlock()
	if !exists || current != sess {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.retries++
	if sess.retries > qsoMaxRetries {
		m.finish(sess, QSOFailed)
		return
	}

	switch sess.state {
	case QSOWaitingReply:
		dec, ok := m.core.MostRecentDecodeFor(sess.channelIndex, sess.theirCall, decodeLookbackWindow)
		if !ok {
			m.finish(sess, QSOFailed)
			return
		}
		m.sendReplyToDecode(sess.channelIndex, dec, dec.RawText)
		m.armTimer(sess)
	case QSOWaitingReport, QSOWaiting73:
		m.armTimer(sess)
	default:
		m.armTimer(sess)
	}
}

// finish releases the session's resources and emits a terminal status.
func (m *QSOMachine) finish(sess *qsoSession, final QSOState) {
	m.cancelTimer(sess)
	sess.state = final

	status := StatusIdle
	if final == QSOFailed {
		status = StatusIdle
	}
	m.core.SetChannelStatus(sess.channelIndex, status)

	if final == QSOComplete {
		log.Printf("qso machine: channel %d: contact with %s complete", sess.channelIndex, sess.theirCall)
	} else {
		log.Printf("qso machine: channel %d: contact with %s failed", sess.channelIndex, sess.theirCall)
	}
}

// ActiveState returns the current state of channel's session, or QSOIdle if
// none is active.
func (m *QSOMachine) ActiveState(channel int) QSOState {
	m.mu.Lock()
	sess, ok := m.sessions[channel]
	m.mu.Unlock()
	if !ok {
		return QSOIdle
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}
