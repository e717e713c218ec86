package smb

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// smb2UnsolicitedMessageID marks an async oplock-break notification that
// carries no correlating request (MS-SMB2 §3.2.5.1.8).
const smb2UnsolicitedMessageID uint64 = 0xFFFFFFFFFFFFFFFF

// smb1UnsolicitedMID is admitted for oplock breaks in SMB1 (spec.md §4.D).
const smb1UnsolicitedMID uint16 = 0xFFFF

// smb1RequestMID is the single MID this client's SMB1 requests carry
// (spec.md assumes at most one in-flight request per command name, so no
// per-request MID allocation is needed).
const smb1RequestMID uint16 = 1

// smb1OplockBreak is the SMB1 command code for an unsolicited oplock
// break notification (MS-CIFS §2.2.4.32.1), the one response this client
// admits without a matching MID.
const smb1OplockBreak byte = 0x7E

// inbox is component D, "Inbox & dispatcher": a single background reader
// drains the transport, decodes complete session messages, and appends
// them to per-dialect queues under one lock. Blocking callers scan and
// remove by key. The credit ledger and message-id counter share the same
// lock (spec.md §5 "Shared state").
//
// Go has no native single-waiter auto-reset event; sync.Cond.Broadcast
// wakes every waiter, each re-checking its own key under the lock, which
// is the idiomatic substitution documented in SPEC_FULL.md §6.D.
type inbox struct {
	mu   sync.Mutex
	cond *sync.Cond

	smb1Queue []smb1Message
	smb2Queue []smb2Message

	credits       uint16 // SMB2 only
	nextMessageID uint64 // SMB2 only

	closed   bool
	closeErr error
}

func newInbox() *inbox {
	i := &inbox{credits: 1, nextMessageID: 0}
	i.cond = sync.NewCond(&i.mu)
	return i
}

// fail marks the inbox permanently closed (a fatal decode error, an
// unsolicited NegativeSessionResponse, or a transport read returning
// err/EOF) and wakes every blocked waiter so they observe the terminal
// failure instead of hanging (spec.md §5 "Resource lifecycle").
func (i *inbox) fail(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.closed = true
	i.closeErr = err
	i.cond.Broadcast()
}

func (i *inbox) isClosed() (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed, i.closeErr
}

// run is the dedicated background reader (spec.md §5 "Scheduling model").
// It owns the only call site that reads from the transport; every other
// goroutine only ever touches the inbox's queues.
func (i *inbox) run(t *transport) {
	for {
		pkt, err := t.readRawPacket()
		if err != nil {
			i.fail(fmt.Errorf("smb: transport read failed: %w", err))
			t.close()
			return
		}

		kind, err := classifySessionPacket(pkt)
		if err != nil {
			// An unrecognized packet type is treated the same as a
			// decode failure: fatal (spec.md §4.B).
			i.fail(err)
			t.close()
			return
		}

		switch kind {
		case kindKeepAlive, kindPositiveSessionResponse:
			continue
		case kindNegativeSessionResponse:
			i.fail(fmt.Errorf("smb: unsolicited NegativeSessionResponse"))
			t.close()
			return
		case kindSessionMessage:
			if err := i.dispatch(pkt.body); err != nil {
				i.fail(err)
				t.close()
				return
			}
		}
	}
}

// dispatch decodes one session-message body as SMB1 or SMB2 (by wire
// signature) and admits it into the matching queue.
func (i *inbox) dispatch(body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("smb: session message body too short to carry a signature")
	}

	switch {
	case bytes.Equal(body[:4], protocolSMB1):
		msg, err := decodeSMB1Message(body)
		if err != nil {
			return fmt.Errorf("smb: decode SMB1 message: %w", err)
		}
		i.admitSMB1(msg)
		return nil
	case bytes.Equal(body[:4], protocolSMB2):
		msg, err := decodeSMB2MessageFrom(body)
		if err != nil {
			return fmt.Errorf("smb: decode SMB2 message: %w", err)
		}
		i.admitSMB2(msg)
		return nil
	default:
		return fmt.Errorf("smb: unrecognized message signature %x", body[:4])
	}
}

// admitSMB1 enqueues a solicited response to this client's own MID, or an
// oplock break carrying the reserved unsolicited MID; anything else (a
// stray MID from a prior connection, or an unsolicited non-oplock-break
// message) is dropped, mirroring admitSMB2's unsolicited-message handling
// (spec.md §4.D).
func (i *inbox) admitSMB1(msg smb1Message) {
	h := msg.Header
	if h.MID == smb1UnsolicitedMID {
		if h.Command != smb1OplockBreak {
			log.Debugln("smb1: dropping unsolicited message with unexpected command", h.Command)
			return
		}
	} else if h.MID != smb1RequestMID {
		log.Debugln("smb1: dropping response with unexpected MID", h.MID)
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.smb1Queue = append(i.smb1Queue, msg)
	i.cond.Broadcast()
}

func (i *inbox) admitSMB2(msg smb2Message) {
	if msg.Header.MessageID == smb2UnsolicitedMessageID && msg.Header.Command != SMB2OplockBreak {
		log.Debugln("smb2: dropping unsolicited message with unexpected command", msg.Header.Command)
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if msg.Header.CreditRequestResponse > 0 {
		i.credits += msg.Header.CreditRequestResponse
	}
	i.smb2Queue = append(i.smb2Queue, msg)
	i.cond.Broadcast()
}

// waitForSMB1 implements spec.md §4.D's SMB1 matching: by CommandName
// only. Returns StatusInvalidSMB-shaped timeout via the error if nothing
// matches within timeout.
func (i *inbox) waitForSMB1(command uint8, timeout time.Duration) (*smb1Message, error) {
	deadline := time.Now().Add(timeout)

	i.mu.Lock()
	defer i.mu.Unlock()

	for {
		for idx, m := range i.smb1Queue {
			if m.Header.Command == command {
				i.smb1Queue = append(i.smb1Queue[:idx], i.smb1Queue[idx+1:]...)
				return &m, nil
			}
		}
		if i.closed {
			return nil, fmt.Errorf("smb: connection closed while waiting: %w", i.closeErr)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &StatusError{Op: fmt.Sprintf("timed out waiting for command 0x%02x", command), Status: StatusInvalidSMB}
		}
		i.waitWithTimeout(smb1PollInterval, remaining)
	}
}

// waitForSMB2 implements spec.md §4.D's SMB2 matching: by (command,
// message-id). A matched STATUS_PENDING response is removed and the call
// returns (nil, nil), matching "abandon wait, yield null" in spec.md.
func (i *inbox) waitForSMB2(command uint16, messageID uint64, timeout time.Duration) (*smb2Message, error) {
	deadline := time.Now().Add(timeout)

	i.mu.Lock()
	defer i.mu.Unlock()

	for {
		for idx, m := range i.smb2Queue {
			if m.Header.Command == command && m.Header.MessageID == messageID {
				i.smb2Queue = append(i.smb2Queue[:idx], i.smb2Queue[idx+1:]...)
				if NTStatus(m.Header.Status) == StatusPending {
					return nil, nil
				}
				return &m, nil
			}
		}
		if i.closed {
			return nil, fmt.Errorf("smb: connection closed while waiting: %w", i.closeErr)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &StatusError{Op: fmt.Sprintf("timed out waiting for command 0x%04x msgid %d", command, messageID), Status: StatusInvalidSMB}
		}
		i.waitWithTimeout(smb2PollInterval, remaining)
	}
}

// waitWithTimeout blocks on the condition variable for at most
// min(poll, remaining), re-acquiring i.mu before returning (sync.Cond.Wait
// always re-locks). The caller holds i.mu on entry and on return.
func (i *inbox) waitWithTimeout(poll, remaining time.Duration) {
	d := poll
	if remaining < d {
		d = remaining
	}
	woken := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		i.mu.Lock()
		i.cond.Broadcast()
		i.mu.Unlock()
		close(woken)
	})
	i.cond.Wait()
	timer.Stop()
	select {
	case <-woken:
	default:
	}
}

// allocateMessageID returns the next strictly-increasing SMB2 MessageID
// (spec.md §8 "Message-id monotonicity"), guarded by the same lock as the
// inbox and credit ledger.
func (i *inbox) allocateMessageID() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	id := i.nextMessageID
	i.nextMessageID++
	return id
}

// waitForCredits blocks until at least n credits are available, then
// decrements by n and returns the amount granted (spec.md §4.F
// "wait_for_credits(1)"). Charges exactly creditCharge (always 1 in this
// client).
func (i *inbox) waitForCredits(n uint16, timeout time.Duration) (uint16, error) {
	deadline := time.Now().Add(timeout)

	i.mu.Lock()
	defer i.mu.Unlock()

	for i.credits < n {
		if i.closed {
			return 0, fmt.Errorf("smb: connection closed while waiting for credits: %w", i.closeErr)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("smb: timed out waiting for %d credit(s)", n)
		}
		i.waitWithTimeout(smb2PollInterval, remaining)
	}
	i.credits -= n
	return n, nil
}
