package core

import (
	"sync"

	"github.com/spaghettifunk/helix/engine/containers"
)

type EventContext struct {
	Data struct {
		U64 [2]uint64
		F64 [2]float64
		U32 [4]uint32
		U16 [8]uint16
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * u32 width = data.data.u32[0];
	 * u32 height = data.data.u32[1];
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x02

	// A window was minimized (zero-size framebuffer).
	EVENT_CODE_MINIMIZED SystemEventCode = 0x03

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 4096

type FnOnEvent func(code SystemEventCode, sender interface{}, context EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

type eventCodeEntry struct {
	events []*registeredEvent
}

type queuedEvent struct {
	code    SystemEventCode
	sender  interface{}
	context EventContext
}

// State structure.
type eventSystemState struct {
	// Lookup table for event codes.
	registered [MAX_MESSAGE_CODES]eventCodeEntry
	// Deferred events, drained once per frame.
	queue *containers.RingQueue[queuedEvent]
	mu    sync.Mutex
}

var onceEvents sync.Once
var eventState *eventSystemState

func EventSystemInitialize() error {
	onceEvents.Do(func() {
		eventState = &eventSystemState{
			queue: containers.NewRingQueue[queuedEvent](256),
		}
	})
	return nil
}

func EventSystemShutdown() {
	eventState = nil
}

// EventRegister subscribes the listener's callback to the given code.
// Duplicate (listener, code) registrations are rejected.
func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if eventState == nil {
		LogWarn("event system fired before initialization")
		return false
	}

	eventState.mu.Lock()
	defer eventState.mu.Unlock()

	entry := &eventState.registered[code]
	for _, re := range entry.events {
		if re.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}

	entry.events = append(entry.events, &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

func EventUnregister(code SystemEventCode, listener interface{}) bool {
	if eventState == nil {
		return false
	}

	eventState.mu.Lock()
	defer eventState.mu.Unlock()

	entry := &eventState.registered[code]
	for i, re := range entry.events {
		if re.listener == listener {
			entry.events = append(entry.events[:i], entry.events[i+1:]...)
			return true
		}
	}
	return false
}

// EventFire dispatches to all listeners immediately. A listener returning
// true consumes the event and stops further dispatch.
func EventFire(code SystemEventCode, sender interface{}, context EventContext) bool {
	if eventState == nil {
		return false
	}

	eventState.mu.Lock()
	events := eventState.registered[code].events
	eventState.mu.Unlock()

	for _, re := range events {
		if re.callback(code, sender, context) {
			return true
		}
	}
	return false
}

// EventEnqueue defers dispatch until the next EventPump call. Used by OS
// callbacks that must not re-enter the renderer mid-frame.
func EventEnqueue(code SystemEventCode, sender interface{}, context EventContext) bool {
	if eventState == nil {
		return false
	}

	eventState.mu.Lock()
	err := eventState.queue.Enqueue(queuedEvent{code: code, sender: sender, context: context})
	eventState.mu.Unlock()

	if err != nil {
		LogWarn("event queue full, dropping event code %d", code)
		return false
	}
	return true
}

// EventPump drains the deferred queue, firing each event in order.
func EventPump() {
	if eventState == nil {
		return
	}

	for {
		eventState.mu.Lock()
		qe, err := eventState.queue.Dequeue()
		eventState.mu.Unlock()

		if err != nil {
			return
		}
		EventFire(qe.code, qe.sender, qe.context)
	}
}
