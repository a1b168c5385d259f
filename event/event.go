package event

import "github.com/dfuhost/dfu/pkg"

// Kind tags the variant of an Event.
type Kind int

// Event kinds.
const (
	KindInit Kind = iota
	KindConnect
	KindDisconnect
	KindProgress
	KindWriteStart
	KindWriteProgress
	KindWriteEnd
	KindEraseStart
	KindEraseProgress
	KindEraseEnd
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "Init"
	case KindConnect:
		return "Connect"
	case KindDisconnect:
		return "Disconnect"
	case KindProgress:
		return "Progress"
	case KindWriteStart:
		return "WriteStart"
	case KindWriteProgress:
		return "WriteProgress"
	case KindWriteEnd:
		return "WriteEnd"
	case KindEraseStart:
		return "EraseStart"
	case KindEraseProgress:
		return "EraseProgress"
	case KindEraseEnd:
		return "EraseEnd"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Event is a single lifecycle or progress notification emitted by a
// Session or Engine. Only the fields relevant to Kind are populated;
// the rest are zero.
type Event struct {
	Kind Kind

	// Disconnect
	Cause error

	// Progress / WriteProgress / EraseProgress
	Done  int64
	Total int64 // -1 means "unknown total" for Progress

	// WriteEnd
	Sent int64

	// Error
	ErrorKind pkg.ErrorKind
	Message   string
}

// Sink receives events as a Session or Engine operation progresses.
// Implementations must not block for long: the emitting goroutine is
// also the one driving device I/O.
type Sink func(Event)

// Nop is a Sink that discards every event.
func Nop(Event) {}

// Init returns an Init event.
func Init() Event { return Event{Kind: KindInit} }

// Connect returns a Connect event.
func Connect() Event { return Event{Kind: KindConnect} }

// Disconnect returns a Disconnect event with an optional cause.
func Disconnect(cause error) Event { return Event{Kind: KindDisconnect, Cause: cause} }

// Progress returns a Progress event. total of -1 means unknown.
func Progress(done, total int64) Event {
	return Event{Kind: KindProgress, Done: done, Total: total}
}

// WriteStart returns a WriteStart event.
func WriteStart() Event { return Event{Kind: KindWriteStart} }

// WriteProgress returns a WriteProgress event.
func WriteProgress(done, total int64) Event {
	return Event{Kind: KindWriteProgress, Done: done, Total: total}
}

// WriteEnd returns a WriteEnd event.
func WriteEnd(sent int64) Event { return Event{Kind: KindWriteEnd, Sent: sent} }

// EraseStart returns an EraseStart event.
func EraseStart() Event { return Event{Kind: KindEraseStart} }

// EraseProgress returns an EraseProgress event.
func EraseProgress(done, total int64) Event {
	return Event{Kind: KindEraseProgress, Done: done, Total: total}
}

// EraseEnd returns an EraseEnd event.
func EraseEnd() Event { return Event{Kind: KindEraseEnd} }

// Error returns an Error event.
func Error(kind pkg.ErrorKind, message string) Event {
	return Event{Kind: KindError, ErrorKind: kind, Message: message}
}
