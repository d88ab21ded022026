// Defines the Request and Response records exchanged between logical threads,
// delegates and the network, and the closed set of memory commands.

package sim

import "fmt"

// Address is a global address: the high bits name the owning host,
// the low bits an offset into that host's MemoryStore.
type Address uint64

// Command is the memory operation carried by a Request.
type Command uint8

const (
	CommandRead Command = iota + 1
	CommandFetchInc
	CommandKill
)

// String returns the wire name of the command.
func (c Command) String() string {
	switch c {
	case CommandRead:
		return "READ"
	case CommandFetchInc:
		return "FETCH_INC"
	case CommandKill:
		return "KILL"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the known commands.
func (c Command) Valid() bool {
	switch c {
	case CommandRead, CommandFetchInc, CommandKill:
		return true
	default:
		return false
	}
}

// Request models a single memory operation issued by a logical thread.
// It is consumed exactly once, either by the local Delegate or by the
// Delegate of the owning host.
type Request struct {
	Address Address
	Command Command
	ID      int64 // correlator-assigned id; re-tagged with the client when sent remotely
}

func (r Request) String() string {
	return fmt.Sprintf("Request: (ID: %d, Command: %s, Address: %#x)", r.ID, r.Command, uint64(r.Address))
}

// Response carries the value produced by the owning Delegate back to the
// issuing thread. Err is set when the request could not be serviced.
type Response struct {
	ID    int64
	Value int64
	Err   error
}

func (r Response) String() string {
	if r.Err != nil {
		return fmt.Sprintf("Response: (ID: %d, Err: %v)", r.ID, r.Err)
	}
	return fmt.Sprintf("Response: (ID: %d, Value: %d)", r.ID, r.Value)
}

// Envelope is an inbound remote request together with the host that sent it.
type Envelope struct {
	From    int
	Request Request
}

const (
	clientTagShift = 48
	requestIDMask  = int64(1)<<clientTagShift - 1
	maxClientTag   = 1<<(63-clientTagShift) - 1
)

// MaxClientsPerHost is the number of clients a Delegate can tell apart in a
// tagged request id.
const MaxClientsPerHost = maxClientTag + 1

// TagRequestID folds the originating client into a request id so the
// eventual remote response can be routed back to that client's channel.
func TagRequestID(client int, id int64) int64 {
	if client < 0 || client > maxClientTag {
		panic(fmt.Sprintf("TagRequestID: client %d out of range", client))
	}
	if id < 0 || id > requestIDMask {
		panic(fmt.Sprintf("TagRequestID: request id %d out of range", id))
	}
	return int64(client)<<clientTagShift | id
}

// UntagRequestID is the inverse of TagRequestID.
func UntagRequestID(tagged int64) (client int, id int64) {
	return int(tagged >> clientTagShift), tagged & requestIDMask
}
