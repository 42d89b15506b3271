// Package lobbyproto encodes requests for and parses replies from the text
// lobby server. Requests are bracket-tagged strings; replies are
// colon-separated fields that start with a ":>>TAG:" marker.
package lobbyproto

import (
	"fmt"
	"strconv"
)

const (
	ProtocolVersion  byte = 4
	ProtocolEncoding      = "utf8"
)

// Request is anything that can be written to the lobby socket.
type Request interface{ isRequest() }

// Greeting opens a session. It is the only request that carries the
// version/encoding preamble.
type Greeting struct {
	Username string
	Version  string
}

type Username struct{ Name string }

type Message struct{ Text string }

type Create struct {
	Room       string
	Password   string
	MaxPlayers uint8
	Mods       string
}

type Join struct {
	Room     string
	Password string
	Mods     string
}

type Leave struct{ Room string }

type Kick struct{ Username string }

type Ready struct{ Room string }

type ForceStart struct{ Room string }

type Here struct{}

type Alive struct{}

type HostMode struct{ Mode uint8 }

func (Greeting) isRequest()   {}
func (Username) isRequest()   {}
func (Message) isRequest()    {}
func (Create) isRequest()     {}
func (Join) isRequest()       {}
func (Leave) isRequest()      {}
func (Kick) isRequest()       {}
func (Ready) isRequest()      {}
func (ForceStart) isRequest() {}
func (Here) isRequest()       {}
func (Alive) isRequest()      {}
func (HostMode) isRequest()   {}

// Encode renders a request as written on the wire. The body carries no
// length prefix; the server frames requests by their tags.
func Encode(r Request) ([]byte, error) {
	switch req := r.(type) {
	case Greeting:
		out := make([]byte, 0, 2+len(ProtocolEncoding)+32+len(req.Username)+len(req.Version))
		out = append(out, ProtocolVersion, byte(len(ProtocolEncoding)))
		out = append(out, ProtocolEncoding...)
		out = append(out, "<GREETINGS>"+req.Username+"<VER>"+req.Version...)
		return out, nil
	case Username:
		return []byte("<USER>" + req.Name), nil
	case Message:
		return []byte("<MSG>" + req.Text), nil
	case Create:
		return []byte("<NEW>" + req.Room + "<PSWD>" + req.Password +
			"<COUNT>" + strconv.Itoa(int(req.MaxPlayers)) + "<MODS>" + req.Mods), nil
	case Join:
		return []byte("<JOIN>" + req.Room + "<PSWD>" + req.Password + "<MODS>" + req.Mods), nil
	case Leave:
		return []byte("<LEAVE>" + req.Room), nil
	case Kick:
		return []byte("<KICK>" + req.Username), nil
	case Ready:
		return []byte("<READY>" + req.Room), nil
	case ForceStart:
		return []byte("<FORCESTART>" + req.Room), nil
	case Here:
		return []byte("<HERE>"), nil
	case Alive:
		return []byte("<ALIVE>"), nil
	case HostMode:
		return []byte("<HOSTMODE>" + strconv.Itoa(int(req.Mode))), nil
	default:
		return nil, fmt.Errorf("lobbyproto: cannot encode %T", r)
	}
}
