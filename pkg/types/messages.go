package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Game client -> connector
//   "ShowConnectDialog"
//   "ShowLoadGameDialog"
//   {"Save": {"filename": string, "compressed_archive": [u8]}}
//   {"Load": string}
//   "LoadAll"
//
// Connector -> game client
//   "ConnectDialogShowed" | "CanceledDialog" | "Connected" | "Saved" | "LoadGameDialogShowed"
//   {"Loaded": {"archive_data": [u8]}}
//   {"AllLoaded": {"archives": [{"filename": string, "data": [u8]}]}}
//   {"Failed": {"operation": string, "reason": string}}

var ErrUnknownVariant = errors.New("unknown message variant")

type Command interface{ isCommand() }

type ShowConnectDialog struct{}

type ShowLoadGameDialog struct{}

type Save struct {
	Filename     string `json:"filename"`
	ArchiveBytes Bytes  `json:"compressed_archive"`
}

// Load carries the name of a single saved game.
type Load struct {
	Name string
}

type LoadAll struct{}

func (ShowConnectDialog) isCommand()  {}
func (ShowLoadGameDialog) isCommand() {}
func (Save) isCommand()               {}
func (Load) isCommand()               {}
func (LoadAll) isCommand()            {}

type Reply interface{ isReply() }

type ConnectDialogShowed struct{}

type CanceledDialog struct{}

type Connected struct{}

type Saved struct{}

type Loaded struct {
	ArchiveBytes Bytes `json:"archive_data"`
}

type AllLoaded struct {
	Archives []SavedGame `json:"archives"`
}

type LoadGameDialogShowed struct{}

// Failed tells the game client that the operation it is waiting on will
// never produce its normal reply.
type Failed struct {
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

func (ConnectDialogShowed) isReply()  {}
func (CanceledDialog) isReply()       {}
func (Connected) isReply()            {}
func (Saved) isReply()                {}
func (Loaded) isReply()               {}
func (AllLoaded) isReply()            {}
func (LoadGameDialogShowed) isReply() {}
func (Failed) isReply()               {}

// CommandName returns the variant tag used on the wire.
func CommandName(c Command) string {
	switch c.(type) {
	case ShowConnectDialog:
		return "ShowConnectDialog"
	case ShowLoadGameDialog:
		return "ShowLoadGameDialog"
	case Save:
		return "Save"
	case Load:
		return "Load"
	case LoadAll:
		return "LoadAll"
	default:
		return fmt.Sprintf("%T", c)
	}
}

// Unsolicited reports whether r is sent on the connector's own initiative
// rather than in answer to a command. Every command gets exactly one
// solicited reply.
func Unsolicited(r Reply) bool {
	switch r.(type) {
	case Connected, CanceledDialog:
		return true
	}
	return false
}

// ReplyName returns the variant tag used on the wire.
func ReplyName(r Reply) string {
	switch r.(type) {
	case ConnectDialogShowed:
		return "ConnectDialogShowed"
	case CanceledDialog:
		return "CanceledDialog"
	case Connected:
		return "Connected"
	case Saved:
		return "Saved"
	case Loaded:
		return "Loaded"
	case AllLoaded:
		return "AllLoaded"
	case LoadGameDialogShowed:
		return "LoadGameDialogShowed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("%T", r)
	}
}

func MarshalCommand(c Command) ([]byte, error) {
	switch cmd := c.(type) {
	case ShowConnectDialog, ShowLoadGameDialog, LoadAll:
		return json.Marshal(CommandName(cmd))
	case Save:
		return marshalVariant("Save", cmd)
	case Load:
		return marshalVariant("Load", cmd.Name)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, c)
	}
}

func UnmarshalCommand(data []byte) (Command, error) {
	name, body, err := splitVariant(data)
	if err != nil {
		return nil, err
	}

	switch name {
	case "ShowConnectDialog":
		return ShowConnectDialog{}, nil
	case "ShowLoadGameDialog":
		return ShowLoadGameDialog{}, nil
	case "LoadAll":
		return LoadAll{}, nil
	case "Save":
		var s Save
		if err := unmarshalBody(name, body, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "Load":
		var l Load
		if err := unmarshalBody(name, body, &l.Name); err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}

func MarshalReply(r Reply) ([]byte, error) {
	switch reply := r.(type) {
	case ConnectDialogShowed, CanceledDialog, Connected, Saved, LoadGameDialogShowed:
		return json.Marshal(ReplyName(reply))
	case Loaded:
		return marshalVariant("Loaded", reply)
	case AllLoaded:
		if reply.Archives == nil {
			reply.Archives = []SavedGame{}
		}
		return marshalVariant("AllLoaded", reply)
	case Failed:
		return marshalVariant("Failed", reply)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, r)
	}
}

func UnmarshalReply(data []byte) (Reply, error) {
	name, body, err := splitVariant(data)
	if err != nil {
		return nil, err
	}

	switch name {
	case "ConnectDialogShowed":
		return ConnectDialogShowed{}, nil
	case "CanceledDialog":
		return CanceledDialog{}, nil
	case "Connected":
		return Connected{}, nil
	case "Saved":
		return Saved{}, nil
	case "LoadGameDialogShowed":
		return LoadGameDialogShowed{}, nil
	case "Loaded":
		var l Loaded
		if err := unmarshalBody(name, body, &l); err != nil {
			return nil, err
		}
		return l, nil
	case "AllLoaded":
		var a AllLoaded
		if err := unmarshalBody(name, body, &a); err != nil {
			return nil, err
		}
		return a, nil
	case "Failed":
		var f Failed
		if err := unmarshalBody(name, body, &f); err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}

func marshalVariant(name string, body any) ([]byte, error) {
	return json.Marshal(map[string]any{name: body})
}

// splitVariant accepts either a bare string (unit variant) or a single-key
// object (variant with a body).
func splitVariant(data []byte) (string, json.RawMessage, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return name, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, fmt.Errorf("decode variant: %w", err)
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("decode variant: want exactly one tag, got %d", len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, nil // unreachable
}

func unmarshalBody(name string, body json.RawMessage, v any) error {
	if body == nil || string(body) == "null" {
		return fmt.Errorf("variant %s: missing body", name)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("variant %s: %w", name, err)
	}
	return nil
}
