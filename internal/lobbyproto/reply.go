package lobbyproto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Delimiter marks the start of every reply frame sent by the server.
const Delimiter = ":>>"

var (
	ErrUnknownTag     = errors.New("lobbyproto: unknown reply tag")
	ErrMalformedReply = errors.New("lobbyproto: malformed reply")
)

// Room is one entry of a SESSIONS listing.
type Room struct {
	Name      string `json:"name"`
	Joined    uint32 `json:"joined"`
	Total     uint32 `json:"total"`
	Protected bool   `json:"protected"`
}

// Member is a player's ready state inside the current room.
type Member struct {
	Username string `json:"username"`
	Ready    bool   `json:"ready"`
}

// Mod is a name/version pair advertised by the server or another client.
type Mod struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Reply is a parsed server frame.
type Reply interface{ isReply() }

type Created struct{ Room string }

type Sessions struct{ Rooms []Room }

type Joined struct {
	Room     string
	Username string
}

type Kicked struct {
	Room     string
	Username string
}

type Start struct{ UUID string }

type Host struct {
	UUID        string
	Connections int
}

type Status struct{ Members []Member }

type ServerError struct{ Message string }

type Mods struct{ Mods []Mod }

type ClientMods struct {
	Username string
	Mods     []Mod
}

type Chat struct {
	Username string
	Text     string
}

type Users struct{ Names []string }

type Health struct{}

type GameMode struct{ Mode int }

func (Created) isReply()     {}
func (Sessions) isReply()    {}
func (Joined) isReply()      {}
func (Kicked) isReply()      {}
func (Start) isReply()       {}
func (Host) isReply()        {}
func (Status) isReply()      {}
func (ServerError) isReply() {}
func (Mods) isReply()        {}
func (ClientMods) isReply()  {}
func (Chat) isReply()        {}
func (Users) isReply()       {}
func (Health) isReply()      {}
func (GameMode) isReply()    {}

// SplitFrames breaks one read into the logical frames it contains. Each
// returned frame keeps its leading delimiter.
func SplitFrames(input string) []string {
	parts := strings.Split(input, Delimiter)
	frames := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		frames = append(frames, Delimiter+p)
	}
	return frames
}

type parser func(f *fields) (Reply, error)

var parsers = map[string]parser{
	"CREATED":   parseCreated,
	"SESSIONS":  parseSessions,
	"USERS":     parseUsers,
	"MSG":       parseChat,
	"ERROR":     parseError,
	"JOIN":      parseJoined,
	"KICK":      parseKicked,
	"START":     parseStart,
	"HOST":      parseHost,
	"STATUS":    parseStatus,
	"MODS":      parseMods,
	"MODSOTHER": parseClientMods,
	"HEALTH":    parseHealth,
	"GAMEMODE":  parseGameMode,
}

// Tag returns the tag of a frame, or "" if the frame does not start with
// the reply delimiter.
func Tag(frame string) string {
	rest, ok := strings.CutPrefix(frame, Delimiter)
	if !ok {
		return ""
	}
	tag, _, _ := strings.Cut(rest, ":")
	return tag
}

// ParseReply parses a single frame as produced by SplitFrames.
func ParseReply(frame string) (Reply, error) {
	frame = strings.TrimRight(frame, "\r\n")
	rest, ok := strings.CutPrefix(frame, Delimiter)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q in %q", ErrMalformedReply, Delimiter, frame)
	}
	tag, body, _ := strings.Cut(rest, ":")
	parse, ok := parsers[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	// Some server builds emit an empty field between the tag and the body.
	body = strings.TrimPrefix(body, ":")
	f := &fields{tag: tag}
	if body != "" {
		f.items = strings.Split(body, ":")
	}
	reply, err := parse(f)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Truncated reports whether a frame that failed to parse with err may be
// the head of a reply cut short by a read boundary: its tag is not yet
// terminated, or it ran out of fields.
func Truncated(frame string, err error) bool {
	if errors.Is(err, ErrMalformedReply) {
		return true
	}
	rest := strings.TrimPrefix(frame, Delimiter)
	return errors.Is(err, ErrUnknownTag) && !strings.Contains(rest, ":")
}

type fields struct {
	tag   string
	items []string
	pos   int
}

func (f *fields) fail(format string, args ...any) error {
	return fmt.Errorf("%w: %s field %d: %s", ErrMalformedReply, f.tag, f.pos, fmt.Sprintf(format, args...))
}

func (f *fields) str() (string, error) {
	if f.pos >= len(f.items) {
		return "", f.fail("missing")
	}
	s := f.items[f.pos]
	f.pos++
	return s, nil
}

// rest joins every remaining field, restoring the colons split away.
func (f *fields) rest() string {
	if f.pos >= len(f.items) {
		return ""
	}
	s := strings.Join(f.items[f.pos:], ":")
	f.pos = len(f.items)
	return s
}

func (f *fields) uint32() (uint32, error) {
	s, err := f.str()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, f.fail("not a number: %q", s)
	}
	return uint32(n), nil
}

func (f *fields) int() (int, error) {
	s, err := f.str()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, f.fail("not a number: %q", s)
	}
	return n, nil
}

// count reads a list length and checks that enough fields remain for
// count entries of width fields each.
func (f *fields) count(width int) (int, error) {
	n, err := f.int()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > (len(f.items)-f.pos)/width {
		return 0, f.fail("count %d exceeds remaining fields", n)
	}
	return n, nil
}

func (f *fields) bool() (bool, error) {
	s, err := f.str()
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, f.fail("not a boolean: %q", s)
	}
	return b, nil
}

func parseCreated(f *fields) (Reply, error) {
	room, err := f.str()
	if err != nil {
		return nil, err
	}
	return Created{Room: room}, nil
}

func parseSessions(f *fields) (Reply, error) {
	n, err := f.count(4)
	if err != nil {
		return nil, err
	}
	rooms := make([]Room, 0, n)
	for i := 0; i < n; i++ {
		var r Room
		if r.Name, err = f.str(); err != nil {
			return nil, err
		}
		if r.Joined, err = f.uint32(); err != nil {
			return nil, err
		}
		if r.Total, err = f.uint32(); err != nil {
			return nil, err
		}
		if r.Protected, err = f.bool(); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return Sessions{Rooms: rooms}, nil
}

func parseUsers(f *fields) (Reply, error) {
	n, err := f.count(1)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name, _ := f.str()
		names = append(names, name)
	}
	return Users{Names: names}, nil
}

func parseChat(f *fields) (Reply, error) {
	user, err := f.str()
	if err != nil {
		return nil, err
	}
	return Chat{Username: user, Text: f.rest()}, nil
}

func parseError(f *fields) (Reply, error) {
	return ServerError{Message: f.rest()}, nil
}

func parseJoined(f *fields) (Reply, error) {
	room, err := f.str()
	if err != nil {
		return nil, err
	}
	user, err := f.str()
	if err != nil {
		return nil, err
	}
	return Joined{Room: room, Username: user}, nil
}

func parseKicked(f *fields) (Reply, error) {
	room, err := f.str()
	if err != nil {
		return nil, err
	}
	user, err := f.str()
	if err != nil {
		return nil, err
	}
	return Kicked{Room: room, Username: user}, nil
}

func parseUUID(f *fields) (string, error) {
	s, err := f.str()
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", f.fail("not a uuid: %q", s)
	}
	return s, nil
}

func parseStart(f *fields) (Reply, error) {
	id, err := parseUUID(f)
	if err != nil {
		return nil, err
	}
	return Start{UUID: id}, nil
}

func parseHost(f *fields) (Reply, error) {
	id, err := parseUUID(f)
	if err != nil {
		return nil, err
	}
	conns, err := f.int()
	if err != nil {
		return nil, err
	}
	return Host{UUID: id, Connections: conns}, nil
}

func parseStatus(f *fields) (Reply, error) {
	n, err := f.count(2)
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, n)
	for i := 0; i < n; i++ {
		var m Member
		if m.Username, err = f.str(); err != nil {
			return nil, err
		}
		if m.Ready, err = f.bool(); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return Status{Members: members}, nil
}

func parseModList(f *fields) ([]Mod, error) {
	n, err := f.count(2)
	if err != nil {
		return nil, err
	}
	mods := make([]Mod, 0, n)
	for i := 0; i < n; i++ {
		name, _ := f.str()
		version, _ := f.str()
		mods = append(mods, Mod{Name: name, Version: version})
	}
	return mods, nil
}

func parseMods(f *fields) (Reply, error) {
	mods, err := parseModList(f)
	if err != nil {
		return nil, err
	}
	return Mods{Mods: mods}, nil
}

func parseClientMods(f *fields) (Reply, error) {
	user, err := f.str()
	if err != nil {
		return nil, err
	}
	mods, err := parseModList(f)
	if err != nil {
		return nil, err
	}
	return ClientMods{Username: user, Mods: mods}, nil
}

func parseHealth(*fields) (Reply, error) { return Health{}, nil }

func parseGameMode(f *fields) (Reply, error) {
	mode, err := f.int()
	if err != nil {
		return nil, err
	}
	return GameMode{Mode: mode}, nil
}
