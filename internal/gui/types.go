// Package gui is the boundary to the connector's user interface: commands
// come in over HTTP and named signals go out over a WebSocket stream.
package gui

type Command interface{ isGuiCmd() }

// Connect asks for a chain session and, when LobbyAddress is set, a lobby
// session as well.
type Connect struct {
	NodeAddress  string `json:"node_address"`
	ProgramID    string `json:"program_id"`
	AccountID    string `json:"account_id"`
	Password     string `json:"password"`
	LobbyAddress string `json:"lobby_address"`
	Username     string `json:"username"`
}

type Cancel struct{}

type Quit struct{}

type CreateRoom struct {
	Room       string `json:"room"`
	Password   string `json:"password"`
	MaxPlayers uint8  `json:"max_players"`
	Mods       string `json:"mods"`
}

type JoinRoom struct {
	Room     string `json:"room"`
	Password string `json:"password"`
	Mods     string `json:"mods"`
}

type LeaveRoom struct {
	Room string `json:"room"`
}

type Ready struct {
	Room string `json:"room"`
}

type ForceStart struct {
	Room string `json:"room"`
}

type SendChat struct {
	Text string `json:"text"`
}

type Kick struct {
	Username string `json:"username"`
}

type HostMode struct {
	Mode uint8 `json:"mode"`
}

type RefreshBalance struct{}

func (Connect) isGuiCmd()        {}
func (Cancel) isGuiCmd()         {}
func (Quit) isGuiCmd()           {}
func (CreateRoom) isGuiCmd()     {}
func (JoinRoom) isGuiCmd()       {}
func (LeaveRoom) isGuiCmd()      {}
func (Ready) isGuiCmd()          {}
func (ForceStart) isGuiCmd()     {}
func (SendChat) isGuiCmd()       {}
func (Kick) isGuiCmd()           {}
func (HostMode) isGuiCmd()       {}
func (RefreshBalance) isGuiCmd() {}

// Signal names understood by the user interface.
const (
	SignalShowConnectDialog = "show_connect_dialog"
	SignalConnected         = "connected"
	SignalAlert             = "alert"
	SignalUpdateBalance     = "update_balance"
	SignalSavedGames        = "saved_games"
	SignalLobbyConnected    = "lobby_connected"
	SignalLobbyDisconnected = "lobby_disconnected"
	SignalRooms             = "rooms"
	SignalUsers             = "users"
	SignalChat              = "chat"
	SignalRoomCreated       = "room_created"
	SignalJoined            = "joined"
	SignalKicked            = "kicked"
	SignalStatus            = "status"
	SignalMods              = "mods"
	SignalClientMods        = "client_mods"
	SignalGameMode          = "game_mode"
	SignalGameStarted       = "game_started"
	SignalLog               = "log"
	SignalWarn              = "warn"
	SignalError             = "error"
)

type Signal struct {
	Name    string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Sink receives outbound signals. Publish must not block.
type Sink interface {
	Publish(Signal)
}
