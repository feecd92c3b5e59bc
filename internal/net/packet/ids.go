// Package packet defines the wire message layer: packet identifiers, the
// little-endian field reader/writer, and the id-to-handler registry with
// session-state gating.
package packet

import "fmt"

// ID discriminates the payload body. It is the first two bytes (LE) of
// every frame payload.
type ID uint16

const (
	IDNone ID = iota
	IDCLogin
	IDSLoginSuccess
	IDSLoginFailure
	IDCEnterZone
	IDSZoneEntered
	IDSPlayerJoined
	IDSPlayerLeft
	IDCPlayerInput
	IDSWorldSnapshot
	IDCChat
	IDSChat
)

func (id ID) String() string {
	switch id {
	case IDCLogin:
		return "C_Login"
	case IDSLoginSuccess:
		return "S_LoginSuccess"
	case IDSLoginFailure:
		return "S_LoginFailure"
	case IDCEnterZone:
		return "C_EnterZone"
	case IDSZoneEntered:
		return "S_ZoneEntered"
	case IDSPlayerJoined:
		return "S_PlayerJoined"
	case IDSPlayerLeft:
		return "S_PlayerLeft"
	case IDCPlayerInput:
		return "C_PlayerInput"
	case IDSWorldSnapshot:
		return "S_WorldSnapshot"
	case IDCChat:
		return "C_Chat"
	case IDSChat:
		return "S_Chat"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(id))
	}
}

// IsGame reports whether the id is translated into a simulation command by
// the ingress pool rather than dispatched to a packet handler. The
// non-game set is exactly the login and chat family.
func (id ID) IsGame() bool {
	switch id {
	case IDCLogin, IDSLoginSuccess, IDSLoginFailure, IDCChat, IDSChat:
		return false
	default:
		return true
	}
}
