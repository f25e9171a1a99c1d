package model

import "strings"

// ClientType is the closed set of client kinds that may introduce themselves.
type ClientType int16

const (
	// [ZERO_VALUE_GUARD] WE START FROM 1 TO DISTINGUISH FROM UNINITIALIZED DATA
	ClientBrowser   ClientType = iota + 1 // web dashboard ("html")
	ClientHub                             // home-automation hub ("ha")
	ClientCompanion                       // companion desktop app ("pc")
	ClientAnonymous                       // diagnostic/test connections, never tracked
)

// TrackedClientTypes lists the types that own a Session, in reporting order.
var TrackedClientTypes = []ClientType{ClientCompanion, ClientHub, ClientBrowser}

// ParseClientType maps the wire tag onto the closed set of client types.
func ParseClientType(raw string) (ClientType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "html":
		return ClientBrowser, nil
	case "ha":
		return ClientHub, nil
	case "pc":
		return ClientCompanion, nil
	case "test":
		return ClientAnonymous, nil
	default:
		return 0, &ValidationError{Field: "type", Reason: "unknown client type '" + raw + "'"}
	}
}

// Tag returns the wire representation of the type.
func (t ClientType) Tag() string {
	switch t {
	case ClientBrowser:
		return "html"
	case ClientHub:
		return "ha"
	case ClientCompanion:
		return "pc"
	case ClientAnonymous:
		return "test"
	default:
		return "unknown"
	}
}

func (t ClientType) String() string { return t.Tag() }

// Tracked reports whether connections of this type are bound to a Session.
func (t ClientType) Tracked() bool {
	switch t {
	case ClientBrowser, ClientHub, ClientCompanion:
		return true
	default:
		return false
	}
}

// RequiresName reports whether an introduction must carry an explicit client name.
// Browsers fall back to a name derived from the connection handle.
func (t ClientType) RequiresName() bool {
	switch t {
	case ClientHub, ClientCompanion, ClientAnonymous:
		return true
	default:
		return false
	}
}

// Announced reports whether presence changes of this type are broadcast to other clients.
func (t ClientType) Announced() bool {
	return t == ClientHub || t == ClientCompanion
}

// MarshalText lets ClientType travel as its wire tag in JSON maps and payloads.
func (t ClientType) MarshalText() ([]byte, error) {
	return []byte(t.Tag()), nil
}

// UnmarshalText accepts the wire tag, so snapshots decode back into SessionInfo.
func (t *ClientType) UnmarshalText(text []byte) error {
	parsed, err := ParseClientType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
