package credential

import "strings"

// Scope is an ordered list of room or area identifiers. It is stored as
// space-delimited tokens.
type Scope []string

// ParseScope splits s on whitespace, dropping empty tokens.
func ParseScope(s string) Scope {
	f := strings.Fields(s)
	if len(f) == 0 {
		return nil
	}
	return Scope(f)
}

// NormalizeScope trims every token and drops empty ones.
func NormalizeScope(in []string) Scope {
	var out Scope
	for _, tok := range in {
		out = append(out, strings.Fields(tok)...)
	}
	return out
}

func (s Scope) String() string { return strings.Join(s, " ") }

// Contains reports whether id is one of the tokens; partial matches such
// as "1.1.10" against "1.1.101" do not count.
func (s Scope) Contains(id string) bool {
	for _, tok := range s {
		if tok == id {
			return true
		}
	}
	return false
}

// RoomColumns splits the first token on '.' into building, floor and room
// number. Missing parts come back empty.
func (s Scope) RoomColumns() (building, floor, room string) {
	if len(s) == 0 {
		return "", "", ""
	}
	parts := strings.Split(s[0], ".")
	if len(parts) > 0 {
		building = parts[0]
	}
	if len(parts) > 1 {
		floor = parts[1]
	}
	if len(parts) > 2 {
		room = parts[2]
	}
	return building, floor, room
}

// SplitRoomID splits a building.floor.room identifier.
func SplitRoomID(fullID string) (building, floor, room string) {
	return Scope{fullID}.RoomColumns()
}
