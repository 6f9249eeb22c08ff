package models

import (
	"encoding/json"
	"strings"
)

// Role is one of Admin, Driver or User. The zero value is not a valid role;
// use ParseRole to obtain one.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
	RoleUser   Role = "user"
)

// ParseRole reads a role out of loosely typed metadata. Anything that is not
// exactly admin or driver yields RoleUser.
func ParseRole(v any) Role {
	switch t := v.(type) {
	case Role:
		return ParseRole(string(t))
	case string:
		switch Role(strings.ToLower(strings.TrimSpace(t))) {
		case RoleAdmin:
			return RoleAdmin
		case RoleDriver:
			return RoleDriver
		}
	case map[string]any:
		return ParseRole(t["role"])
	}
	return RoleUser
}

// RoleFromMetadata parses the role out of a raw JSON metadata object.
func RoleFromMetadata(raw json.RawMessage) Role {
	if len(raw) == 0 {
		return RoleUser
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return RoleUser
	}
	return ParseRole(m)
}

func (r Role) IsAdmin() bool  { return r == RoleAdmin }
func (r Role) IsDriver() bool { return r == RoleDriver }

func (r *Role) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = ParseRole(v)
	return nil
}

// ClientRole is the role the client shows: user_metadata wins when it names a
// role, otherwise app_metadata. It gates UI only.
func ClientRole(userMeta, appMeta json.RawMessage) Role {
	if len(userMeta) > 0 {
		var m map[string]any
		if err := json.Unmarshal(userMeta, &m); err == nil {
			if _, ok := m["role"]; ok {
				return ParseRole(m)
			}
		}
	}
	return RoleFromMetadata(appMeta)
}
