package notification

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TargetKind enumerates the closed set of addressing modes a dispatch call
// can use. Resolution happens once at the dispatcher boundary; the string
// keys below are only the wire-level encoding.
type TargetKind int

const (
	TargetUser TargetKind = iota
	TargetGroup
	TargetBranch
	TargetOrganization
	TargetRole
	TargetAll
)

// String returns the target type name carried in envelope metadata.
func (k TargetKind) String() string {
	switch k {
	case TargetUser:
		return "User"
	case TargetGroup:
		return "Group"
	case TargetBranch:
		return "Branch"
	case TargetOrganization:
		return "Organization"
	case TargetRole:
		return "Role"
	case TargetAll:
		return "All"
	default:
		return "Unknown"
	}
}

// Wire-level group key prefixes. Any transport implementation must route by
// these string keys.
const (
	keyPrefixUser         = "User_"
	keyPrefixBranch       = "Branch_"
	keyPrefixOrganization = "Organization_"
	keyPrefixRole         = "Role_"

	// BroadcastKey is the routing key used for sends addressed to everyone.
	BroadcastKey = "all"
)

// ErrInvalidGroupKey is returned by ParseGroupKey for keys outside the
// User_/Branch_/Organization_/Role_ convention.
var ErrInvalidGroupKey = errors.New("invalid group key")

// Target is the tagged addressing variant resolved by the dispatcher. Exactly
// the field matching Kind is meaningful; the rest are zero.
type Target struct {
	Kind           TargetKind
	UserID         int
	Group          string
	BranchID       int
	OrganizationID int
	Role           string
}

func UserTarget(userID int) Target     { return Target{Kind: TargetUser, UserID: userID} }
func GroupTarget(name string) Target   { return Target{Kind: TargetGroup, Group: name} }
func BranchTarget(branchID int) Target { return Target{Kind: TargetBranch, BranchID: branchID} }
func OrganizationTarget(orgID int) Target {
	return Target{Kind: TargetOrganization, OrganizationID: orgID}
}
func RoleTarget(role string) Target { return Target{Kind: TargetRole, Role: role} }
func AllTarget() Target             { return Target{Kind: TargetAll} }

// ID returns the target identifier recorded in envelope metadata: the user,
// branch or organization id, the role or group name, or "all".
func (t Target) ID() string {
	switch t.Kind {
	case TargetUser:
		return strconv.Itoa(t.UserID)
	case TargetGroup:
		return t.Group
	case TargetBranch:
		return strconv.Itoa(t.BranchID)
	case TargetOrganization:
		return strconv.Itoa(t.OrganizationID)
	case TargetRole:
		return t.Role
	default:
		return BroadcastKey
	}
}

// GroupKey encodes the target as the wire-level routing key, e.g. "User_7",
// "Branch_3", "Organization_1", "Role_Manager". Named groups pass through
// unchanged and broadcast targets map to BroadcastKey.
func (t Target) GroupKey() string {
	switch t.Kind {
	case TargetUser:
		return keyPrefixUser + strconv.Itoa(t.UserID)
	case TargetGroup:
		return t.Group
	case TargetBranch:
		return keyPrefixBranch + strconv.Itoa(t.BranchID)
	case TargetOrganization:
		return keyPrefixOrganization + strconv.Itoa(t.OrganizationID)
	case TargetRole:
		return keyPrefixRole + t.Role
	default:
		return BroadcastKey
	}
}

// ParseGroupKey decodes a wire routing key back into a Target. It accepts
// the User_/Branch_/Organization_/Role_ prefixes and the broadcast key.
func ParseGroupKey(key string) (Target, error) {
	switch {
	case key == BroadcastKey:
		return AllTarget(), nil
	case strings.HasPrefix(key, keyPrefixUser):
		id, err := strconv.Atoi(strings.TrimPrefix(key, keyPrefixUser))
		if err != nil || id <= 0 {
			return Target{}, fmt.Errorf("%w: %q", ErrInvalidGroupKey, key)
		}
		return UserTarget(id), nil
	case strings.HasPrefix(key, keyPrefixBranch):
		id, err := strconv.Atoi(strings.TrimPrefix(key, keyPrefixBranch))
		if err != nil || id <= 0 {
			return Target{}, fmt.Errorf("%w: %q", ErrInvalidGroupKey, key)
		}
		return BranchTarget(id), nil
	case strings.HasPrefix(key, keyPrefixOrganization):
		id, err := strconv.Atoi(strings.TrimPrefix(key, keyPrefixOrganization))
		if err != nil || id <= 0 {
			return Target{}, fmt.Errorf("%w: %q", ErrInvalidGroupKey, key)
		}
		return OrganizationTarget(id), nil
	case strings.HasPrefix(key, keyPrefixRole):
		role := strings.TrimPrefix(key, keyPrefixRole)
		if role == "" {
			return Target{}, fmt.Errorf("%w: %q", ErrInvalidGroupKey, key)
		}
		return RoleTarget(role), nil
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidGroupKey, key)
	}
}

// Matches reports whether a connection is a member of the target's group:
// the id/branch/organization/role containment test behind the wire keys.
func (t Target) Matches(c Connection) bool {
	switch t.Kind {
	case TargetUser:
		return c.UserID == t.UserID
	case TargetGroup:
		parsed, err := ParseGroupKey(t.Group)
		if err != nil {
			return false
		}
		return parsed.Matches(c)
	case TargetBranch:
		return c.BranchID == t.BranchID
	case TargetOrganization:
		return c.OrganizationID == t.OrganizationID
	case TargetRole:
		return c.HasRole(t.Role)
	case TargetAll:
		return true
	default:
		return false
	}
}
