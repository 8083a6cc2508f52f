package session

import (
	"encoding/json"
	"fmt"
)

// Known role names used by the platform. Roles are flat capability tags, not
// a hierarchy; a user may hold several at once.
const (
	RoleSuperAdmin    = "SUPER_ADMIN"
	RoleHospitalAdmin = "HOSPITAL_ADMIN"
	RoleDoctor        = "DOCTOR"
	RolePharmacist    = "PHARMACIST"
	RoleReceptionist  = "RECEPTIONIST"
	RoleNurse         = "NURSE"
)

// Role is the single in-memory representation of a role. The backend sends
// roles either as bare strings ("DOCTOR") or as objects ({"name": "DOCTOR"});
// both collapse to this struct at decode time so nothing downstream ever
// branches on the wire shape.
type Role struct {
	Name string `json:"name"`
}

func (r *Role) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Name = s
		return nil
	}

	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("role must be a string or an object with a name: %w", err)
	}
	r.Name = obj.Name
	return nil
}

// RoleList decodes either a JSON array of roles or a single role value, the
// latter being wrapped into a one-element list.
type RoleList []Role

func (rl *RoleList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*rl = nil
		return nil
	}

	var list []Role
	if err := json.Unmarshal(data, &list); err == nil {
		*rl = list
		return nil
	}

	var one Role
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*rl = RoleList{one}
	return nil
}

// Names returns the role names in order.
func (rl RoleList) Names() []string {
	names := make([]string, 0, len(rl))
	for _, r := range rl {
		names = append(names, r.Name)
	}
	return names
}

// FlexID decodes a JSON string or number identifier into a string. Tenant
// identifiers arrive as numbers from some backend versions.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

// Hospital is the tenant a user belongs to.
type Hospital struct {
	ID   FlexID `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// User is the authenticated identity held in memory and mirrored to the
// session store.
type User struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Email      string    `json:"email"`
	Roles      RoleList  `json:"roles"`
	Hospital   *Hospital `json:"hospital,omitempty"`
	HospitalID string    `json:"hospitalId,omitempty"`
}

// HasRole reports whether the user holds the named role. Safe on a nil user
// or an empty role list; a malformed identity never grants access.
func (u *User) HasRole(name string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the user holds the SUPER_ADMIN role.
func (u *User) IsSuperAdmin() bool {
	return u.HasRole(RoleSuperAdmin)
}

// PrimaryRole returns the name of the first role in the list, the one the UI
// navigates by. Empty string when there is no user or no roles.
func (u *User) PrimaryRole() string {
	if u == nil || len(u.Roles) == 0 {
		return ""
	}
	return u.Roles[0].Name
}

// FullName returns "First Last" for display.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	return u.FirstName + " " + u.LastName
}
