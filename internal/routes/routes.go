// Package routes holds the declarative role-to-route mapping: the gated
// route table, the guard that authorizes each navigation, and the resolver
// that picks a user's landing page.
package routes

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Well-known paths. The dashboards double as redirect targets when a role
// check fails.
const (
	Login                  = "/login"
	SuperAdminDashboard    = "/dashboard"
	HospitalAdminDashboard = "/hospital/dashboard"
	DoctorDashboard        = "/doctor/dashboard"
	PharmacistDashboard    = "/pharmacist/dashboard"
	ReceptionistDashboard  = "/receptionist/dashboard"
	NurseDashboard         = "/nurse/dashboard"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Route is one path in the table. Public routes skip the guard entirely;
// otherwise at most one of RequireSuperAdmin and RequiredRoles is set, and
// with neither, any authenticated user may enter.
type Route struct {
	Path              string   `yaml:"path"`
	Public            bool     `yaml:"public,omitempty"`
	RequireSuperAdmin bool     `yaml:"requireSuperAdmin,omitempty"`
	RequiredRoles     []string `yaml:"requiredRoles,omitempty"`
}

// Table is the route surface the guard protects.
type Table struct {
	Routes []Route `yaml:"routes"`
}

// DefaultTable returns the built-in route table.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultRoutes)
}

// LoadTable reads a route table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML route table.
func ParseTable(data []byte) (*Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse route table: %w", err)
	}

	seen := make(map[string]bool, len(table.Routes))
	for _, rt := range table.Routes {
		if rt.Path == "" {
			return nil, fmt.Errorf("route table contains a route without a path")
		}
		if rt.Path[0] != '/' {
			return nil, fmt.Errorf("route path %q must start with /", rt.Path)
		}
		if seen[rt.Path] {
			return nil, fmt.Errorf("duplicate route path %q", rt.Path)
		}
		if rt.RequireSuperAdmin && len(rt.RequiredRoles) > 0 {
			return nil, fmt.Errorf("route %q sets both requireSuperAdmin and requiredRoles", rt.Path)
		}
		if rt.Public && (rt.RequireSuperAdmin || len(rt.RequiredRoles) > 0) {
			return nil, fmt.Errorf("route %q is public but carries role constraints", rt.Path)
		}
		seen[rt.Path] = true
	}

	return &table, nil
}

// Find returns the route for an exact path.
func (t *Table) Find(path string) (Route, bool) {
	for _, rt := range t.Routes {
		if rt.Path == path {
			return rt, true
		}
	}
	return Route{}, false
}
