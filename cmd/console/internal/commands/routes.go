package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/medicore/console/internal/routes"
	"github.com/medicore/console/internal/session"
)

type RoutesCmd struct {
	File string `help:"Route table YAML file (defaults to the built-in table)" type:"existingfile"`
}

func (r *RoutesCmd) Run(ctx context.Context) error {
	table, err := loadTable(r.File)
	if err != nil {
		return err
	}

	fmt.Printf("%-40s %s\n", "Path", "Access")
	fmt.Println(strings.Repeat("-", 70))
	for _, rt := range table.Routes {
		fmt.Printf("%-40s %s\n", rt.Path, describeAccess(rt))
	}

	fmt.Println()
	fmt.Printf("%-20s %s\n", "Role", "Landing")
	fmt.Println(strings.Repeat("-", 50))
	for _, role := range []string{
		session.RoleSuperAdmin,
		session.RoleHospitalAdmin,
		session.RoleDoctor,
		session.RolePharmacist,
		session.RoleReceptionist,
		session.RoleNurse,
	} {
		fmt.Printf("%-20s %s\n", role, routes.DefaultRoute(roleView(role)))
	}
	return nil
}

func describeAccess(rt routes.Route) string {
	switch {
	case rt.Public:
		return "public"
	case rt.RequireSuperAdmin:
		return "super admin only"
	case len(rt.RequiredRoles) > 0:
		return strings.Join(rt.RequiredRoles, ", ")
	default:
		return "any signed-in user"
	}
}

func loadTable(file string) (*routes.Table, error) {
	if file == "" {
		return routes.DefaultTable()
	}
	return routes.LoadTable(file)
}

// roleView is a static authorizer holding exactly one role, used to show
// where each role lands.
type roleView string

func (r roleView) Loading() bool { return false }

func (r roleView) IsAuthenticated() bool { return true }

func (r roleView) IsSuperAdmin() bool { return string(r) == session.RoleSuperAdmin }

func (r roleView) HasRole(name string) bool { return string(r) == name }
