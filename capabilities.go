package cafeauth

import (
	"fmt"
	"sort"
)

// Capability names an operation a role may perform.
type Capability string

// Capabilities consulted by the engine.
const (
	CapAdminLogin    Capability = "admin.login"
	CapTrustedDevice Capability = "admin.trusted_device"
	CapCustomerLogin Capability = "customer.login"
	CapPasswordReset Capability = "account.password_reset"
)

// Capabilities checked by the HTTP layer through middleware.Guard.
const (
	CapMenuManage      Capability = "menu.manage"
	CapInventoryManage Capability = "inventory.manage"
	CapPromoManage     Capability = "promo.manage"
	CapGalleryManage   Capability = "gallery.manage"
	CapOrdersView      Capability = "orders.view"
	CapAnalyticsView   Capability = "analytics.view"
	CapStaffManage     Capability = "staff.manage"
	CapOrderPlace      Capability = "orders.place"
	CapProfileEdit     Capability = "profile.edit"
)

// CapabilityTable maps each role to the operations it may perform. It is
// the only place role decisions are made.
type CapabilityTable map[Role][]Capability

// DefaultCapabilities returns the stock table. Every admin role may keep a
// trusted device; drop CapTrustedDevice from a role to withhold it.
func DefaultCapabilities() CapabilityTable {
	staff := []Capability{
		CapAdminLogin,
		CapTrustedDevice,
		CapPasswordReset,
		CapOrdersView,
		CapInventoryManage,
	}
	manager := append(append([]Capability{}, staff...),
		CapMenuManage,
		CapPromoManage,
		CapGalleryManage,
		CapAnalyticsView,
	)
	superadmin := append(append([]Capability{}, manager...), CapStaffManage)

	return CapabilityTable{
		RoleSuperAdmin: superadmin,
		RoleManager:    manager,
		RoleStaff:      staff,
		RoleCustomer: {
			CapCustomerLogin,
			CapPasswordReset,
			CapOrderPlace,
			CapProfileEdit,
		},
	}
}

func (t CapabilityTable) clone() CapabilityTable {
	if t == nil {
		return nil
	}
	out := make(CapabilityTable, len(t))
	for role, caps := range t {
		out[role] = append([]Capability(nil), caps...)
	}
	return out
}

func (t CapabilityTable) validate() error {
	if len(t) == 0 {
		return fmt.Errorf("capability table is empty")
	}
	for role, caps := range t {
		if !role.Valid(PrincipalAdmin) && !role.Valid(PrincipalUser) {
			return fmt.Errorf("capability table has unknown role %q", role)
		}
		for _, c := range caps {
			if c == "" {
				return fmt.Errorf("role %q has an empty capability", role)
			}
		}
	}
	return nil
}

// capabilitySet is the frozen lookup form of a CapabilityTable.
type capabilitySet map[Role]map[Capability]struct{}

func compileCapabilities(t CapabilityTable) capabilitySet {
	set := make(capabilitySet, len(t))
	for role, caps := range t {
		m := make(map[Capability]struct{}, len(caps))
		for _, c := range caps {
			m[c] = struct{}{}
		}
		set[role] = m
	}
	return set
}

func (s capabilitySet) allowed(role Role, c Capability) bool {
	_, ok := s[role][c]
	return ok
}

func (s capabilitySet) list(role Role) []Capability {
	out := make([]Capability, 0, len(s[role]))
	for c := range s[role] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
