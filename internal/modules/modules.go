// Package modules manages the feature-area inventory and answers combined
// license and module access decisions.
package modules

import (
	"errors"
	"time"

	"github.com/ibero-data/modgate/internal/store"
)

const (
	Collection = "modules"
	orderField = "order"
)

var (
	ErrNotFound  = errors.New("module not found")
	ErrMissingID = errors.New("module id is required")
)

// Module is one independently toggleable feature area.
type Module struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Route    string `json:"route"`
	Icon     string `json:"icon"`
	Category string `json:"category"`
	// Enabled is tri-state: only an explicit false disables the module.
	Enabled   *bool      `json:"enabled,omitempty"`
	Order     int        `json:"order"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// IsEnabled applies the tri-state rule.
func (m Module) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

func boolPtr(b bool) *bool { return &b }

// Defaults is the module set seeded into an empty collection.
func Defaults() []Module {
	return []Module{
		{ID: "dashboard", Name: "Dashboard", Route: "/dashboard", Icon: "DashBoard", Category: "main", Enabled: boolPtr(true), Order: 1},
		{ID: "ventas", Name: "Ventas / Presupuestos", Route: "/ventas", Icon: "Receipt", Category: "main", Enabled: boolPtr(true), Order: 2},
		{ID: "envios", Name: "Envíos", Route: "/envios", Icon: "Truck", Category: "main", Enabled: boolPtr(true), Order: 3},
		{ID: "productos", Name: "Productos", Route: "/productos", Icon: "Building", Category: "main", Enabled: boolPtr(true), Order: 4},
		{ID: "stock", Name: "Stock", Route: "/stock-compras", Icon: "Boxes", Category: "main", Enabled: boolPtr(true), Order: 5},
		{ID: "gastos", Name: "Gastos", Route: "/gastos", Icon: "PiggyBank", Category: "main", Enabled: boolPtr(true), Order: 6},
		{ID: "obras", Name: "Obras", Route: "/obras", Icon: "Briefcase", Category: "main", Enabled: boolPtr(true), Order: 7},
		{ID: "clientes", Name: "Clientes", Route: "/clientes", Icon: "Users2", Category: "main", Enabled: boolPtr(true), Order: 8},
		{ID: "precios", Name: "Precios", Route: "/precios", Icon: "DollarSign", Category: "main", Enabled: boolPtr(true), Order: 9},
		{ID: "auditoria", Name: "Auditoría", Route: "/auditoria", Icon: "ClipboardList", Category: "main", Enabled: boolPtr(true), Order: 10},
	}
}

// Reason explains a denied access decision.
type Reason string

const (
	ReasonLicenseExpired Reason = "license_expired"
	ReasonNotFound       Reason = "module_not_found"
	ReasonDisabled       Reason = "module_disabled"
)

// Decision is the joined result of license validity and module enablement.
type Decision struct {
	Access bool   `json:"access"`
	Reason Reason `json:"reason,omitempty"`
}

// Decide checks the license first so that a disabled or missing module
// never masks an expired license.
func Decide(licenseValid bool, m *Module) Decision {
	switch {
	case !licenseValid:
		return Decision{Reason: ReasonLicenseExpired}
	case m == nil:
		return Decision{Reason: ReasonNotFound}
	case !m.IsEnabled():
		return Decision{Reason: ReasonDisabled}
	}
	return Decision{Access: true}
}

// Patch is a partial module update. Nil fields are left untouched.
type Patch struct {
	Name     *string `json:"name"`
	Route    *string `json:"route"`
	Icon     *string `json:"icon"`
	Category *string `json:"category"`
	Enabled  *bool   `json:"enabled"`
	Order    *int    `json:"order"`
}

func (p Patch) fields() store.Fields {
	f := store.Fields{}
	if p.Name != nil {
		f["name"] = *p.Name
	}
	if p.Route != nil {
		f["route"] = *p.Route
	}
	if p.Icon != nil {
		f["icon"] = *p.Icon
	}
	if p.Category != nil {
		f["category"] = *p.Category
	}
	if p.Enabled != nil {
		f["enabled"] = *p.Enabled
	}
	if p.Order != nil {
		f["order"] = *p.Order
	}
	return f
}

func (m Module) fields() store.Fields {
	f := store.Fields{
		"id":       m.ID,
		"name":     m.Name,
		"route":    m.Route,
		"icon":     m.Icon,
		"category": m.Category,
		"order":    m.Order,
	}
	if m.Enabled != nil {
		f["enabled"] = *m.Enabled
	}
	return f
}

func decode(doc store.Document) (Module, error) {
	var m Module
	if err := doc.Decode(&m); err != nil {
		return Module{}, err
	}
	m.ID = doc.ID
	return m, nil
}
