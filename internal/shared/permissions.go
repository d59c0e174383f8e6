package shared

// Permission names one feature flag a user may be granted.
type Permission string

// Feature permissions.
const (
	PermClients    Permission = "clients"
	PermProducts   Permission = "products"
	PermInvoices   Permission = "invoices"
	PermDeliveries Permission = "deliveries"
	PermStatistics Permission = "statistics"
	PermWarehouse  Permission = "warehouse"
	PermEditUser   Permission = "editUser"
)

// Role is the coarse user role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Permissions is the fixed set of feature flags stored per user.
type Permissions struct {
	Clients    bool `json:"clients"`
	Products   bool `json:"products"`
	Invoices   bool `json:"invoices"`
	Deliveries bool `json:"deliveries"`
	Statistics bool `json:"statistics"`
	Warehouse  bool `json:"warehouse"`
	EditUser   bool `json:"editUser"`
}

// AllPermissions grants every flag.
func AllPermissions() Permissions {
	return Permissions{
		Clients:    true,
		Products:   true,
		Invoices:   true,
		Deliveries: true,
		Statistics: true,
		Warehouse:  true,
		EditUser:   true,
	}
}

// Has reports whether the flag for p is set. Unknown permissions are denied.
func (p Permissions) Has(perm Permission) bool {
	switch perm {
	case PermClients:
		return p.Clients
	case PermProducts:
		return p.Products
	case PermInvoices:
		return p.Invoices
	case PermDeliveries:
		return p.Deliveries
	case PermStatistics:
		return p.Statistics
	case PermWarehouse:
		return p.Warehouse
	case PermEditUser:
		return p.EditUser
	default:
		return false
	}
}
