package acctcfg

import "time"

// Role tags the purpose an account plays in posting recipes. Recipes address
// accounts by role; configuration binds roles to concrete codes.
type Role string

const (
	RoleCustomerAR      Role = "customer_ar"
	RoleSupplierAP      Role = "supplier_ap"
	RoleInventory       Role = "inventory"
	RoleCOGS            Role = "cogs"
	RoleSalesRevenue    Role = "sales_revenue"
	RolePurchases       Role = "purchases"
	RoleCashDefault     Role = "cash_default"
	RoleBankDefault     Role = "bank_default"
	RoleTaxPayable      Role = "tax_payable"
	RolePartnerEquity   Role = "partner_equity"
	RolePartnerLoan     Role = "partner_loan"
	RoleInventoryAdjust Role = "inventory_adjust"
)

// Binding maps a role to an account code, either globally or for one entity.
type Binding struct {
	Role       Role
	EntityType string // empty for the global default
	EntityID   int64  // zero for the global default
	Code       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
