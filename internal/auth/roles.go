package auth

import "strings"

// Role represents a principal role.
type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch role := Role(strings.ToLower(strings.TrimSpace(value))); role {
	case RoleUser, RoleManager, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// Capability names one permission checked by the policy.
type Capability string

const (
	CapViewConfigs      Capability = "fee_configs.view"
	CapManageConfigs    Capability = "fee_configs.manage"
	CapSubmitUnits      Capability = "units.submit"
	CapImportUnits      Capability = "units.import"
	CapViewUnits        Capability = "units.view"
	CapComputeBills     Capability = "bills.compute"
	CapViewBills        Capability = "bills.view"
	CapViewAllBills     Capability = "bills.view_all"
	CapRecordPayments   Capability = "bills.pay"
	CapAdjustBills      Capability = "bills.adjust"
	CapRemind           Capability = "bills.remind"
	CapExport           Capability = "bills.export"
	CapViewLedger       Capability = "ledger.view"
	CapViewReports      Capability = "reports.view"
	CapViewApartments   Capability = "apartments.view"
	CapManageApartments Capability = "apartments.manage"
	CapViewActivity     Capability = "activity.view"
)

var roleCapabilities = map[Role]map[Capability]struct{}{
	RoleAdmin: capSet(
		CapViewConfigs, CapManageConfigs,
		CapSubmitUnits, CapImportUnits, CapViewUnits,
		CapComputeBills, CapViewBills, CapViewAllBills, CapRecordPayments, CapAdjustBills, CapRemind, CapExport,
		CapViewLedger, CapViewReports,
		CapViewApartments, CapManageApartments,
		CapViewActivity,
	),
	RoleManager: capSet(
		CapViewConfigs,
		CapSubmitUnits, CapImportUnits, CapViewUnits,
		CapComputeBills, CapViewBills, CapViewAllBills, CapRecordPayments, CapAdjustBills, CapRemind, CapExport,
		CapViewLedger, CapViewReports,
		CapViewApartments,
		CapViewActivity,
	),
	// Residents read their own apartment and submit its readings; ownership is
	// enforced per request.
	RoleUser: capSet(
		CapViewConfigs,
		CapSubmitUnits,
		CapViewBills,
		CapViewLedger,
	),
}

// Can reports whether role holds capability.
func Can(role Role, capability Capability) bool {
	caps, ok := roleCapabilities[role]
	if !ok {
		return false
	}
	_, ok = caps[capability]
	return ok
}

func capSet(caps ...Capability) map[Capability]struct{} {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}
