package auth

import (
	"net/http"
	"strings"
)

const apiPrefix = "/api/v1/"

// Policy determines the capability a request needs.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredCapability resolves the capability for the request. An empty
// capability with ok=true means any authenticated principal may proceed.
// ok=false means the path is outside the API and needs no principal.
func (p Policy) RequiredCapability(r *http.Request) (Capability, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	if !strings.HasPrefix(path, apiPrefix) {
		return "", false
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	read := r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions

	switch parts[0] {
	case "fee-configs":
		if read {
			return CapViewConfigs, true
		}
		return CapManageConfigs, true
	case "units":
		if read {
			return CapViewUnits, true
		}
		if len(parts) > 1 && parts[1] == "bulk" {
			return CapImportUnits, true
		}
		return CapSubmitUnits, true
	case "bills":
		return billCapability(parts[1:], read), true
	case "ledger":
		if len(parts) > 1 && parts[1] == "history" {
			return CapViewLedger, true
		}
		return CapViewReports, true
	case "reports":
		return CapViewReports, true
	case "apartments":
		if read {
			return CapViewApartments, true
		}
		return CapManageApartments, true
	case "activity":
		return CapViewActivity, true
	}
	return "", true
}

func billCapability(rest []string, read bool) Capability {
	switch {
	case len(rest) == 0:
		return CapViewBills
	case len(rest) == 1:
		switch rest[0] {
		case "compute", "compute-period":
			return CapComputeBills
		case "export.xlsx", "export.csv":
			return CapExport
		}
		return CapViewBills
	case len(rest) == 2:
		if read {
			return CapViewBills
		}
		return CapAdjustBills
	}
	switch rest[2] {
	case "invoice.pdf":
		return CapViewBills
	case "mark-paid", "payments":
		return CapRecordPayments
	case "reminder":
		return CapRemind
	}
	return CapAdjustBills
}
