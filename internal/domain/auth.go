package domain

import "strings"

const RoleAdmin = "admin"

// Identity is supplied per call by the authentication collaborator and
// trusted as given. A copy is sealed into every transaction it submits.
type Identity struct {
	UserID             string   `json:"user_id"`
	RegistrationNumber string   `json:"registration_number"`
	BarNumber          string   `json:"bar_number,omitempty"`
	Role               string   `json:"role"`
	CaseAccess         []string `json:"case_access,omitempty"`
}

func (i Identity) HasCaseAccess(caseNumber string) bool {
	if strings.EqualFold(i.Role, RoleAdmin) {
		return true
	}
	for _, c := range i.CaseAccess {
		if c == caseNumber {
			return true
		}
	}
	return false
}

func (i Identity) Clone() Identity {
	out := i
	if i.CaseAccess != nil {
		out.CaseAccess = append([]string(nil), i.CaseAccess...)
	}
	return out
}
