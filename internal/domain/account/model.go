package account

import (
	"sort"
	"strings"
	"time"
)

// Roles.
const (
	RoleAdmin        = "ADMIN"
	RoleDoctor       = "DOCTOR"
	RoleNurse        = "NURSE"
	RoleReceptionist = "RECEPTIONIST"
	RolePatient      = "PATIENT"
	RoleBilling      = "BILLING"
	RolePharmacist   = "PHARMACIST"
	RoleAnalyst      = "ANALYST"
)

// DefaultRole is assigned when a registration names no role.
const DefaultRole = RolePatient

// Permissions.
const (
	PermPatientRead          = "patient:read"
	PermPatientReadSelf      = "patient:read:self"
	PermPatientWrite         = "patient:write"
	PermDoctorRead           = "doctor:read"
	PermDoctorWrite          = "doctor:write"
	PermAppointmentRead      = "appointment:read"
	PermAppointmentWrite     = "appointment:write"
	PermBillingRead          = "billing:read"
	PermBillingWrite         = "billing:write"
	PermPrescriptionRead     = "prescription:read"
	PermPrescriptionWrite    = "prescription:write"
	PermPrescriptionDispense = "prescription:dispense"
	PermAnalyticsRead        = "analytics:read"
	PermReportExport         = "report:export"
	PermNotificationSend     = "notification:send"
	PermUserRead             = "user:read"
	PermUserManage           = "user:manage"
)

var rolePermissions = map[string][]string{
	RoleAdmin: {
		PermPatientRead, PermPatientWrite, PermDoctorRead, PermDoctorWrite,
		PermAppointmentRead, PermAppointmentWrite, PermBillingRead, PermBillingWrite,
		PermPrescriptionRead, PermAnalyticsRead, PermReportExport,
		PermNotificationSend, PermUserRead, PermUserManage,
	},
	RoleDoctor: {
		PermPatientRead, PermPatientWrite, PermDoctorRead, PermAppointmentRead,
		PermAppointmentWrite, PermPrescriptionRead, PermPrescriptionWrite,
		PermNotificationSend,
	},
	RoleNurse: {
		PermPatientRead, PermPatientWrite, PermDoctorRead, PermAppointmentRead,
		PermPrescriptionRead,
	},
	RoleReceptionist: {
		PermPatientRead, PermPatientWrite, PermDoctorRead, PermAppointmentRead,
		PermAppointmentWrite, PermNotificationSend, PermUserRead,
	},
	RolePatient: {
		PermPatientReadSelf, PermDoctorRead, PermAppointmentRead, PermAppointmentWrite,
		PermPrescriptionRead,
	},
	RoleBilling: {
		PermPatientRead, PermBillingRead, PermBillingWrite, PermReportExport,
	},
	RolePharmacist: {
		PermPatientRead, PermPrescriptionRead, PermPrescriptionDispense,
	},
	RoleAnalyst: {
		PermAnalyticsRead, PermReportExport, PermAppointmentRead, PermBillingRead,
	},
}

// KnownRole reports whether role is part of the role catalogue.
func KnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// Roles returns the role catalogue, sorted.
func Roles() []string {
	out := make([]string, 0, len(rolePermissions))
	for r := range rolePermissions {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// PermissionsFor derives the permission set granted by roles. Unknown roles
// grant nothing.
func PermissionsFor(roles []string) []string {
	set := make(map[string]struct{})
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// NormalizeRoles upper-cases, trims and de-duplicates role names, keeping the
// first-seen order.
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Principal is the durable identity record owned by the issuer.
type Principal struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	AccountType      string     `json:"accountType"`
	Roles            []string   `json:"roles"`
	Active           bool       `json:"active"`
	Locked           bool       `json:"locked"`
	Verified         bool       `json:"verified"`
	LoginCount       int        `json:"loginCount"`
	FailedLoginCount int        `json:"failedLoginCount"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Permissions derives the principal's permission set from its roles.
func (p *Principal) Permissions() []string {
	return PermissionsFor(p.Roles)
}

// Summary is the public view of a Principal returned by the API.
type Summary struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	AccountType string     `json:"accountType"`
	Roles       []string   `json:"roles"`
	Permissions []string   `json:"permissions"`
	Active      bool       `json:"active"`
	Locked      bool       `json:"locked"`
	Verified    bool       `json:"verified"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func (p *Principal) Summary() Summary {
	return Summary{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		AccountType: p.AccountType,
		Roles:       p.Roles,
		Permissions: p.Permissions(),
		Active:      p.Active,
		Locked:      p.Locked,
		Verified:    p.Verified,
		LastLoginAt: p.LastLoginAt,
	}
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	AccountType string   `json:"accountType"`
	Roles       []string `json:"roles"`
}

// LoginRequest is the body of POST /api/auth/login. Identifier may hold a
// username or an email; Username and Email are accepted as aliases.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

// LoginIdentifier returns the first non-empty identifier field.
func (r LoginRequest) LoginIdentifier() string {
	for _, s := range []string{r.Identifier, r.Username, r.Email} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// TokenPair is returned by login, register and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// AuthResponse wraps a token pair with the principal it was issued to.
type AuthResponse struct {
	TokenPair
	User Summary `json:"user"`
}
