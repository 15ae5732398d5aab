package domain

import (
	"strings"
	"time"
)

// Role es el tipo de cuenta guardado en el registro de credenciales.
type Role string

const (
	RoleUser  Role = "user"
	RoleOwner Role = "owner"
)

// ParseRole valida un rol recibido; vacio equivale a RoleUser.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoleUser:
		return RoleUser, true
	case RoleOwner:
		return RoleOwner, true
	default:
		return "", false
	}
}

type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	FullName          string     `json:"fullName"`
	Phone             string     `json:"phone,omitempty"`
	Role              Role       `json:"role"`
	CompanyName       string     `json:"companyName,omitempty"`
	BusinessLicenseID string     `json:"businessLicenseId,omitempty"`
	PasswordHash      string     `json:"-"`
	OtpCodeHash       string     `json:"-"`
	OtpExpiresAt      *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// HasPendingOTP indica si hay un codigo de reseteo emitido y sin consumir.
func (u User) HasPendingOTP() bool {
	return u.OtpCodeHash != "" && u.OtpExpiresAt != nil
}

// NormalizeEmail es la clave canonica de busqueda y almacenamiento.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
