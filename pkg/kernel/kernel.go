// Package kernel holds identifier types and the authenticated caller shared by every module.
package kernel

import "github.com/google/uuid"

type AccountID string

func NewAccountID() AccountID       { return AccountID(uuid.NewString()) }
func (id AccountID) String() string { return string(id) }
func (id AccountID) IsEmpty() bool  { return id == "" }

type WithdrawalID string

func NewWithdrawalID() WithdrawalID    { return WithdrawalID(uuid.NewString()) }
func (id WithdrawalID) String() string { return string(id) }
func (id WithdrawalID) IsEmpty() bool  { return id == "" }

// Role of an account in the back office.
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// AuthContext describes the caller of an authenticated request.
type AuthContext struct {
	AccountID AccountID
	Email     string
	Role      Role
}

func (a *AuthContext) IsValid() bool {
	return a != nil && !a.AccountID.IsEmpty()
}

func (a *AuthContext) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// CanAccess reports whether the caller may act on resources owned by owner.
func (a *AuthContext) CanAccess(owner AccountID) bool {
	return a.IsAdmin() || (a.IsValid() && a.AccountID == owner)
}
