package domain

import (
	"slices"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleCourier  Role = "courier"
	RoleStaff    Role = "staff"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleCourier, RoleStaff:
		return true
	}
	return false
}

// Identity is a verified caller, as handed over by the token verifier.
type Identity struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
}

// Participants is the read-only view of who may talk about an order.
type Participants struct {
	OrderID    uuid.UUID   `json:"order_id"`
	CustomerID uuid.UUID   `json:"customer_id"`
	CourierID  *uuid.UUID  `json:"courier_id,omitempty"`
	StaffIDs   []uuid.UUID `json:"staff_ids"`
}

// RoleOf reports the role userID holds on the order, if any.
func (p *Participants) RoleOf(userID uuid.UUID) (Role, bool) {
	switch {
	case p.CustomerID == userID:
		return RoleCustomer, true
	case p.CourierID != nil && *p.CourierID == userID:
		return RoleCourier, true
	case slices.Contains(p.StaffIDs, userID):
		return RoleStaff, true
	}
	return "", false
}
