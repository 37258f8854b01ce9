package domain

import "fmt"

type Role int

const (
	RoleCustomer Role = iota + 1
	RoleManager
	RoleDirector
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "CUSTOMER"
	case RoleManager:
		return "MANAGER"
	case RoleDirector:
		return "DIRECTOR"
	case RoleAdmin:
		return "ADMIN"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "CUSTOMER":
		return RoleCustomer, nil
	case "MANAGER":
		return RoleManager, nil
	case "DIRECTOR":
		return RoleDirector, nil
	case "ADMIN":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

type CityID int64

// StaffLoad is a fulfilling user together with the number of orders
// currently pending on them.
type StaffLoad struct {
	UserID int64
	Active int
}
