// Package directory answers whether an employee may log in from a device,
// and tracks the persistent sessions that employees resume.
package directory

import (
	"context"

	"github.com/victorgomez09/sentinel/internal/auth/models"
)

// Reason explains a rejected access decision.
type Reason string

const (
	ReasonEmployeeNotFound    Reason = "EMPLOYEE_NOT_FOUND"
	ReasonEmployeeInactive    Reason = "EMPLOYEE_INACTIVE"
	ReasonDeviceNotRegistered Reason = "DEVICE_NOT_REGISTERED"
)

type Restrictions struct {
	SessionPersistent bool `json:"session_persistent"`
}

type Employee struct {
	ID            string       `json:"id"`
	Username      string       `json:"username"`
	Role          models.Role  `json:"role"`
	Active        bool         `json:"active"`
	SecurityLevel int          `json:"security_level"`
	AllowLogout   bool         `json:"allow_logout"`
	Restrictions  Restrictions `json:"restrictions"`
	Devices       []string     `json:"devices,omitempty"`
}

// HasDevice reports whether fingerprint is registered to the employee.
func (e *Employee) HasDevice(fingerprint string) bool {
	for _, d := range e.Devices {
		if d == fingerprint {
			return true
		}
	}
	return false
}

func (e *Employee) clone() Employee {
	c := *e
	c.Devices = append([]string(nil), e.Devices...)
	return c
}

// AccessDecision is the directory's answer for one login attempt.
type AccessDecision struct {
	Valid           bool
	Reason          Reason
	ResumedSession  bool
	ExistingSession *models.Session
	EmployeeID      string
	Employee        Employee
}

// Directory is the employee directory consulted by the auth engine.
type Directory interface {
	ValidateEmployeeAccess(ctx context.Context, username, fingerprint string, rc models.RequestContext) (AccessDecision, error)
	RecordLoginActivity(ctx context.Context, employeeID, fingerprint string, success bool, ip, reason string) error
}
