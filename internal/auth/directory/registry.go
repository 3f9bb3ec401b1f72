package directory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/store"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// RolePolicy is the per-role default applied to employees derived from
// bootstrap accounts.
type RolePolicy struct {
	Persistent    bool
	AllowLogout   bool
	SecurityLevel int
}

// DefaultRolePolicies: staff sessions persist and cannot be logged out,
// admin and boss sessions are regular.
func DefaultRolePolicies() map[models.Role]RolePolicy {
	return map[models.Role]RolePolicy{
		models.RoleAdmin: {Persistent: false, AllowLogout: true, SecurityLevel: 100},
		models.RoleBoss:  {Persistent: false, AllowLogout: true, SecurityLevel: 1000},
		models.RoleStaff: {Persistent: true, AllowLogout: false, SecurityLevel: 10},
	}
}

// EmployeeID derives a stable id for username.
func EmployeeID(username string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("sentinel/employee/"+models.NormalizeUsername(username))).String()
}

// EmployeesFromAccounts builds one active employee per account from the
// role policies.
func EmployeesFromAccounts(accounts map[string]models.Role, policies map[models.Role]RolePolicy) []Employee {
	out := make([]Employee, 0, len(accounts))
	for username, role := range accounts {
		policy := policies[role]
		out = append(out, Employee{
			ID:            EmployeeID(username),
			Username:      models.NormalizeUsername(username),
			Role:          role,
			Active:        true,
			SecurityLevel: policy.SecurityLevel,
			AllowLogout:   policy.AllowLogout,
			Restrictions:  Restrictions{SessionPersistent: policy.Persistent},
		})
	}
	return out
}

// LoginActivity is one entry of an employee's login history.
type LoginActivity struct {
	At                time.Time `json:"at"`
	Success           bool      `json:"success"`
	IP                string    `json:"ip"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	Reason            string    `json:"reason,omitempty"`
}

type RegistryConfig struct {
	TrustOnFirstUse bool // Register the first successful device of an employee with none.
	HistoryLimit    int  // Login history entries kept per employee.
}

// Registry is the in-process Directory. Employees come from a YAML file or
// from the bootstrap accounts.
type Registry struct {
	mu         sync.RWMutex
	byUsername map[string]*Employee
	byID       map[string]*Employee

	persistent *PersistentStore
	history    *store.ShardedMap[[]LoginActivity]
	config     RegistryConfig
	logger     *zap.Logger
	nowFn      func() time.Time
}

var _ Directory = (*Registry)(nil)

// NewRegistry creates an empty registry. persistent may be nil, in which case
// no session is ever resumed.
func NewRegistry(cfg RegistryConfig, persistent *PersistentStore, logger *zap.Logger) *Registry {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &Registry{
		byUsername: make(map[string]*Employee),
		byID:       make(map[string]*Employee),
		persistent: persistent,
		history:    store.NewShardedMap[[]LoginActivity](store.DefaultShards),
		config:     cfg,
		logger:     logger,
		nowFn:      time.Now,
	}
}

// Replace swaps the employee set.
func (r *Registry) Replace(employees []Employee) error {
	byUsername := make(map[string]*Employee, len(employees))
	byID := make(map[string]*Employee, len(employees))

	for i := range employees {
		e := employees[i].clone()
		e.Username = models.NormalizeUsername(e.Username)
		if e.Username == "" {
			return fmt.Errorf("employee %d: username is required", i)
		}
		if !e.Role.Valid() {
			return fmt.Errorf("employee %s: invalid role %q", e.Username, e.Role)
		}
		if e.ID == "" {
			e.ID = EmployeeID(e.Username)
		}
		if _, dup := byUsername[e.Username]; dup {
			return fmt.Errorf("employee %s: duplicate username", e.Username)
		}
		if _, dup := byID[e.ID]; dup {
			return fmt.Errorf("employee %s: duplicate id %s", e.Username, e.ID)
		}
		byUsername[e.Username] = &e
		byID[e.ID] = &e
	}

	r.mu.Lock()
	r.byUsername = byUsername
	r.byID = byID
	r.mu.Unlock()
	return nil
}

type registryFile struct {
	Employees []registryEntry `yaml:"employees"`
}

type registryEntry struct {
	ID                string      `yaml:"id"`
	Username          string      `yaml:"username"`
	Role              models.Role `yaml:"role"`
	Active            *bool       `yaml:"active"`
	SecurityLevel     int         `yaml:"security_level"`
	AllowLogout       bool        `yaml:"allow_logout"`
	SessionPersistent bool        `yaml:"session_persistent"`
	Devices           []string    `yaml:"devices"`
}

// LoadFile replaces the employee set with the contents of a registry file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	var file registryFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return fmt.Errorf("parse registry %s: %w", path, err)
	}

	employees := make([]Employee, 0, len(file.Employees))
	for _, entry := range file.Employees {
		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		employees = append(employees, Employee{
			ID:            entry.ID,
			Username:      entry.Username,
			Role:          entry.Role,
			Active:        active,
			SecurityLevel: entry.SecurityLevel,
			AllowLogout:   entry.AllowLogout,
			Restrictions:  Restrictions{SessionPersistent: entry.SessionPersistent},
			Devices:       entry.Devices,
		})
	}

	if err := r.Replace(employees); err != nil {
		return fmt.Errorf("registry %s: %w", path, err)
	}

	r.logger.Info("Employee registry loaded",
		zap.String("path", path),
		zap.Int("employees", len(employees)))
	return nil
}

func (r *Registry) ValidateEmployeeAccess(_ context.Context, username, fingerprint string, rc models.RequestContext) (AccessDecision, error) {
	r.mu.RLock()
	e, ok := r.byUsername[models.NormalizeUsername(username)]
	var emp Employee
	if ok {
		emp = e.clone()
	}
	r.mu.RUnlock()

	if !ok {
		return AccessDecision{Reason: ReasonEmployeeNotFound}, nil
	}
	if !emp.Active {
		return AccessDecision{Reason: ReasonEmployeeInactive, EmployeeID: emp.ID}, nil
	}
	if len(emp.Devices) > 0 && !emp.HasDevice(fingerprint) {
		r.logger.Warn("Unregistered device",
			zap.String("employee_id", emp.ID),
			zap.String("device_fingerprint", fingerprint),
			zap.String("ip", rc.IP))
		return AccessDecision{Reason: ReasonDeviceNotRegistered, EmployeeID: emp.ID}, nil
	}

	decision := AccessDecision{
		Valid:      true,
		EmployeeID: emp.ID,
		Employee:   emp,
	}

	if emp.Restrictions.SessionPersistent && r.persistent != nil && fingerprint != "" {
		if sess, found := r.persistent.FindByEmployeeDevice(emp.ID, fingerprint, r.nowFn()); found {
			decision.ResumedSession = true
			decision.ExistingSession = sess
		}
	}
	return decision, nil
}

func (r *Registry) RecordLoginActivity(_ context.Context, employeeID, fingerprint string, success bool, ip, reason string) error {
	r.mu.RLock()
	_, known := r.byID[employeeID]
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("record login activity: unknown employee %q", employeeID)
	}

	entry := LoginActivity{
		At:                r.nowFn().UTC(),
		Success:           success,
		IP:                ip,
		DeviceFingerprint: fingerprint,
		Reason:            reason,
	}
	r.history.Update(employeeID, func(cur []LoginActivity, _ bool) ([]LoginActivity, bool) {
		next := append(append([]LoginActivity(nil), cur...), entry)
		if len(next) > r.config.HistoryLimit {
			next = next[len(next)-r.config.HistoryLimit:]
		}
		return next, true
	})

	if success && r.config.TrustOnFirstUse && fingerprint != "" {
		r.mu.Lock()
		if e, ok := r.byID[employeeID]; ok && len(e.Devices) == 0 {
			e.Devices = []string{fingerprint}
			r.logger.Info("Registered first device",
				zap.String("employee_id", employeeID),
				zap.String("device_fingerprint", fingerprint))
		}
		r.mu.Unlock()
	}

	r.logger.Info("Login activity",
		zap.String("employee_id", employeeID),
		zap.Bool("success", success),
		zap.String("ip", ip),
		zap.String("reason", reason))
	return nil
}

// History returns the recorded login activity of an employee, oldest first.
func (r *Registry) History(employeeID string) []LoginActivity {
	list, _ := r.history.Get(employeeID)
	return append([]LoginActivity(nil), list...)
}

// Employee returns the employee registered under username.
func (r *Registry) Employee(username string) (Employee, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byUsername[models.NormalizeUsername(username)]
	if !ok {
		return Employee{}, false
	}
	return e.clone(), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUsername)
}
