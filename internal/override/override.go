// Package override decides whether an administrator may bypass a host
// setting (capacity, status, open or close dates, maximum spaces) for a
// registration.
package override

import (
	"fmt"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

// Overridable host settings.
const (
	SettingCapacity      = "capacity"
	SettingStatus        = "status"
	SettingOpen          = "open"
	SettingClose         = "close"
	SettingMaximumSpaces = "maximum_spaces"
)

// AdministerPermission grants administrative rights on every registration.
const AdministerPermission = "administer registration"

// TypeAdministerPermission scopes administrative rights to one registration type.
func TypeAdministerPermission(typeID string) string {
	return fmt.Sprintf("administer %s registration", typeID)
}

// OwnAdministerPermission grants administrative rights on the principal's
// own registrations of one type.
func OwnAdministerPermission(typeID string) string {
	return fmt.Sprintf("administer own %s registration", typeID)
}

// Permission is the specific permission needed to bypass setting.
func Permission(setting string) string {
	return "registration override " + setting
}

// CacheMetadata describes what a decision depends on. A caller caching the
// decision must vary it by every context and drop it when any tag is
// invalidated.
type CacheMetadata struct {
	Contexts []string
	Tags     []string
}

func (m *CacheMetadata) addContext(c string) {
	for _, existing := range m.Contexts {
		if existing == c {
			return
		}
	}
	m.Contexts = append(m.Contexts, c)
}

func (m *CacheMetadata) addTag(tag string) {
	for _, existing := range m.Tags {
		if existing == tag {
			return
		}
	}
	m.Tags = append(m.Tags, tag)
}

// Decision is the outcome of an override check.
type Decision struct {
	Allowed bool
	Cache   CacheMetadata
}

// Checker evaluates override rights. It holds no state.
type Checker struct{}

// NewChecker returns a Checker.
func NewChecker() *Checker { return &Checker{} }

// Check requires all three of: administrative rights on the registration,
// the setting-specific override permission, and the registration type
// flagging the setting overridable.
func (c *Checker) Check(rt workflow.RegistrationType, settings model.HostSettings, p model.Principal, setting string, reg *model.Registration) Decision {
	var d Decision
	d.Cache.addContext("user.permissions")
	d.Cache.addTag("config:registration_type." + rt.ID)

	admin, instance := administers(rt.ID, p, reg)
	if instance {
		d.Cache.addContext("user")
		d.Cache.addTag("registration:" + reg.ID)
	}
	if !admin {
		return d
	}
	if !p.HasPermission(Permission(setting)) {
		return d
	}
	if !rt.IsOverridable(setting) {
		return d
	}
	d.Allowed = true
	return d
}

// CanOverride is Check without the cache metadata.
func (c *Checker) CanOverride(rt workflow.RegistrationType, settings model.HostSettings, p model.Principal, setting string, reg *model.Registration) bool {
	return c.Check(rt, settings, p, setting, reg).Allowed
}

// IsAdministrator reports whether p administers reg, either through the
// global or type-scoped permission or, on its own registration, through
// the "administer own" permission.
func IsAdministrator(typeID string, p model.Principal, reg *model.Registration) bool {
	admin, _ := administers(typeID, p, reg)
	return admin
}

// administers also reports whether the answer depended on who owns reg.
func administers(typeID string, p model.Principal, reg *model.Registration) (allowed, instance bool) {
	if p.HasPermission(AdministerPermission) || p.HasPermission(TypeAdministerPermission(typeID)) {
		return true, false
	}
	if reg == nil {
		return false, false
	}
	return reg.OwnedBy(p.ID()) && p.HasPermission(OwnAdministerPermission(typeID)), true
}
