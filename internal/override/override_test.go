package override

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

func conferenceType(overridable ...string) workflow.RegistrationType {
	rt := workflow.RegistrationType{ID: "conference", WorkflowID: workflow.DefaultID, Overridable: map[string]bool{}}
	for _, s := range overridable {
		rt.Overridable[s] = true
	}
	return rt
}

func TestCheck_RequiresAllThreeConditions(t *testing.T) {
	settings := model.HostSettings{HostID: "h1", RegistrationType: "conference", Capacity: 1}
	c := NewChecker()

	admin := model.NewUser("admin", AdministerPermission)
	assert.False(t, c.CanOverride(conferenceType(SettingCapacity), settings, admin, SettingCapacity, nil),
		"administer alone is not enough")

	admin.Grant(Permission(SettingCapacity))
	assert.False(t, c.CanOverride(conferenceType(), settings, admin, SettingCapacity, nil),
		"type must flag the setting overridable")
	assert.True(t, c.CanOverride(conferenceType(SettingCapacity), settings, admin, SettingCapacity, nil))

	overrider := model.NewUser("u2", Permission(SettingCapacity))
	assert.False(t, c.CanOverride(conferenceType(SettingCapacity), settings, overrider, SettingCapacity, nil),
		"override permission without administrative rights")
}

func TestCheck_TypeScopedAdministrator(t *testing.T) {
	c := NewChecker()
	p := model.NewUser("u1", TypeAdministerPermission("conference"), Permission(SettingStatus))
	rt := conferenceType(SettingStatus)

	assert.True(t, c.CanOverride(rt, model.HostSettings{}, p, SettingStatus, nil))
	assert.False(t, c.CanOverride(rt, model.HostSettings{}, p, SettingCapacity, nil))

	other := conferenceType(SettingStatus)
	other.ID = "webinar"
	assert.False(t, c.CanOverride(other, model.HostSettings{}, p, SettingStatus, nil))
}

func TestCheck_InstanceLevelAdministrator(t *testing.T) {
	c := NewChecker()
	rt := conferenceType(SettingCapacity)
	p := model.NewUser("u1", OwnAdministerPermission("conference"), Permission(SettingCapacity))

	own := &model.Registration{ID: "r1", UserID: "u1"}
	d := c.Check(rt, model.HostSettings{}, p, SettingCapacity, own)
	require.True(t, d.Allowed)
	assert.Contains(t, d.Cache.Contexts, "user")
	assert.Contains(t, d.Cache.Tags, "registration:r1")
	assert.Contains(t, d.Cache.Tags, "config:registration_type.conference")

	theirs := &model.Registration{ID: "r2", UserID: "u9"}
	assert.False(t, c.CanOverride(rt, model.HostSettings{}, p, SettingCapacity, theirs))

	anonymous := &model.Registration{ID: "r3"}
	assert.False(t, c.CanOverride(rt, model.HostSettings{}, p, SettingCapacity, anonymous))
}

func TestCachedChecker_PermissionChangeIsNotServedStale(t *testing.T) {
	cc := NewCachedChecker(NewChecker(), 0)
	rt := conferenceType(SettingCapacity)
	p := model.NewUser("admin", AdministerPermission)

	require.False(t, cc.CanOverride(rt, model.HostSettings{}, p, SettingCapacity, nil))
	require.Equal(t, 1, cc.Len())

	p.Grant(Permission(SettingCapacity))
	require.True(t, cc.CanOverride(rt, model.HostSettings{}, p, SettingCapacity, nil))
	require.True(t, cc.CanOverride(rt, model.HostSettings{}, p, SettingCapacity, nil))
	require.Equal(t, 2, cc.Len())
}

func TestCachedChecker_TypeRevisionIsNotServedStale(t *testing.T) {
	cc := NewCachedChecker(NewChecker(), 0)
	p := model.NewUser("admin", AdministerPermission, Permission(SettingCapacity))

	rt := conferenceType(SettingCapacity)
	require.True(t, cc.CanOverride(rt, model.HostSettings{}, p, SettingCapacity, nil))

	rt = conferenceType()
	rt.Revision = 1
	require.False(t, cc.CanOverride(rt, model.HostSettings{}, p, SettingCapacity, nil))
}

func TestPermissionNames(t *testing.T) {
	assert.Equal(t, "registration override capacity", Permission(SettingCapacity))
	assert.Equal(t, "administer conference registration", TypeAdministerPermission("conference"))
	assert.Equal(t, "administer own conference registration", OwnAdministerPermission("conference"))
}
