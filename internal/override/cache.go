package override

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

const DefaultCacheTTL = 5 * time.Minute

// CachedChecker memoizes override decisions. The key covers everything the
// decision's cache metadata names: the permission set (hashed), the
// registration type and its revision and, when ownership mattered, the
// registration and whether the principal owns it. A permission grant or a
// type change therefore always misses the cache.
type CachedChecker struct {
	checker *Checker
	cache   *gocache.Cache
}

// NewCachedChecker wraps checker with an in-memory cache.
func NewCachedChecker(checker *Checker, ttl time.Duration) *CachedChecker {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedChecker{
		checker: checker,
		cache:   gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedChecker) Check(rt workflow.RegistrationType, settings model.HostSettings, p model.Principal, setting string, reg *model.Registration) Decision {
	key := cacheKey(rt, p, setting, reg)
	if v, ok := c.cache.Get(key); ok {
		if d, ok := v.(Decision); ok {
			return d
		}
	}
	d := c.checker.Check(rt, settings, p, setting, reg)
	c.cache.SetDefault(key, d)
	return d
}

func (c *CachedChecker) CanOverride(rt workflow.RegistrationType, settings model.HostSettings, p model.Principal, setting string, reg *model.Registration) bool {
	return c.Check(rt, settings, p, setting, reg).Allowed
}

// Len returns the number of cached decisions.
func (c *CachedChecker) Len() int {
	return c.cache.ItemCount()
}

// Flush drops every cached decision.
func (c *CachedChecker) Flush() {
	c.cache.Flush()
}

func cacheKey(rt workflow.RegistrationType, p model.Principal, setting string, reg *model.Registration) string {
	var b strings.Builder
	b.WriteString(setting)
	b.WriteByte('|')
	b.WriteString(rt.ID)
	b.WriteByte('@')
	b.WriteString(strconv.Itoa(rt.Revision))
	b.WriteByte('|')
	b.WriteString(permissionHash(p))
	if reg != nil {
		b.WriteByte('|')
		b.WriteString(reg.ID)
		b.WriteByte('|')
		b.WriteString(strconv.FormatBool(reg.OwnedBy(p.ID())))
	}
	return b.String()
}

func permissionHash(p model.Principal) string {
	h := sha256.New()
	for _, perm := range p.Permissions() {
		h.Write([]byte(perm))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
