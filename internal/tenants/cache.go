package tenants

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/heraldhq/herald/internal/domain"
)

// CredentialSource resolves the active credential for a (tenant, channel)
// pair.
type CredentialSource interface {
	ActiveCredential(ctx context.Context, tenantID string, channel domain.ChannelType) (*domain.Credential, error)
}

// BrandingSource fetches tenant branding from the identity service.
type BrandingSource interface {
	FetchBranding(ctx context.Context, tenantID string) (*domain.TenantBranding, error)
}

type credentialEntry struct {
	credential *domain.Credential
	err        error
	expiresAt  time.Time
}

type brandingEntry struct {
	branding  domain.TenantBranding
	expiresAt time.Time
}

// Cache is a read-through cache over credentials and branding. Entries are
// immutable snapshots; callers must not mutate a returned credential.
// Concurrent misses for the same key are collapsed into a single fetch.
type Cache struct {
	credentials CredentialSource
	branding    BrandingSource // nil when no identity service is configured
	positiveTTL time.Duration
	negativeTTL time.Duration
	now         func() time.Time

	mu     sync.RWMutex
	creds  map[string]credentialEntry
	brands map[string]brandingEntry

	flight singleflight.Group
}

// NewCache creates a cache over the given sources. branding may be nil, in
// which case every tenant gets the synthesised default branding.
func NewCache(credentials CredentialSource, branding BrandingSource, positiveTTL, negativeTTL time.Duration) *Cache {
	return &Cache{
		credentials: credentials,
		branding:    branding,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		now:         time.Now,
		creds:       make(map[string]credentialEntry),
		brands:      make(map[string]brandingEntry),
	}
}

// Credential returns the credential for the (tenant, channel) pair. An
// unconfigured channel is cached as ErrChannelNotConfigured for the
// negative TTL; transient lookup failures are never cached.
func (c *Cache) Credential(ctx context.Context, tenantID string, channel domain.ChannelType) (*domain.Credential, error) {
	key := credentialKey(tenantID, channel)

	c.mu.RLock()
	e, ok := c.creds[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.credential, e.err
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// Re-check: another caller may have refreshed the entry while we
		// were waiting on the flight lock.
		c.mu.RLock()
		e, ok := c.creds[key]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expiresAt) {
			return e, nil
		}

		cred, err := c.credentials.ActiveCredential(ctx, tenantID, channel)
		entry := credentialEntry{credential: cred, err: err}
		switch {
		case err == nil:
			entry.expiresAt = c.now().Add(c.positiveTTL)
		case errors.Is(err, ErrChannelNotConfigured):
			entry.expiresAt = c.now().Add(c.negativeTTL)
		default:
			return nil, err
		}

		c.mu.Lock()
		c.creds[key] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	entry := v.(credentialEntry)
	return entry.credential, entry.err
}

// Branding returns the tenant branding. When the identity service is
// absent, unreachable or does not know the tenant, the synthesised default
// branding is returned; unknown tenants and fetch failures stay cached only
// for the negative TTL.
func (c *Cache) Branding(ctx context.Context, tenantID string) (domain.TenantBranding, error) {
	key := "branding:" + tenantID

	c.mu.RLock()
	e, ok := c.brands[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.branding, nil
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		e, ok := c.brands[key]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expiresAt) {
			return e, nil
		}

		branding, ttl, err := c.fetchBranding(ctx, tenantID)
		if err != nil {
			return nil, err
		}

		entry := brandingEntry{branding: branding, expiresAt: c.now().Add(ttl)}
		c.mu.Lock()
		c.brands[key] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return domain.TenantBranding{}, err
	}

	return v.(brandingEntry).branding, nil
}

// fetchBranding resolves branding from the identity service together with
// the TTL to cache it for. A cancelled context is the only error surfaced
// to callers; everything else degrades to the default branding.
func (c *Cache) fetchBranding(ctx context.Context, tenantID string) (domain.TenantBranding, time.Duration, error) {
	if c.branding == nil {
		return domain.DefaultBranding(tenantID), c.positiveTTL, nil
	}

	branding, err := c.branding.FetchBranding(ctx, tenantID)
	if err != nil {
		if ctx.Err() != nil {
			return domain.TenantBranding{}, 0, err
		}
		slog.Warn("branding fetch failed, using default", "tenant_id", tenantID, "error", err)
		return domain.DefaultBranding(tenantID), c.negativeTTL, nil
	}
	return *branding, c.positiveTTL, nil
}

// InvalidateCredential drops the cached credential for the pair, forcing
// the next lookup to hit the store.
func (c *Cache) InvalidateCredential(tenantID string, channel domain.ChannelType) {
	c.mu.Lock()
	delete(c.creds, credentialKey(tenantID, channel))
	c.mu.Unlock()
}

func credentialKey(tenantID string, channel domain.ChannelType) string {
	return "credential:" + tenantID + ":" + string(channel)
}
