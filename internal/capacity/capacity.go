package capacity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wavebridge/voicebridge/internal/callerr"
)

// Reason is tryAcquire's outcome, per spec.md §4.8.
type Reason string

const (
	ReasonOK                  Reason = "ok"
	ReasonGlobalAtCapacity    Reason = "global_at_capacity"
	ReasonTenantAtCapacity    Reason = "tenant_at_capacity"
	ReasonTenantRateLimited   Reason = "tenant_rate_limited"
)

// Caps are the effective (override-or-default) caps for one tenant.
type Caps struct {
	GlobalConcurrency int
	TenantConcurrency int
	TenantRPM         int
}

// Admitter wraps the shared store's atomic tryAcquire/release script,
// using load-sha with a NOSCRIPT fallback to re-load, per spec.md §4.8.
type Admitter struct {
	rdb        redis.Scripter
	prefix     string
	ttlSeconds int

	acquireSHA string
	releaseSHA string
}

// New builds an Admitter bound to rdb, with keys under the configured
// prefix.
func New(rdb redis.Scripter, prefix string, ttlSeconds int) *Admitter {
	if ttlSeconds <= 0 {
		ttlSeconds = 600
	}
	return &Admitter{rdb: rdb, prefix: prefix, ttlSeconds: ttlSeconds}
}

func (a *Admitter) globalKey() string           { return fmt.Sprintf("%s:global:active", a.prefix) }
func (a *Admitter) tenantActiveKey(t string) string { return fmt.Sprintf("%s:tenant:%s:active", a.prefix, t) }
func (a *Admitter) rpmKey(t string) string {
	return fmt.Sprintf("%s:tenant:%s:rpm:%s", a.prefix, t, time.Now().UTC().Format("200601021504"))
}

// TryAcquire runs the atomic admission script for callId under tenantId,
// per spec.md §4.8's 6-step algorithm (idempotent re-acquire included).
func (a *Admitter) TryAcquire(ctx context.Context, callId, tenantId string, caps Caps) (Reason, error) {
	keys := []string{a.globalKey(), a.tenantActiveKey(tenantId), a.rpmKey(tenantId)}
	argv := []interface{}{callId, caps.GlobalConcurrency, caps.TenantConcurrency, caps.TenantRPM, a.ttlSeconds}

	res, err := a.eval(ctx, tryAcquireScript, &a.acquireSHA, keys, argv)
	if err != nil {
		return "", callerr.Wrap(callerr.KindCapacity, "script_eval_failed", err)
	}
	return Reason(fmt.Sprint(res)), nil
}

// Release removes callId from the global and tenant active sets. The
// per-minute rate counter is never decremented early.
func (a *Admitter) Release(ctx context.Context, callId, tenantId string) error {
	keys := []string{a.globalKey(), a.tenantActiveKey(tenantId)}
	_, err := a.eval(ctx, releaseScript, &a.releaseSHA, keys, []interface{}{callId})
	if err != nil {
		return callerr.Wrap(callerr.KindCapacity, "script_eval_failed", err)
	}
	return nil
}

// eval runs an EvalSha, loading (and caching) the script's SHA on first
// use or on a NOSCRIPT miss.
func (a *Admitter) eval(ctx context.Context, script string, sha *string, keys []string, argv []interface{}) (interface{}, error) {
	if *sha == "" {
		loaded, err := a.rdb.ScriptLoad(ctx, script).Result()
		if err != nil {
			return nil, err
		}
		*sha = loaded
	}

	res, err := a.rdb.EvalSha(ctx, *sha, keys, argv...).Result()
	if err != nil && strings.Contains(err.Error(), "NOSCRIPT") {
		loaded, loadErr := a.rdb.ScriptLoad(ctx, script).Result()
		if loadErr != nil {
			return nil, loadErr
		}
		*sha = loaded
		res, err = a.rdb.EvalSha(ctx, *sha, keys, argv...).Result()
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
