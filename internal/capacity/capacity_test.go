package capacity

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitter_TryAcquire_OKThenTenantCap(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	a := New(rdb, "cap", 600)

	mock.ExpectScriptLoad(tryAcquireScript).SetVal("sha-acquire")
	mock.ExpectEvalSha("sha-acquire",
		[]string{a.globalKey(), a.tenantActiveKey("t1"), a.rpmKey("t1")},
		"call-1", 200, 1, 60, 600).
		SetVal("ok")

	reason, err := a.TryAcquire(context.Background(), "call-1", "t1", Caps{GlobalConcurrency: 200, TenantConcurrency: 1, TenantRPM: 60})
	require.NoError(t, err)
	assert.Equal(t, ReasonOK, reason)

	mock.ExpectEvalSha("sha-acquire",
		[]string{a.globalKey(), a.tenantActiveKey("t1"), a.rpmKey("t1")},
		"call-2", 200, 1, 60, 600).
		SetVal("tenant_at_capacity")

	reason, err = a.TryAcquire(context.Background(), "call-2", "t1", Caps{GlobalConcurrency: 200, TenantConcurrency: 1, TenantRPM: 60})
	require.NoError(t, err)
	assert.Equal(t, ReasonTenantAtCapacity, reason)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitter_Release(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	a := New(rdb, "cap", 600)

	mock.ExpectScriptLoad(releaseScript).SetVal("sha-release")
	mock.ExpectEvalSha("sha-release",
		[]string{a.globalKey(), a.tenantActiveKey("t1")},
		"call-1").
		SetVal("ok")

	err := a.Release(context.Background(), "call-1", "t1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
