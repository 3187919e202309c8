package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"
	"wallet-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testNow = time.Date(2025, 3, 7, 14, 5, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// mockTx implements pgx.Tx for testing
type mockTx struct {
	pgx.Tx
	committed  bool
	commitErr  error
	rolledBack bool
}

func (m *mockTx) Rollback(_ context.Context) error {
	if !m.committed {
		m.rolledBack = true
	}
	return nil
}

func (m *mockTx) Commit(_ context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}

// keySet matches a lock key slice holding exactly want, in any order.
type keySet struct{ want []string }

func (m keySet) Matches(x any) bool {
	got, ok := x.([]string)
	if !ok || len(got) != len(m.want) {
		return false
	}
	return assert.ElementsMatch(noopT{}, m.want, got)
}

func (m keySet) String() string { return fmt.Sprintf("lock keys %v", m.want) }

type noopT struct{}

func (noopT) Errorf(string, ...any) {}

// refKeys is the lock key set of a write on wallets claiming reference.
func refKeys(reference string, wallets ...*domain.Wallet) gomock.Matcher {
	keys := []string{domain.ReferenceLockKey(reference)}
	for _, w := range wallets {
		keys = append(keys, w.LockKey())
	}
	return keySet{want: keys}
}

// anyRefKeys matches the wallet keys plus one generated reference key.
type anyRefKeys struct{ wallets []string }

func (m anyRefKeys) Matches(x any) bool {
	got, ok := x.([]string)
	if !ok || len(got) != len(m.wallets)+1 {
		return false
	}
	var rest []string
	refs := 0
	for _, k := range got {
		if strings.HasPrefix(k, "ref:") {
			refs++
			continue
		}
		rest = append(rest, k)
	}
	return refs == 1 && assert.ElementsMatch(noopT{}, m.wallets, rest)
}

func (m anyRefKeys) String() string { return fmt.Sprintf("lock keys %v plus a reference", m.wallets) }

func generatedRefKeys(wallets ...*domain.Wallet) gomock.Matcher {
	var keys []string
	for _, w := range wallets {
		keys = append(keys, w.LockKey())
	}
	return anyRefKeys{wallets: keys}
}

// runLocked makes the mock locker run the critical section directly.
func runLocked(locker *mocks.MockLocker, keys any, opts ports.LockOptions) *gomock.Call {
	return locker.EXPECT().
		WithLock(gomock.Any(), keys, opts, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ []string, _ ports.LockOptions, fn func(context.Context) error) error {
			return fn(ctx)
		})
}

// lockExhausted makes the mock locker fail without running the critical section.
func lockExhausted(locker *mocks.MockLocker) *gomock.Call {
	return locker.EXPECT().
		WithLock(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(apperror.ErrLockTimeout(context.DeadlineExceeded))
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
