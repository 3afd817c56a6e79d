package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/preflightdb/preflight/migrate/version"
)

type fakeSource struct {
	entries []LedgerEntry
	err     error
}

func (f *fakeSource) ListApplied(context.Context) ([]LedgerEntry, error) {
	return f.entries, f.err
}

func def(v, name string) Definition {
	return Definition{
		Version:       version.MustParse(v),
		Name:          name,
		ForwardScript: "CREATE TABLE " + name + " (id INT);",
		ReverseScript: "DROP TABLE " + name + ";",
	}
}

func applied(v string, offset time.Duration) LedgerEntry {
	return LedgerEntry{
		Version:   version.MustParse(v),
		AppliedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset),
	}
}

func loaded(t *testing.T, defs []Definition, entries []LedgerEntry) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, r.RegisterAll(defs))
	require.NoError(t, r.Load(context.Background(), &fakeSource{entries: entries}))
	return r
}

func TestRegisterDuplicateVersion(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(def("001", "create_users")))
	err := r.Register(def("1", "create_users_again"))
	require.ErrorIs(t, err, ErrDuplicateVersion)
}

func TestPendingExcludesApplied(t *testing.T) {
	r := loaded(t,
		[]Definition{def("001", "a"), def("002", "b"), def("003", "c")},
		[]LedgerEntry{applied("001", 0)},
	)

	pending, err := r.Pending(version.Version{})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "002", pending[0].Version.String())
	require.Equal(t, "003", pending[1].Version.String())
}

func TestPendingWithTarget(t *testing.T) {
	r := loaded(t,
		[]Definition{def("001", "a"), def("002", "b"), def("003", "c")},
		nil,
	)

	pending, err := r.Pending(version.MustParse("002"))
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "001", pending[0].Version.String())
	require.Equal(t, "002", pending[1].Version.String())
}

func TestPendingUnknownTarget(t *testing.T) {
	r := loaded(t, []Definition{def("001", "a")}, nil)
	_, err := r.Pending(version.MustParse("009"))
	require.ErrorIs(t, err, ErrUnknownTarget)
}

func TestPendingAscendingAcrossKinds(t *testing.T) {
	r := loaded(t,
		[]Definition{def("20240215093000", "ts"), def("002", "b"), def("001", "a")},
		nil,
	)

	pending, err := r.Pending(version.Version{})
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, "001", pending[0].Version.String())
	require.Equal(t, "002", pending[1].Version.String())
	require.Equal(t, "20240215093000", pending[2].Version.String())
}

func TestAppliedTailOrder(t *testing.T) {
	r := loaded(t,
		[]Definition{def("001", "a"), def("002", "b"), def("003", "c")},
		[]LedgerEntry{applied("001", 0), applied("002", time.Hour), applied("003", 2*time.Hour)},
	)

	tail, err := r.AppliedTail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, "003", tail[0].Version.String())
	require.Equal(t, "002", tail[1].Version.String())
}

func TestAppliedOrderBreaksTimestampTies(t *testing.T) {
	r := loaded(t,
		[]Definition{def("001", "a"), def("002", "b"), def("003", "c")},
		[]LedgerEntry{applied("003", 0), applied("001", 0), applied("002", 0)},
	)

	got := r.Applied()
	require.Len(t, got, 3)
	require.Equal(t, "001", got[0].Version.String())
	require.Equal(t, "002", got[1].Version.String())
	require.Equal(t, "003", got[2].Version.String())
}

func TestAppliedTailInsufficientHistory(t *testing.T) {
	r := loaded(t,
		[]Definition{def("001", "a")},
		[]LedgerEntry{applied("001", 0)},
	)

	_, err := r.AppliedTail(2)
	require.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestLoadDetectsInconsistency(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(def("001", "a")))

	err := r.Load(context.Background(), &fakeSource{entries: []LedgerEntry{applied("002", 0)}})
	require.ErrorIs(t, err, ErrInconsistent)
}

func TestResolveDownDefaultsToOneStep(t *testing.T) {
	r := loaded(t,
		[]Definition{def("001", "a"), def("002", "b")},
		[]LedgerEntry{applied("001", 0), applied("002", time.Hour)},
	)

	plan, err := r.Resolve(Down, ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, "002", plan[0].Version.String())
}

func TestResolveDownRequiresReverseScript(t *testing.T) {
	irreversible := def("001", "a")
	irreversible.ReverseScript = ""
	r := loaded(t,
		[]Definition{irreversible},
		[]LedgerEntry{applied("001", 0)},
	)

	_, err := r.Resolve(Down, ResolveOptions{Steps: 1})
	require.ErrorIs(t, err, ErrNoReverseScript)
}

func TestResolveUpMatchesPending(t *testing.T) {
	r := loaded(t,
		[]Definition{def("001", "a"), def("002", "b")},
		nil,
	)

	plan, err := r.Resolve(Up, ResolveOptions{Target: version.MustParse("001")})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, "001", plan[0].Version.String())
}
