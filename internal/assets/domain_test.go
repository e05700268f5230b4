package assets

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

func TestStatusHeld(t *testing.T) {
	require.True(t, StatusActive.Held())
	require.True(t, StatusUnderMaintenance.Held())
	require.True(t, StatusInactive.Held())
	require.False(t, StatusDisposed.Held())
	require.False(t, StatusRetired.Held())
}

func TestStatusDormant(t *testing.T) {
	require.False(t, StatusActive.Dormant())
	require.False(t, StatusUnderMaintenance.Dormant())
	require.True(t, StatusInactive.Dormant())
	require.True(t, StatusRetired.Dormant())
	require.True(t, StatusDisposed.Dormant())
	require.False(t, Status("lost").Valid())
}

func TestSameRef(t *testing.T) {
	require.True(t, SameRef(nil, nil))
	require.False(t, SameRef(Ref(1), nil))
	require.False(t, SameRef(nil, Ref(1)))
	require.True(t, SameRef(Ref(4), Ref(4)))
	require.False(t, SameRef(Ref(4), Ref(5)))
	require.Nil(t, Ref(0))
}

func TestNotFoundUnwrapsToShared(t *testing.T) {
	require.True(t, errors.Is(ErrNotFound, shared.ErrNotFound))
	require.True(t, errors.Is(ErrCategoryNotFound, shared.ErrNotFound))
}
