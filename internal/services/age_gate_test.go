package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tillpoint/api/internal/domain"
)

func restrictedItem(id string) domain.LineItem {
	item := catalogItem(id, "8.99", 1)
	item.AgeRestriction = &domain.AgeRestriction{MinimumAge: 21}
	return item
}

func TestAgeVerificationGate_UnrestrictedPasses(t *testing.T) {
	gate := NewAgeVerificationGate()
	admitted, err := gate.Admit(catalogItem("bread", "3.00", 1), 1)
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, domain.AgeNotRequired, gate.State().Status)
}

func TestAgeVerificationGate_ConfirmBypassesLaterItems(t *testing.T) {
	gate := NewAgeVerificationGate()
	admitted, err := gate.Admit(restrictedItem("beer"), 2)
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, domain.AgePending, gate.State().Status)

	item, qty, err := gate.Confirm()
	require.NoError(t, err)
	assert.Equal(t, "beer", item.ID)
	assert.Equal(t, 2, qty)
	assert.Equal(t, domain.AgeVerified, gate.State().Status)

	admitted, err = gate.Admit(restrictedItem("wine"), 1)
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestAgeVerificationGate_SkipAlsoBypasses(t *testing.T) {
	gate := NewAgeVerificationGate()
	_, _ = gate.Admit(restrictedItem("beer"), 1)
	_, _, err := gate.Skip()
	require.NoError(t, err)
	assert.Equal(t, domain.AgeSkipped, gate.State().Status)

	admitted, err := gate.Admit(restrictedItem("cigars"), 1)
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestAgeVerificationGate_CancelDoesNotBypass(t *testing.T) {
	gate := NewAgeVerificationGate()
	_, _ = gate.Admit(restrictedItem("beer"), 1)
	require.NoError(t, gate.Cancel())
	assert.Equal(t, domain.AgeCancelled, gate.State().Status)
	assert.Nil(t, gate.State().PendingItem)

	admitted, err := gate.Admit(restrictedItem("beer"), 1)
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, domain.AgePending, gate.State().Status)
}

func TestAgeVerificationGate_InvalidTransitions(t *testing.T) {
	gate := NewAgeVerificationGate()
	_, _, err := gate.Confirm()
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, errors.Is(gate.Cancel(), ErrValidation))

	_, _ = gate.Admit(restrictedItem("beer"), 1)
	_, err = gate.Admit(restrictedItem("wine"), 1)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "beer", gate.State().PendingItem.ID)
}

func TestAgeVerificationGate_Reset(t *testing.T) {
	gate := NewAgeVerificationGate()
	_, _ = gate.Admit(restrictedItem("beer"), 1)
	_, _, _ = gate.Confirm()
	gate.Reset()

	admitted, _ := gate.Admit(restrictedItem("beer"), 1)
	assert.False(t, admitted)
}
