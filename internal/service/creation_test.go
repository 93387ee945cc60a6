package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbank/command-handler/internal/iban"
	"github.com/openbank/command-handler/internal/models"
)

func newTestCreation(f *fakeStore) *Creation {
	return NewCreation(f, zerolog.Nop())
}

func TestCreationSuccess(t *testing.T) {
	f := newFakeStore()
	c := newTestCreation(f)

	cmd := models.ConfirmAccountCreation{ID: uuid.NewString(), AccountType: models.AccountTypeAuto}
	rec, err := c.Process(context.Background(), cmd)
	require.NoError(t, err)

	assert.Empty(t, rec.Reason)
	assert.True(t, iban.Valid(rec.Iban))
	assert.Len(t, rec.Token, 20)
	assert.Equal(t, "AUTO", rec.Type)

	b := f.balances[rec.Iban]
	require.NotNil(t, b)
	assert.Equal(t, int64(0), b.Amount)
	assert.Equal(t, int64(DefaultOverdraftLimit), b.Limit)
	assert.Equal(t, rec.Token, b.Token)
}

func TestCreationIdempotent(t *testing.T) {
	f := newFakeStore()
	c := newTestCreation(f)

	cmd := models.ConfirmAccountCreation{ID: uuid.NewString(), AccountType: models.AccountTypeAuto}
	first, err := c.Process(context.Background(), cmd)
	require.NoError(t, err)

	second, err := c.Process(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, first.Iban, second.Iban)
	assert.Equal(t, first.Token, second.Token)
	assert.Len(t, f.balances, 1, "replay must not create another account")
}

func TestCreationIbanCollision(t *testing.T) {
	f := newFakeStore()
	c := newTestCreation(f)

	taken := iban.New()
	f.addBalance(taken, iban.NewToken(), 0, DefaultOverdraftLimit)
	c.newIban = func() string { return taken }

	cmd := models.ConfirmAccountCreation{ID: uuid.NewString(), AccountType: models.AccountTypeManual}
	rec, err := c.Process(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, ReasonIbanExists, rec.Reason)
	assert.Empty(t, rec.Iban)
	assert.Empty(t, rec.Token)
	assert.Len(t, f.balances, 1, "collision must not create a ledger row")

	// The failure is permanent for this command id even though a retried
	// generation would likely succeed.
	c.newIban = iban.New
	replay, err := c.Process(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, ReasonIbanExists, replay.Reason)
	assert.Len(t, f.balances, 1)
}

func TestCreationLosesInsertRace(t *testing.T) {
	f := newFakeStore()
	c := newTestCreation(f)

	cmd := models.ConfirmAccountCreation{ID: uuid.NewString(), AccountType: models.AccountTypeAuto}
	winner := &models.CreationRecord{
		CommandID: cmd.ID,
		Iban:      iban.New(),
		Token:     iban.NewToken(),
		Type:      "AUTO",
	}
	f.failNextRecordInsert = true
	f.winnerCreation = winner

	rec, err := c.Process(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, winner.Iban, rec.Iban)
	assert.Equal(t, winner.Token, rec.Token)
}
