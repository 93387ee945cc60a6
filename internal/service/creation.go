// Package service implements the command handlers: account creation and money
// transfer. Both are idempotent on the command id; the idempotency record and
// any balance mutations commit in one transaction, and a concurrent redelivery
// losing the insert race returns the winner's record.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/openbank/command-handler/internal/iban"
	"github.com/openbank/command-handler/internal/models"
	"github.com/openbank/command-handler/internal/store"
)

// DefaultOverdraftLimit is the most negative amount a new account may reach,
// in minor units.
const DefaultOverdraftLimit = -50000

// ReasonIbanExists is recorded when the generated account id collides with an
// existing ledger row. The failure is permanent for that command id; the
// client must retry with a new command.
const ReasonIbanExists = "generated iban already exists, try again"

// Creation handles ConfirmAccountCreation commands.
type Creation struct {
	store store.TxRunner
	log   zerolog.Logger

	// identifier generation, overridable in tests
	newIban  func() string
	newToken func() string
}

func NewCreation(s store.TxRunner, log zerolog.Logger) *Creation {
	return &Creation{store: s, log: log, newIban: iban.New, newToken: iban.NewToken}
}

// Process applies the creation command once and returns its record. A
// redelivered command id returns the previously committed record unchanged.
func (c *Creation) Process(ctx context.Context, cmd models.ConfirmAccountCreation) (*models.CreationRecord, error) {
	timer := prometheus.NewTimer(commandDuration.WithLabelValues("account_creation"))
	defer timer.ObserveDuration()

	var rec *models.CreationRecord
	err := c.store.WithinTx(ctx, func(tx store.Tx) error {
		existing, err := tx.CreationRecord(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			rec = existing
			return nil
		}
		rec, err = c.create(ctx, tx, cmd)
		return err
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		// Lost the insert race against a concurrent delivery of the same
		// command; the winner's record is authoritative.
		rec, err = c.fetchCommitted(ctx, cmd.ID)
	}
	if err != nil {
		return nil, err
	}

	observeOutcome("account_creation", rec.Reason)
	return rec, nil
}

func (c *Creation) create(ctx context.Context, tx store.Tx, cmd models.ConfirmAccountCreation) (*models.CreationRecord, error) {
	candidate := c.newIban()
	existing, err := tx.Balance(ctx, candidate)
	if err != nil {
		return nil, err
	}

	rec := &models.CreationRecord{CommandID: cmd.ID, Type: string(cmd.AccountType)}
	if existing != nil {
		c.log.Warn().Str("iban", candidate).Msg("generated iban collides with existing account")
		rec.Type = ""
		rec.Reason = ReasonIbanExists
	} else {
		rec.Iban = candidate
		rec.Token = c.newToken()
		balance := &models.Balance{
			Iban:        candidate,
			Token:       rec.Token,
			Amount:      0,
			AccountType: cmd.AccountType,
			Limit:       DefaultOverdraftLimit,
		}
		if err := tx.InsertBalance(ctx, balance); err != nil {
			return nil, err
		}
	}

	if err := tx.InsertCreationRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Creation) fetchCommitted(ctx context.Context, commandID string) (*models.CreationRecord, error) {
	var rec *models.CreationRecord
	err := c.store.WithinTx(ctx, func(tx store.Tx) error {
		existing, err := tx.CreationRecord(ctx, commandID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("creation record for command %s missing after duplicate insert", commandID)
		}
		rec = existing
		return nil
	})
	return rec, err
}
