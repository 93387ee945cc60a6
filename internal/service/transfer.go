package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/openbank/command-handler/internal/iban"
	"github.com/openbank/command-handler/internal/models"
	"github.com/openbank/command-handler/internal/store"
)

// Transfer failure reasons, recorded verbatim in the transfer record and the
// failure feedback event.
const (
	ReasonInvalidFrom       = "from is invalid"
	ReasonSameAccount       = "from and to can't be same for transfer"
	ReasonInvalidToken      = "invalid token"
	ReasonInsufficientFunds = "insufficient funds"
)

// Transfer handles ConfirmMoneyTransfer commands.
type Transfer struct {
	store store.TxRunner
	log   zerolog.Logger
}

func NewTransfer(s store.TxRunner, log zerolog.Logger) *Transfer {
	return &Transfer{store: s, log: log}
}

// Process applies the transfer command once and returns its record plus the
// post-mutation snapshots of the balances actually touched. A redelivered
// command id returns the previously committed record with nil snapshots, so
// no BalanceChanged side effects are re-emitted.
func (t *Transfer) Process(ctx context.Context, cmd models.ConfirmMoneyTransfer) (rec *models.TransferRecord, from, to *models.Balance, err error) {
	timer := prometheus.NewTimer(commandDuration.WithLabelValues("money_transfer"))
	defer timer.ObserveDuration()

	err = t.store.WithinTx(ctx, func(tx store.Tx) error {
		existing, err := tx.TransferRecord(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			rec = existing
			return nil
		}
		rec, from, to, err = t.apply(ctx, tx, cmd)
		return err
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		from, to = nil, nil
		rec, err = t.fetchCommitted(ctx, cmd.ID)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	observeOutcome("money_transfer", rec.Reason)
	return rec, from, to, nil
}

// apply runs the validation chain and, when it passes, the two-sided balance
// mutation. The transfer record is inserted in the same transaction so the
// outcome and the money movement commit atomically.
func (t *Transfer) apply(ctx context.Context, tx store.Tx, cmd models.ConfirmMoneyTransfer) (*models.TransferRecord, *models.Balance, *models.Balance, error) {
	rec := &models.TransferRecord{CommandID: cmd.ID}
	var from, to *models.Balance

	switch {
	case !iban.UsableSource(cmd.From):
		rec.Reason = ReasonInvalidFrom
	case cmd.From == cmd.To:
		rec.Reason = ReasonSameAccount
	default:
		var err error
		rec.Reason, from, to, err = t.move(ctx, tx, cmd)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if err := tx.InsertTransferRecord(ctx, rec); err != nil {
		return nil, nil, nil, err
	}
	return rec, from, to, nil
}

// move debits From and credits To. Row locks are always taken in lexical iban
// order, so two opposite transfers between the same pair can't deadlock. A
// valid account id without a ledger row is a warned no-op for that leg, not a
// failure.
func (t *Transfer) move(ctx context.Context, tx store.Tx, cmd models.ConfirmMoneyTransfer) (reason string, from, to *models.Balance, err error) {
	ids := make([]string, 0, 2)
	if iban.Valid(cmd.From) {
		ids = append(ids, cmd.From)
	}
	if iban.Valid(cmd.To) {
		ids = append(ids, cmd.To)
	}
	sort.Strings(ids)

	locked := make(map[string]*models.Balance, len(ids))
	for _, id := range ids {
		b, err := tx.BalanceForUpdate(ctx, id)
		if err != nil {
			return "", nil, nil, err
		}
		if b != nil {
			locked[id] = b
		}
	}

	if iban.Valid(cmd.From) {
		fromBal := locked[cmd.From]
		if fromBal == nil {
			t.log.Warn().Str("iban", cmd.From).Msg("valid open iban not found")
		} else {
			switch {
			case fromBal.Token != cmd.Token:
				return ReasonInvalidToken, nil, nil, nil
			case fromBal.Amount-cmd.Amount < fromBal.Limit:
				return ReasonInsufficientFunds, nil, nil, nil
			}
			from, err = tx.AdjustBalance(ctx, cmd.From, -cmd.Amount)
			if err != nil {
				return "", nil, nil, err
			}
		}
	}

	if iban.Valid(cmd.To) {
		toBal := locked[cmd.To]
		if toBal == nil {
			t.log.Warn().Str("iban", cmd.To).Msg("valid open iban not found")
		} else {
			to, err = tx.AdjustBalance(ctx, cmd.To, cmd.Amount)
			if err != nil {
				return "", nil, nil, err
			}
		}
	}

	return "", from, to, nil
}

func (t *Transfer) fetchCommitted(ctx context.Context, commandID string) (*models.TransferRecord, error) {
	var rec *models.TransferRecord
	err := t.store.WithinTx(ctx, func(tx store.Tx) error {
		existing, err := tx.TransferRecord(ctx, commandID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("transfer record for command %s missing after duplicate insert", commandID)
		}
		rec = existing
		return nil
	})
	return rec, err
}
