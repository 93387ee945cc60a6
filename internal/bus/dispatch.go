package bus

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/openbank/command-handler/internal/models"
)

// Handler turns one decoded inbound message into zero or more outbound
// events. Returning (nil, nil) drops the message; a non-nil error is fatal to
// the consuming worker.
type Handler interface {
	Handle(ctx context.Context, key, schema string, body []byte) ([]Event, error)
}

type creationProcessor interface {
	Process(ctx context.Context, cmd models.ConfirmAccountCreation) (*models.CreationRecord, error)
}

type transferProcessor interface {
	Process(ctx context.Context, cmd models.ConfirmMoneyTransfer) (*models.TransferRecord, *models.Balance, *models.Balance, error)
}

// CreationHandler maps ConfirmAccountCreation messages onto the creation
// service and its outcome onto the feedback topic.
type CreationHandler struct {
	svc creationProcessor
	log zerolog.Logger
}

func NewCreationHandler(svc creationProcessor, log zerolog.Logger) *CreationHandler {
	return &CreationHandler{svc: svc, log: log}
}

func (h *CreationHandler) Handle(ctx context.Context, key, schema string, body []byte) ([]Event, error) {
	if schema != models.SchemaConfirmAccountCreation {
		h.log.Warn().Str("schema", schema).Msg("was expecting ConfirmAccountCreation, dropping message")
		messagesDropped.WithLabelValues("account_creation", "schema_mismatch").Inc()
		return nil, nil
	}
	var cmd models.ConfirmAccountCreation
	if err := json.Unmarshal(body, &cmd); err != nil {
		h.log.Warn().Err(err).Msg("undecodable ConfirmAccountCreation, dropping message")
		messagesDropped.WithLabelValues("account_creation", "decode_error").Inc()
		return nil, nil
	}

	rec, err := h.svc.Process(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var ev Event
	if rec.Reason != "" {
		ev = Event{
			Topic:   TopicAccountCreationFeedback,
			Key:     key,
			Schema:  models.SchemaAccountCreationFailed,
			Payload: models.AccountCreationFailed{ID: cmd.ID, Reason: rec.Reason},
		}
	} else {
		ev = Event{
			Topic:  TopicAccountCreationFeedback,
			Key:    key,
			Schema: models.SchemaAccountCreationConfirmed,
			Payload: models.AccountCreationConfirmed{
				ID:          cmd.ID,
				Iban:        rec.Iban,
				Token:       rec.Token,
				AccountType: cmd.AccountType,
			},
		}
	}
	return []Event{ev}, nil
}

// TransferHandler maps ConfirmMoneyTransfer messages onto the transfer engine
// and its outcome onto the feedback topic, plus one BalanceChanged event per
// mutated balance.
type TransferHandler struct {
	svc transferProcessor
	log zerolog.Logger
}

func NewTransferHandler(svc transferProcessor, log zerolog.Logger) *TransferHandler {
	return &TransferHandler{svc: svc, log: log}
}

func (h *TransferHandler) Handle(ctx context.Context, key, schema string, body []byte) ([]Event, error) {
	if schema != models.SchemaConfirmMoneyTransfer {
		h.log.Warn().Str("schema", schema).Msg("was expecting ConfirmMoneyTransfer, dropping message")
		messagesDropped.WithLabelValues("money_transfer", "schema_mismatch").Inc()
		return nil, nil
	}
	var cmd models.ConfirmMoneyTransfer
	if err := json.Unmarshal(body, &cmd); err != nil {
		h.log.Warn().Err(err).Msg("undecodable ConfirmMoneyTransfer, dropping message")
		messagesDropped.WithLabelValues("money_transfer", "decode_error").Inc()
		return nil, nil
	}

	rec, from, to, err := h.svc.Process(ctx, cmd)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, 3)
	if rec.Reason != "" {
		events = append(events, Event{
			Topic:   TopicMoneyTransferFeedback,
			Key:     key,
			Schema:  models.SchemaMoneyTransferFailed,
			Payload: models.MoneyTransferFailed{ID: cmd.ID, Reason: rec.Reason},
		})
	} else {
		events = append(events, Event{
			Topic:   TopicMoneyTransferFeedback,
			Key:     key,
			Schema:  models.SchemaMoneyTransferConfirmed,
			Payload: models.MoneyTransferConfirmed{ID: cmd.ID},
		})
	}

	if from != nil {
		events = append(events, balanceChanged(from, -cmd.Amount, cmd.To, cmd.Description))
	} else {
		h.log.Info().Str("command_id", cmd.ID).Msg("no balance -from- present, no balance_changed sent")
	}
	if to != nil {
		events = append(events, balanceChanged(to, cmd.Amount, cmd.From, cmd.Description))
	} else {
		h.log.Info().Str("command_id", cmd.ID).Msg("no balance -to- present, no balance_changed sent")
	}
	return events, nil
}

func balanceChanged(b *models.Balance, changedBy int64, counterparty, description string) Event {
	return Event{
		Topic:  TopicBalanceChanged,
		Key:    b.Iban,
		Schema: models.SchemaBalanceChanged,
		Payload: models.BalanceChanged{
			Iban:        b.Iban,
			NewBalance:  b.Amount,
			ChangedBy:   changedBy,
			FromTo:      counterparty,
			Description: description,
		},
	}
}
