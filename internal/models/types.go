// Package models holds the command/event payloads exchanged over the bus and
// the rows persisted in the ledger store.
package models

import "time"

// AccountType is carried on creation commands and echoed in the feedback.
type AccountType string

const (
	AccountTypeAuto   AccountType = "AUTO"
	AccountTypeManual AccountType = "MANUAL"
)

// Schema names used on the wire to tag message payloads.
const (
	SchemaConfirmAccountCreation   = "ConfirmAccountCreation"
	SchemaConfirmMoneyTransfer     = "ConfirmMoneyTransfer"
	SchemaAccountCreationConfirmed = "AccountCreationConfirmed"
	SchemaAccountCreationFailed    = "AccountCreationFailed"
	SchemaMoneyTransferConfirmed   = "MoneyTransferConfirmed"
	SchemaMoneyTransferFailed      = "MoneyTransferFailed"
	SchemaBalanceChanged           = "BalanceChanged"
)

// ConfirmAccountCreation asks for a new account of the given type.
type ConfirmAccountCreation struct {
	ID          string      `json:"id"`
	AccountType AccountType `json:"a_type"`
}

// AccountCreationConfirmed reports the generated account id and token.
type AccountCreationConfirmed struct {
	ID          string      `json:"id"`
	Iban        string      `json:"iban"`
	Token       string      `json:"token"`
	AccountType AccountType `json:"a_type"`
}

// AccountCreationFailed reports why no account was created.
type AccountCreationFailed struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ConfirmMoneyTransfer asks to move amount (minor units) between accounts.
// From and To are account ids, or the special cash source for From.
type ConfirmMoneyTransfer struct {
	ID          string `json:"id"`
	Token       string `json:"token"`
	Amount      int64  `json:"amount"`
	From        string `json:"from"`
	To          string `json:"to"`
	Description string `json:"description"`
}

// MoneyTransferConfirmed acknowledges a processed transfer command.
type MoneyTransferConfirmed struct {
	ID string `json:"id"`
}

// MoneyTransferFailed reports why the transfer was rejected.
type MoneyTransferFailed struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BalanceChanged is emitted once for every ledger row a transfer actually
// mutated, independent of the success/failure feedback.
type BalanceChanged struct {
	Iban        string `json:"iban"`
	NewBalance  int64  `json:"new_balance"`
	ChangedBy   int64  `json:"changed_by"`
	FromTo      string `json:"from_to"`
	Description string `json:"description"`
}

// Balance is a ledger row. Amount never drops below Limit after a committed
// mutation; UpdatedAt increases monotonically per row.
type Balance struct {
	Iban        string      `json:"iban"`
	Token       string      `json:"token"`
	Amount      int64       `json:"amount"`
	AccountType AccountType `json:"account_type"`
	Limit       int64       `json:"lmt"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// CreationRecord is the immutable idempotency record for a creation command.
// Either the iban/token/type triple or Reason is populated, never both.
type CreationRecord struct {
	CommandID string    `json:"command_id"`
	Iban      string    `json:"iban"`
	Token     string    `json:"token"`
	Type      string    `json:"account_type"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// TransferRecord is the immutable idempotency record for a transfer command.
// An empty Reason means the transfer succeeded.
type TransferRecord struct {
	CommandID string    `json:"command_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
