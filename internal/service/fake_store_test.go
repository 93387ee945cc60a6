package service

import (
	"context"
	"time"

	"github.com/openbank/command-handler/internal/models"
	"github.com/openbank/command-handler/internal/store"
)

// fakeStore is an in-memory store.TxRunner/store.Tx for exercising the
// handlers without postgres. Tests here run commands sequentially, so no
// transactional isolation is simulated; duplicate-key races are injected
// explicitly via failNextRecordInsert.
type fakeStore struct {
	balances  map[string]*models.Balance
	creations map[string]*models.CreationRecord
	transfers map[string]*models.TransferRecord

	lockOrder []string
	adjusts   int

	// when set, the next record insert reports ErrDuplicateKey and installs
	// the given record as the concurrent winner's committed state
	failNextRecordInsert bool
	winnerCreation       *models.CreationRecord
	winnerTransfer       *models.TransferRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances:  make(map[string]*models.Balance),
		creations: make(map[string]*models.CreationRecord),
		transfers: make(map[string]*models.TransferRecord),
	}
}

func (f *fakeStore) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return fn(f)
}

func (f *fakeStore) addBalance(iban, token string, amount, limit int64) *models.Balance {
	b := &models.Balance{
		Iban:        iban,
		Token:       token,
		Amount:      amount,
		AccountType: models.AccountTypeAuto,
		Limit:       limit,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	f.balances[iban] = b
	return b
}

func (f *fakeStore) CreationRecord(ctx context.Context, commandID string) (*models.CreationRecord, error) {
	rec, ok := f.creations[commandID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) InsertCreationRecord(ctx context.Context, rec *models.CreationRecord) error {
	if f.failNextRecordInsert {
		f.failNextRecordInsert = false
		f.creations[rec.CommandID] = f.winnerCreation
		return store.ErrDuplicateKey
	}
	if _, ok := f.creations[rec.CommandID]; ok {
		return store.ErrDuplicateKey
	}
	rec.CreatedAt = time.Now()
	cp := *rec
	f.creations[rec.CommandID] = &cp
	return nil
}

func (f *fakeStore) TransferRecord(ctx context.Context, commandID string) (*models.TransferRecord, error) {
	rec, ok := f.transfers[commandID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) InsertTransferRecord(ctx context.Context, rec *models.TransferRecord) error {
	if f.failNextRecordInsert {
		f.failNextRecordInsert = false
		f.transfers[rec.CommandID] = f.winnerTransfer
		return store.ErrDuplicateKey
	}
	if _, ok := f.transfers[rec.CommandID]; ok {
		return store.ErrDuplicateKey
	}
	rec.CreatedAt = time.Now()
	cp := *rec
	f.transfers[rec.CommandID] = &cp
	return nil
}

func (f *fakeStore) Balance(ctx context.Context, iban string) (*models.Balance, error) {
	b, ok := f.balances[iban]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) BalanceForUpdate(ctx context.Context, iban string) (*models.Balance, error) {
	f.lockOrder = append(f.lockOrder, iban)
	return f.Balance(ctx, iban)
}

func (f *fakeStore) InsertBalance(ctx context.Context, b *models.Balance) error {
	if _, ok := f.balances[b.Iban]; ok {
		return store.ErrDuplicateAccount
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	f.balances[b.Iban] = &cp
	return nil
}

func (f *fakeStore) AdjustBalance(ctx context.Context, iban string, delta int64) (*models.Balance, error) {
	b, ok := f.balances[iban]
	if !ok {
		return nil, nil
	}
	f.adjusts++
	b.Amount += delta
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}
