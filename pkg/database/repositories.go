// Copyright 2025 GridTokenX
//
// Repositories aggregates every entity repository behind one handle so
// callers construct a single value at startup and pass it down, mirroring
// the teacher's own repository-bundle pattern.

package database

type Repositories struct {
	Users        *UserRepository
	KeyVersions  *KeyVersionRepository
	Zones        *ZoneRepository
	Epochs       *EpochRepository
	Orders       *OrderRepository
	Escrow       *EscrowRepository
	Matches      *MatchRepository
	Settlements  *SettlementRepository
	Attempts     *TransactionAttemptRepository
	RECs         *RECRepository
	Meters       *MeterRepository
	Audit        *AuditRepository
	WalletLimits *WalletLimitRepository
}

func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Users:        NewUserRepository(client),
		KeyVersions:  NewKeyVersionRepository(client),
		Zones:        NewZoneRepository(client),
		Epochs:       NewEpochRepository(client),
		Orders:       NewOrderRepository(client),
		Escrow:       NewEscrowRepository(client),
		Matches:      NewMatchRepository(client),
		Settlements:  NewSettlementRepository(client),
		Attempts:     NewTransactionAttemptRepository(client),
		RECs:         NewRECRepository(client),
		Meters:       NewMeterRepository(client),
		Audit:        NewAuditRepository(client),
		WalletLimits: NewWalletLimitRepository(client),
	}
}
