// Copyright 2025 GridTokenX
//
// Row types for every entity in the relational schema. Field names mirror
// the column names (snake_case in SQL, CamelCase in Go) one-to-one so
// repository Scan calls read naturally.

package database

import (
	"time"

	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/money"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the account and balance row; wallet fields are nullable until a
// wallet is created.
type User struct {
	ID                 uuid.UUID
	Email              string
	Role               Role
	WalletPublicKey    *string
	EncryptedPrivateKey []byte
	Salt               []byte
	Nonce              []byte
	KeyVersion         int
	FreeCurrency       money.Amount
	LockedCurrency     money.Amount
	FreeEnergy         money.Amount
	LockedEnergy       money.Amount
	EmailVerified      bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasWallet reports whether the user has completed wallet custody setup.
func (u *User) HasWallet() bool {
	return u.WalletPublicKey != nil && len(u.EncryptedPrivateKey) > 0
}

// MasterKeyVersion tracks the lifecycle of a versioned master secret; the
// secret itself is never stored, only a commitment hash of it.
type MasterKeyVersion struct {
	Version     int
	KeyHash     []byte
	IsActive    bool
	ActivatedAt time.Time
	RotatedAt   *time.Time
}

type ZoneRate struct {
	ID            uuid.UUID
	FromZone      string
	ToZone        string
	WheelingRate  money.Amount
	LossFactor    money.Amount
	ActiveFrom    time.Time
	ActiveTo      *time.Time
	IsActive      bool
}

type EpochStatus string

const (
	EpochPending  EpochStatus = "pending"
	EpochActive   EpochStatus = "active"
	EpochCleared  EpochStatus = "cleared"
	EpochSettled  EpochStatus = "settled"
)

type Epoch struct {
	ID            uuid.UUID
	EpochNumber   int64
	Start         time.Time
	End           time.Time
	Status        EpochStatus
	ClearingPrice *money.Amount
	TotalVolume   *money.Amount
	TotalOrders   *int
	MatchedOrders *int
}

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderKind string

const (
	KindLimit  OrderKind = "limit"
	KindMarket OrderKind = "market"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
)

type Order struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	EpochID       uuid.UUID
	Side          OrderSide
	Kind          OrderKind
	EnergyAmount  money.Amount
	PricePerKWh   money.Amount
	FilledAmount  money.Amount
	Status        OrderStatus
	ExpiresAt     time.Time
	Zone          *string
	CreatedAt     time.Time
}

// Remaining returns the unfilled portion of the order.
func (o *Order) Remaining() money.Amount {
	return o.EnergyAmount.Sub(o.FilledAmount)
}

type EscrowAsset string

const (
	AssetCurrency EscrowAsset = "currency"
	AssetEnergy   EscrowAsset = "energy"
)

type EscrowState string

const (
	EscrowLocked   EscrowState = "locked"
	EscrowReleased EscrowState = "released"
	EscrowConsumed EscrowState = "consumed"
)

type EscrowRecord struct {
	ID      uuid.UUID
	OrderID uuid.UUID
	Asset   EscrowAsset
	Amount  money.Amount
	State   EscrowState
}

type Match struct {
	ID            uuid.UUID
	EpochID       uuid.UUID
	BuyOrderID    uuid.UUID
	SellOrderID   uuid.UUID
	MatchedAmount money.Amount
	MatchPrice    money.Amount
	CreatedAt     time.Time
	SettlementID  *uuid.UUID
}

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementInFlight  SettlementStatus = "in_flight"
	SettlementSucceeded SettlementStatus = "succeeded"
	SettlementFailed    SettlementStatus = "failed"
)

// SettlementState is the per-match state-machine state, distinct from the
// coarse SettlementStatus column used for the coordinator sweep index.
type SettlementState string

const (
	StatePending           SettlementState = "Pending"
	StateEscrowed          SettlementState = "Escrowed"
	StateCurrencyDebited   SettlementState = "CurrencyDebited"
	StateEnergyCredited    SettlementState = "EnergyCredited"
	StateFeeCollected      SettlementState = "FeeCollected"
	StateWheelingCollected SettlementState = "WheelingCollected"
	StateRecIssued         SettlementState = "RecIssued"
	StateNotifiedSettled   SettlementState = "NotifiedAndSettled"
	StateFailed            SettlementState = "Failed"
)

type Settlement struct {
	ID              uuid.UUID
	MatchID         uuid.UUID
	BuyerID         uuid.UUID
	SellerID        uuid.UUID
	EnergyAmount    money.Amount
	Price           money.Amount
	Gross           money.Amount
	Fee             money.Amount
	Wheeling        money.Amount
	LossCost        money.Amount
	LossFactor      money.Amount
	EffectiveEnergy money.Amount
	BuyerZone       *string
	SellerZone      *string
	Net             money.Amount
	Status          SettlementStatus
	State           SettlementState
	Attempts        int
	LastError       *string
	ExternalSignature *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type AttemptState string

const (
	AttemptCreated   AttemptState = "created"
	AttemptSigned    AttemptState = "signed"
	AttemptSubmitted AttemptState = "submitted"
	AttemptConfirmed AttemptState = "confirmed"
	AttemptFailed    AttemptState = "failed"
)

// TransactionAttempt is the idempotency ledger row: one row per
// (operation_type, operation_id), unique-constrained, so a replayed
// settlement step never double-submits on-chain.
type TransactionAttempt struct {
	ID                 uuid.UUID
	OperationType       string
	OperationID         string
	PayloadFingerprint  string
	State               AttemptState
	ExternalSignature   *string
	Attempts            int
	CreatedAt           time.Time
	LastError           *string
}

type RECStatus string

const (
	RECActive      RECStatus = "active"
	RECTransferred RECStatus = "transferred"
	RECRetired     RECStatus = "retired"
)

type RECCertificate struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	MeterSerial      string
	KWhAmount        money.Amount
	Source           string
	IssuedAt         time.Time
	ExpiresAt        *time.Time
	Status           RECStatus
	OnChainSignature *string
	Metadata         []byte // JSON
}

type MeterType string

const (
	MeterSolar MeterType = "solar"
	MeterWind  MeterType = "wind"
	MeterOther MeterType = "other"
)

type MeterStatus string

const (
	MeterPending  MeterStatus = "pending"
	MeterVerified MeterStatus = "verified"
	MeterRejected MeterStatus = "rejected"
)

type Meter struct {
	Serial        string
	UserID        uuid.UUID
	PublicKeyHash []byte
	Type          MeterType
	Status        MeterStatus
	Zone          *string
}

type AuditEvent struct {
	ID        uuid.UUID
	Actor     *uuid.UUID
	Kind      string
	Subject   *string
	IP        *string
	UserAgent *string
	Details   []byte // JSON
	CreatedAt time.Time
}

// WalletExportRateLimit tracks the most recent export per user so
// pkg/wallet can enforce the one-per-hour policy.
type WalletExportRateLimit struct {
	UserID     uuid.UUID
	LastExport time.Time
	Count      int
}
