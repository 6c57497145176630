// Copyright 2025 GridTokenX
//
// Package chain builds and submits the typed on-chain instructions spec.md
// §4B names, grounded on the teacher's pkg/ethereum client for signing and
// broadcast via go-ethereum.
package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Instruction is an opaque, program-addressed call: a program id, the list
// of accounts it touches, and its serialised arguments. Field ordering is
// fixed by this struct definition and MUST NOT change without a
// coordinated deploy, per spec.md §4B.
type Instruction struct {
	ProgramID common.Address
	Accounts  []common.Address
	Data      []byte
}

// abiFragment is a minimal single-method ABI used to pack one instruction's
// arguments, mirroring the teacher's abi.JSON(strings.NewReader(...)).Pack
// pattern in pkg/ethereum/client.go.
func pack(fragment, method string, args ...interface{}) ([]byte, error) {
	parsed, err := abi.JSON(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parse instruction abi for %s: %w", method, err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack instruction %s: %w", method, err)
	}
	return data, nil
}

func uuidBytes32(id uuid.UUID) [32]byte {
	var out [32]byte
	copy(out[16:], id[:])
	return out
}

const createOrderABI = `[{"name":"createOrder","type":"function","inputs":[
	{"name":"orderId","type":"bytes32"},
	{"name":"user","type":"address"},
	{"name":"side","type":"uint8"},
	{"name":"kind","type":"uint8"},
	{"name":"energyAmount","type":"uint256"},
	{"name":"price","type":"uint256"},
	{"name":"expiresAt","type":"uint256"}]}]`

// BuildCreateOrderIx builds the trading-program instruction recording a new
// order. side and kind are the numeric encodings of database.OrderSide and
// database.OrderKind.
func BuildCreateOrderIx(tradingProgram common.Address, orderID uuid.UUID, user common.Address, side, kind uint8, energyAmount, price *big.Int, expiresAt int64) (Instruction, error) {
	data, err := pack(createOrderABI, "createOrder", uuidBytes32(orderID), user, side, kind, energyAmount, price, big.NewInt(expiresAt))
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProgramID: tradingProgram, Accounts: []common.Address{user}, Data: data}, nil
}

const matchOrdersABI = `[{"name":"matchOrders","type":"function","inputs":[
	{"name":"matchId","type":"bytes32"},
	{"name":"buyOrderId","type":"bytes32"},
	{"name":"sellOrderId","type":"bytes32"},
	{"name":"matchedAmount","type":"uint256"},
	{"name":"matchPrice","type":"uint256"}]}]`

// BuildMatchIx builds the trading-program instruction recording a match
// between two resting orders.
func BuildMatchIx(tradingProgram common.Address, matchID, buyOrderID, sellOrderID uuid.UUID, matchedAmount, matchPrice *big.Int) (Instruction, error) {
	data, err := pack(matchOrdersABI, "matchOrders", uuidBytes32(matchID), uuidBytes32(buyOrderID), uuidBytes32(sellOrderID), matchedAmount, matchPrice)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProgramID: tradingProgram, Data: data}, nil
}

const settleABI = `[{"name":"settle","type":"function","inputs":[
	{"name":"settlementId","type":"bytes32"},
	{"name":"matchId","type":"bytes32"},
	{"name":"buyer","type":"address"},
	{"name":"seller","type":"address"},
	{"name":"netAmount","type":"uint256"},
	{"name":"effectiveEnergy","type":"uint256"}]}]`

// BuildSettleIx builds the trading-program instruction recording the
// on-chain leg of settlement, step 3 of spec.md §4I.
func BuildSettleIx(tradingProgram common.Address, settlementID, matchID uuid.UUID, buyer, seller common.Address, netAmount, effectiveEnergy *big.Int) (Instruction, error) {
	data, err := pack(settleABI, "settle", uuidBytes32(settlementID), uuidBytes32(matchID), buyer, seller, netAmount, effectiveEnergy)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProgramID: tradingProgram, Accounts: []common.Address{buyer, seller}, Data: data}, nil
}

const mintFromReadingABI = `[{"name":"mintFromReading","type":"function","inputs":[
	{"name":"mint","type":"address"},
	{"name":"owner","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"readingId","type":"bytes32"}]}]`

// BuildMintFromReadingIx builds the energy-token-program instruction
// minting energy credits from a verified meter reading.
func BuildMintFromReadingIx(energyTokenProgram, mint, owner common.Address, amount *big.Int, readingID uuid.UUID) (Instruction, error) {
	data, err := pack(mintFromReadingABI, "mintFromReading", mint, owner, amount, uuidBytes32(readingID))
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProgramID: energyTokenProgram, Accounts: []common.Address{owner}, Data: data}, nil
}

const registerMeterABI = `[{"name":"registerMeter","type":"function","inputs":[
	{"name":"owner","type":"address"},
	{"name":"meterId","type":"bytes32"},
	{"name":"meterType","type":"uint8"}]}]`

// BuildRegisterMeterIx builds the registry-program instruction registering
// a new meter.
func BuildRegisterMeterIx(registryProgram, owner common.Address, meterID uuid.UUID, meterType uint8) (Instruction, error) {
	data, err := pack(registerMeterABI, "registerMeter", owner, uuidBytes32(meterID), meterType)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProgramID: registryProgram, Accounts: []common.Address{owner}, Data: data}, nil
}

const registerUserABI = `[{"name":"registerUser","type":"function","inputs":[
	{"name":"user","type":"address"},
	{"name":"userId","type":"bytes32"}]}]`

// BuildRegisterUserIx builds the registry-program instruction registering
// a new user's on-chain identity.
func BuildRegisterUserIx(registryProgram, user common.Address, userID uuid.UUID) (Instruction, error) {
	data, err := pack(registerUserABI, "registerUser", user, uuidBytes32(userID))
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProgramID: registryProgram, Accounts: []common.Address{user}, Data: data}, nil
}

const issueRECABI = `[{"name":"issueREC","type":"function","inputs":[
	{"name":"recId","type":"bytes32"},
	{"name":"owner","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"settlementId","type":"bytes32"}]}]`

// BuildIssueRECIx builds the governance-program instruction issuing a REC
// certificate, spec.md §4I step 4.
func BuildIssueRECIx(governanceProgram, owner common.Address, recID uuid.UUID, amount *big.Int, settlementID uuid.UUID) (Instruction, error) {
	data, err := pack(issueRECABI, "issueREC", uuidBytes32(recID), owner, amount, uuidBytes32(settlementID))
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProgramID: governanceProgram, Accounts: []common.Address{owner}, Data: data}, nil
}

const transferRECABI = `[{"name":"transferREC","type":"function","inputs":[
	{"name":"recId","type":"bytes32"},
	{"name":"from","type":"address"},
	{"name":"to","type":"address"}]}]`

// BuildTransferRECIx builds the governance-program instruction
// transferring a REC certificate between owners.
func BuildTransferRECIx(governanceProgram common.Address, recID uuid.UUID, from, to common.Address) (Instruction, error) {
	data, err := pack(transferRECABI, "transferREC", uuidBytes32(recID), from, to)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProgramID: governanceProgram, Accounts: []common.Address{from, to}, Data: data}, nil
}

const retireRECABI = `[{"name":"retireREC","type":"function","inputs":[
	{"name":"recId","type":"bytes32"},
	{"name":"owner","type":"address"}]}]`

// BuildRetireRECIx builds the governance-program instruction retiring a
// REC certificate permanently.
func BuildRetireRECIx(governanceProgram common.Address, recID uuid.UUID, owner common.Address) (Instruction, error) {
	data, err := pack(retireRECABI, "retireREC", uuidBytes32(recID), owner)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProgramID: governanceProgram, Accounts: []common.Address{owner}, Data: data}, nil
}
