package state

import (
	"errors"
	"fmt"
	"math/big"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"filamint/core/types"
)

// ErrInsufficientBalance is returned when a transfer exceeds the sender's
// balance.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

var accountPrefix = []byte("account:")

func accountKey(addr [20]byte) []byte {
	return prefixedKey(accountPrefix, addr[:])
}

// GetAccount returns the account stored under addr, or an empty account.
func (tx *Tx) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored gethtypes.StateAccount
	ok, err := tx.kvGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{Balance: big.NewInt(0)}
	if ok {
		account.Nonce = stored.Nonce
		if stored.Balance != nil {
			account.Balance = stored.Balance.ToBig()
		}
	}
	return account, nil
}

// PutAccount persists account under addr. Balances must fit in 256 bits.
func (tx *Tx) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("negative balance")
	}
	value, overflow := uint256.FromBig(balance)
	if overflow {
		return fmt.Errorf("balance overflow")
	}
	stored := &gethtypes.StateAccount{
		Nonce:    account.Nonce,
		Balance:  value,
		Root:     gethtypes.EmptyRootHash,
		CodeHash: gethtypes.EmptyCodeHash.Bytes(),
	}
	return tx.kvPut(accountKey(addr), stored)
}

// Balance returns the native balance held by addr.
func (tx *Tx) Balance(addr [20]byte) (*big.Int, error) {
	account, err := tx.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Credit adds amount to addr. It is used for genesis allocations.
func (tx *Tx) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("credit amount must be non-negative")
	}
	account, err := tx.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance.Add(account.Balance, amount)
	return tx.PutAccount(addr, account)
}

// Transfer moves amount from one address to another.
func (tx *Tx) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	sender, err := tx.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, sender.Balance, amount)
	}
	recipient, err := tx.GetAccount(to)
	if err != nil {
		return err
	}
	sender.Balance.Sub(sender.Balance, amount)
	recipient.Balance.Add(recipient.Balance, amount)
	if err := tx.PutAccount(from, sender); err != nil {
		return err
	}
	return tx.PutAccount(to, recipient)
}

// IncrementNonce bumps the call counter of addr and returns the new value.
func (tx *Tx) IncrementNonce(addr [20]byte) (uint64, error) {
	account, err := tx.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	account.Nonce++
	if err := tx.PutAccount(addr, account); err != nil {
		return 0, err
	}
	return account.Nonce, nil
}
