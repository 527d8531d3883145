// Package token implements the settlement-asset balance book. It is the
// in-process stand-in for the settlement token: plain balances plus spending
// allowances, with the transfer-from flow the registry uses to collect fees.
package token

import (
	"errors"
	"sync"

	"github.com/optionledger/optiond/internal/core/amount"
)

var (
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("transfer amount exceeds allowance")
	ErrZeroAddress           = errors.New("transfer to the zero address")
	ErrInvalidAmount         = errors.New("amount is not positive")
)

// AccountID identifies a holder of the settlement asset. The zero value is
// the burn/zero address and can never hold a balance.
type AccountID string

// Zero is the zero address.
const Zero AccountID = ""

// Book tracks balances and allowances of the settlement asset.
type Book struct {
	mu         sync.RWMutex
	balances   map[AccountID]amount.Amount
	allowances map[AccountID]map[AccountID]amount.Amount
}

func NewBook() *Book {
	return &Book{
		balances:   make(map[AccountID]amount.Amount),
		allowances: make(map[AccountID]map[AccountID]amount.Amount),
	}
}

// Mint credits freshly issued settlement asset to an account.
func (b *Book) Mint(to AccountID, amt amount.Amount) error {
	if to == Zero {
		return ErrZeroAddress
	}
	if !amt.IsPositive() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[to] += amt
	return nil
}

func (b *Book) BalanceOf(id AccountID) amount.Amount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[id]
}

// Transfer moves amt from one account to another. Only positive amounts
// move; a negative amt would pass the balance check and pull value backwards.
func (b *Book) Transfer(from, to AccountID, amt amount.Amount) error {
	if to == Zero {
		return ErrZeroAddress
	}
	if !amt.IsPositive() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transferLocked(from, to, amt)
}

// Approve sets the allowance spender may pull from owner's balance. A zero
// amount clears the allowance.
func (b *Book) Approve(owner, spender AccountID, amt amount.Amount) error {
	if amt.IsNegative() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.allowances[owner]
	if !ok {
		m = make(map[AccountID]amount.Amount)
		b.allowances[owner] = m
	}
	m[spender] = amt
	return nil
}

func (b *Book) Allowance(owner, spender AccountID) amount.Amount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.allowances[owner][spender]
}

// TransferFrom moves amt from `from` to `to` on behalf of spender, consuming
// spender's allowance.
func (b *Book) TransferFrom(spender, from, to AccountID, amt amount.Amount) error {
	if to == Zero {
		return ErrZeroAddress
	}
	if !amt.IsPositive() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	allowed := b.allowances[from][spender]
	if spender != from && allowed < amt {
		return ErrInsufficientAllowance
	}
	if err := b.transferLocked(from, to, amt); err != nil {
		return err
	}
	if spender != from {
		b.allowances[from][spender] = allowed - amt
	}
	return nil
}

func (b *Book) transferLocked(from, to AccountID, amt amount.Amount) error {
	if b.balances[from] < amt {
		return ErrInsufficientBalance
	}
	b.balances[from] -= amt
	b.balances[to] += amt
	return nil
}
