// Package pool implements the liquidity pool collaborator: it holds the
// settlement-asset collateral backing open positions and accounts for how
// much of its balance is locked against potential payouts.
package pool

import (
	"errors"
	"sync"

	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/token"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrReleaseExceedsLocked  = errors.New("release exceeds locked collateral")
)

// Pool is the narrow interface the option registry consumes.
type Pool interface {
	TotalBalance() amount.Amount
	Lock(amt amount.Amount) error
	Release(amt amount.Amount) error
	PayOut(recipient token.AccountID, amt amount.Amount) error
}

// LiquidityPool is a Pool whose balance lives in the settlement-asset book
// under the pool's own account.
type LiquidityPool struct {
	mu      sync.Mutex
	book    *token.Book
	account token.AccountID
	locked  amount.Amount
}

func NewLiquidityPool(book *token.Book, account token.AccountID) *LiquidityPool {
	return &LiquidityPool{book: book, account: account}
}

// Account returns the pool's settlement-asset account.
func (p *LiquidityPool) Account() token.AccountID {
	return p.account
}

// TotalBalance is the pool's full settlement-asset balance, locked included.
func (p *LiquidityPool) TotalBalance() amount.Amount {
	return p.book.BalanceOf(p.account)
}

// LockedBalance is the portion of the balance reserved against payouts.
func (p *LiquidityPool) LockedBalance() amount.Amount {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

// Provide moves liquidity from a provider's account into the pool.
func (p *LiquidityPool) Provide(provider token.AccountID, amt amount.Amount) error {
	return p.book.Transfer(provider, p.account, amt)
}

// Lock reserves amt of unlocked balance as collateral.
func (p *LiquidityPool) Lock(amt amount.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := p.book.BalanceOf(p.account).Sub(p.locked)
	if amt > free {
		return ErrInsufficientLiquidity
	}
	p.locked = p.locked.Add(amt)
	return nil
}

// Release returns previously locked collateral to the pool's free balance.
func (p *LiquidityPool) Release(amt amount.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amt > p.locked {
		return ErrReleaseExceedsLocked
	}
	p.locked = p.locked.Sub(amt)
	return nil
}

// PayOut sends amt of locked collateral to recipient.
func (p *LiquidityPool) PayOut(recipient token.AccountID, amt amount.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amt > p.locked {
		return ErrInsufficientLiquidity
	}
	if err := p.book.Transfer(p.account, recipient, amt); err != nil {
		return err
	}
	p.locked = p.locked.Sub(amt)
	return nil
}
