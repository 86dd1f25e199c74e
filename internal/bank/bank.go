// Package bank is an in-memory account ledger backing deposits, refunds and
// payouts. It stands in for whatever real value-transfer system hosts the
// escrow; the escrow only sees the Debit/Credit capability.
package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/jj902/delayedjobs/internal/domain"
)

var (
	ErrUnknownAccount      = errors.New("unknown account")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountFrozen       = errors.New("account frozen")
)

type Bank struct {
	mu       sync.Mutex
	balances map[domain.Address]*big.Int
	frozen   map[domain.Address]bool

	// escrowed is value debited from accounts and not yet credited back out.
	escrowed *big.Int
}

func New() *Bank {
	return &Bank{
		balances: make(map[domain.Address]*big.Int),
		frozen:   make(map[domain.Address]bool),
		escrowed: new(big.Int),
	}
}

// Deposit mints amount into an account. Faucet-style entry point for demos
// and tests; a real deployment would replace this with actual funding.
func (b *Bank) Deposit(account domain.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance(account).Add(b.balance(account), amount)
}

// Balance returns a copy of the account balance (zero for unknown accounts).
func (b *Bank) Balance(account domain.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.balances[account]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// Escrowed returns the total value currently held on the escrow's behalf.
func (b *Bank) Escrowed() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.escrowed)
}

// Freeze makes an account refuse incoming credits until unfrozen.
func (b *Bank) Freeze(account domain.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen[account] = true
}

func (b *Bank) Unfreeze(account domain.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.frozen, account)
}

// Debit moves amount from the account into the escrow pool.
func (b *Bank) Debit(ctx context.Context, from domain.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal, ok := b.balances[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from, bal, amount)
	}

	bal.Sub(bal, amount)
	b.escrowed.Add(b.escrowed, amount)
	return nil
}

// Credit moves amount from the escrow pool to the account. Frozen accounts
// refuse the transfer, which the escrow treats as a non-fatal stranding.
func (b *Bank) Credit(ctx context.Context, to domain.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen[to] {
		return fmt.Errorf("%w: %s", ErrAccountFrozen, to)
	}

	b.escrowed.Sub(b.escrowed, amount)
	b.balance(to).Add(b.balance(to), amount)
	return nil
}

// balance returns the live balance entry, creating it if needed.
// Caller must hold b.mu.
func (b *Bank) balance(account domain.Address) *big.Int {
	bal, ok := b.balances[account]
	if !ok {
		bal = new(big.Int)
		b.balances[account] = bal
	}
	return bal
}
