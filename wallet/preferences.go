package wallet

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Preferences is the in-process preference collaborator: it remembers which
// account the user currently has selected.
type Preferences struct {
	mu       sync.RWMutex
	account  common.Address
	selected bool
}

// NewPreferences starts with no account selected.
func NewPreferences() *Preferences {
	return &Preferences{}
}

// SelectedAccount returns the current selection, if any.
func (p *Preferences) SelectedAccount() (common.Address, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.account, p.selected
}

// SetSelectedAccount records the user's choice.
func (p *Preferences) SetSelectedAccount(account common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account = account
	p.selected = true
}

// ClearSelectedAccount forgets the selection.
func (p *Preferences) ClearSelectedAccount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account = common.Address{}
	p.selected = false
}
