package smbfetcher

import (
	"context"
	"fmt"
)

// SecurityDescriptorReader is implemented by shares that can return the
// security descriptor of a file.
type SecurityDescriptorReader interface {
	SecurityDescriptor(name string) (*SecurityDescriptor, error)
}

// AccountResolver maps SIDs to accounts through a directory service.
type AccountResolver interface {
	// LookupAccountNames returns one account per SID, in order.
	LookupAccountNames(ctx context.Context, sids []string) ([]Account, error)
	PrimaryDomain(ctx context.Context) (string, error)
}

// SecurityDescriptor is the owner and DACL of a file.
type SecurityDescriptor struct {
	OwnerSID string
	ACEs     []ACE
}

// ACE is one access control entry.
type ACE struct {
	Allow      bool    `json:"allow"`
	Flags      uint8   `json:"flags"`
	AccessMask uint32  `json:"access_mask"`
	SID        string  `json:"sid"`
	Account    Account `json:"account"`
}

func (a ACE) String() string {
	kind := "Deny"
	if a.Allow {
		kind = "Allow"
	}
	who := a.SID
	if a.Account.Name != "" {
		who = a.Account.String()
	}
	return fmt.Sprintf("%s 0x%08X %s", kind, a.AccessMask, who)
}

// Account is a resolved principal.
type Account struct {
	Name   string `json:"name,omitempty"`
	Domain string `json:"domain,omitempty"`
}

func (a Account) String() string {
	if a.Domain == "" {
		return a.Name
	}
	return a.Domain + `\` + a.Name
}

// resolve fills in accounts for the owner and every ACE. Accounts with no
// domain get the primary domain.
func resolve(ctx context.Context, resolver AccountResolver, sd *SecurityDescriptor) (Account, []ACE, error) {
	sids := make([]string, 0, len(sd.ACEs)+1)
	sids = append(sids, sd.OwnerSID)
	for _, ace := range sd.ACEs {
		sids = append(sids, ace.SID)
	}
	accounts, err := resolver.LookupAccountNames(ctx, sids)
	if err != nil {
		return Account{}, nil, fmt.Errorf("lookup account names: %w", err)
	}
	if len(accounts) != len(sids) {
		return Account{}, nil, fmt.Errorf("lookup account names: got %d accounts for %d sids", len(accounts), len(sids))
	}

	var primary string
	for i := range accounts {
		if accounts[i].Domain != "" || accounts[i].Name == "" {
			continue
		}
		if primary == "" {
			if primary, err = resolver.PrimaryDomain(ctx); err != nil {
				return Account{}, nil, fmt.Errorf("primary domain: %w", err)
			}
		}
		accounts[i].Domain = primary
	}

	aces := make([]ACE, len(sd.ACEs))
	for i, ace := range sd.ACEs {
		ace.Account = accounts[i+1]
		aces[i] = ace
	}
	return accounts[0], aces, nil
}
