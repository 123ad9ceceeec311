package main

import (
	"testing"

	"github.com/avoronin/potledger/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccount(t *testing.T) {
	tests := []struct {
		spec    string
		want    ledger.Account
		wantErr bool
	}{
		{spec: "owner", want: ledger.OwnerPot()},
		{spec: "owner:POT", want: ledger.OwnerPot()},
		{spec: "customer:1", want: ledger.Account{Type: ledger.AccountCustomer, ID: "1"}},
		{spec: "partner:12", want: ledger.Account{Type: ledger.AccountPartner, ID: "12"}},
		{spec: "partner_dividends:12", want: ledger.Account{Type: ledger.AccountPartnerDividends, ID: "12"}},
		{spec: "store:3", want: ledger.Account{Type: ledger.AccountStore, ID: "3"}},
		{spec: "customer", wantErr: true},
		{spec: "customer:", wantErr: true},
		{spec: "alien:1", wantErr: true},
		{spec: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parseAccount(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand(t *testing.T) {
	cmd := parseCommand([]string{"-balance", "customer:1", "-d", "ignored.db"})
	assert.Equal(t, "customer:1", cmd.balance)
	assert.False(t, cmd.doInit)

	cmd = parseCommand([]string{"-init"})
	assert.True(t, cmd.doInit)
}
