package main

import (
	"bytes"
	"encoding/json"
	"testing"

	ledgerdomain "github.com/smallbiznis/photoledger/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"migrate"},
		{"invite-stats", "rebuild"},
		{"ledger", "reconcile"},
		{"order", "status"},
	} {
		cmd, rest, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	actor := root.PersistentFlags().Lookup("actor")
	require.NotNil(t, actor)
	assert.Equal(t, "system", actor.DefValue)
}

func TestOrderStatusRequiresID(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"order", "status"})
	root.SetOut(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestPrintReports(t *testing.T) {
	reports := []ledgerdomain.ReconcileReport{
		{UserID: 7, UsageCount: 5, Seed: 3, LoggedSum: 2, Consistent: true},
		{UserID: 9, UsageCount: 4, Seed: 3, LoggedSum: 2, Consistent: false},
	}
	assert.Equal(t, 1, countDrifted(reports))

	var table bytes.Buffer
	require.NoError(t, printReports(&table, reports, false))
	assert.Contains(t, table.String(), "USER")
	assert.Contains(t, table.String(), "false")

	var none bytes.Buffer
	require.NoError(t, printReports(&none, nil, false))
	assert.Equal(t, "no drift found\n", none.String())

	var raw bytes.Buffer
	require.NoError(t, printReports(&raw, nil, true))
	var decoded []ledgerdomain.ReconcileReport
	require.NoError(t, json.Unmarshal(raw.Bytes(), &decoded))
	assert.Empty(t, decoded)
}
