package membtree

import (
	"database/sql/driver"
	"testing"

	u "github.com/araddon/gou"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/araddon/sqlgrid/schema"
)

func init() {
	u.SetupLogging("debug")
	u.SetColorOutput()
}

func seedUsers(t *testing.T) *Store {
	store := NewStore()
	tbl := store.CreateTable(schema.NewTable("users", "user_id", []string{"user_id", "name"}))
	for _, row := range [][]driver.Value{
		{int64(10), "aaron"},
		{int64(20), "bob"},
		{int64(30), "carol"},
	} {
		require.NoError(t, tbl.Put(row))
	}
	return store
}

func scanAll(t *testing.T, tbl *Table, r schema.KeyRange) []string {
	var names []string
	tbl.Scan(r, func(rm *schema.RowMessage) bool {
		v, _ := rm.Get("name")
		names = append(names, v.(string))
		return true
	})
	return names
}

func TestStoreScan(t *testing.T) {
	store := seedUsers(t)
	tbl, err := store.Table("users")
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	assert.Equal(t, []string{"aaron", "bob", "carol"}, scanAll(t, tbl, schema.FullRange()))

	// range bounds are [start, end)
	assert.Equal(t, []string{"bob"}, scanAll(t, tbl, schema.KeyRange{Start: 20, End: 30}))
	assert.Equal(t, []string{"bob", "carol"}, scanAll(t, tbl, schema.KeyRange{Start: 11, End: schema.MaxKey}))
	assert.Empty(t, scanAll(t, tbl, schema.KeyRange{Start: 40, End: 50}))

	_, err = store.Table("missing")
	assert.Error(t, err)
}

func TestPutUpsert(t *testing.T) {
	store := seedUsers(t)
	tbl, _ := store.Table("users")

	// same key replaces
	require.NoError(t, tbl.Put([]driver.Value{int64(20), "bobby"}))
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"aaron", "bobby", "carol"}, scanAll(t, tbl, schema.FullRange()))
}

func TestScanEarlyStop(t *testing.T) {
	store := seedUsers(t)
	tbl, _ := store.Table("users")
	n := 0
	tbl.Scan(schema.FullRange(), func(rm *schema.RowMessage) bool {
		n++
		return n < 2
	})
	assert.Equal(t, 2, n)
}

func TestScanCopies(t *testing.T) {
	store := seedUsers(t)
	tbl, _ := store.Table("users")
	var rows []*schema.RowMessage
	tbl.Scan(schema.FullRange(), func(rm *schema.RowMessage) bool {
		rows = append(rows, rm)
		return true
	})
	rows[0].Vals[1] = "mutated"

	// scan hands out copies, the stored row is untouched
	assert.Equal(t, []string{"aaron", "bob", "carol"}, scanAll(t, tbl, schema.FullRange()))
}
