package history

import (
	"strings"
	"testing"
)

func TestSQLSchema_PostgresKeepsFullPrecision(t *testing.T) {
	ddl := strings.Join(schema["postgres"], "\n")
	if strings.Contains(ddl, "NUMERIC(") {
		t.Errorf("Price columns must not carry a fixed scale:\n%s", ddl)
	}
	for _, col := range []string{"price", "bid_price", "ask_price", "volume"} {
		if !strings.Contains(ddl, col+" NUMERIC NOT NULL") {
			t.Errorf("Expected %s as unconstrained NUMERIC", col)
		}
	}
}

func TestSQLStore_RebindPostgres(t *testing.T) {
	pg := &SQLStore{driver: "postgres"}
	got := pg.rebind(`SELECT 1 FROM quotes WHERE symbol = ? AND ts >= ? AND ts <= ?`)
	want := `SELECT 1 FROM quotes WHERE symbol = $1 AND ts >= $2 AND ts <= $3`
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	lite := &SQLStore{driver: "sqlite"}
	if q := lite.rebind("a = ?"); q != "a = ?" {
		t.Errorf("sqlite query should be untouched, got %q", q)
	}
}
