package store

import "testing"

func TestRebind(t *testing.T) {
	q := "INSERT INTO t (a, b) VALUES (?, ?)"

	if got := Rebind("sqlite", q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
	if got := Rebind("mysql", q); got != q {
		t.Errorf("mysql rebind changed query: %q", got)
	}

	want := "INSERT INTO t (a, b) VALUES ($1, $2)"
	if got := Rebind("postgres", q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open("oracle", "dsn"); err == nil {
		t.Fatal("Open(oracle) must fail")
	}
}

func TestOpen_SQLiteMemory(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Errorf("exec on opened db: %v", err)
	}
}
