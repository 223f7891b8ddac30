package utils

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

func TestISOWeekLabel(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), "2026-W42"},
		{time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), "2026-W53"},
		{time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), "2026-W02"},
	}
	for _, tc := range cases {
		if got := ISOWeekLabel(tc.in); got != tc.want {
			t.Fatalf("ISOWeekLabel(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	if !IsDuplicateKeyErr(gorm.ErrDuplicatedKey) {
		t.Fatalf("gorm duplicated key should match")
	}
	if !IsDuplicateKeyErr(fmt.Errorf("insert: %w", &mysqlDriver.MySQLError{Number: 1062})) {
		t.Fatalf("wrapped mysql 1062 should match")
	}
	if IsDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1213}) {
		t.Fatalf("deadlock is not a duplicate key")
	}
	if IsDuplicateKeyErr(nil) {
		t.Fatalf("nil is not a duplicate key")
	}
}

func TestLocate(t *testing.T) {
	base := errors.New("boom")
	err := Locate(base)
	if !errors.Is(err, base) {
		t.Fatalf("located error must unwrap to the original")
	}
	loc := ErrorLocation(err)
	if !strings.HasPrefix(loc, "helper_test.go:") {
		t.Fatalf("unexpected location %q", loc)
	}
	if again := Locate(err); ErrorLocation(again) != loc {
		t.Fatalf("re-locating must keep the first location")
	}
}

func TestUniqueSliceAndSortedKeys(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("unexpected unique slice %v", got)
	}
	keys := SortedKeys(map[int]string{5: "a", 1: "b", 3: "c"})
	if fmt.Sprint(keys) != "[1 3 5]" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
