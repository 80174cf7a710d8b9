package markethours

import (
	"testing"
	"time"
)

func ts(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"wednesday midday", ts(2025, time.June, 4, 12, 0), true},
		{"monday midnight", ts(2025, time.June, 2, 0, 0), true},
		{"friday before close", ts(2025, time.June, 6, 20, 59), true},
		{"friday at close", ts(2025, time.June, 6, 21, 0), false},
		{"saturday", ts(2025, time.June, 7, 12, 0), false},
		{"sunday before open", ts(2025, time.June, 8, 20, 59), false},
		{"sunday at open", ts(2025, time.June, 8, 21, 0), true},
	}
	for _, tc := range cases {
		if got := IsMarketOpen(tc.t); got != tc.want {
			t.Errorf("%s: IsMarketOpen = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNextOpen(t *testing.T) {
	// Saturday → the next day's open.
	sat := ts(2025, time.June, 7, 12, 0)
	want := ts(2025, time.June, 8, 21, 0)
	if got := NextOpen(sat); !got.Equal(want) {
		t.Errorf("NextOpen(sat) = %v, want %v", got, want)
	}

	// Mid-week the market is open, so the next open is the following Sunday.
	wed := ts(2025, time.June, 4, 12, 0)
	want = ts(2025, time.June, 8, 21, 0)
	if got := NextOpen(wed); !got.Equal(want) {
		t.Errorf("NextOpen(wed) = %v, want %v", got, want)
	}
}

func TestNextClose(t *testing.T) {
	wed := ts(2025, time.June, 4, 12, 0)
	want := ts(2025, time.June, 6, 21, 0)
	if got := NextClose(wed); !got.Equal(want) {
		t.Errorf("NextClose(wed) = %v, want %v", got, want)
	}
}

func TestTimeUntil(t *testing.T) {
	// Two hours before Sunday open.
	sun := ts(2025, time.June, 8, 19, 0)
	if got := TimeUntilOpen(sun); got != 2*time.Hour {
		t.Errorf("TimeUntilOpen = %v, want 2h", got)
	}
	if got := TimeUntilClose(sun); got != 0 {
		t.Errorf("TimeUntilClose while closed = %v, want 0", got)
	}

	// One hour before Friday close.
	fri := ts(2025, time.June, 6, 20, 0)
	if got := TimeUntilClose(fri); got != time.Hour {
		t.Errorf("TimeUntilClose = %v, want 1h", got)
	}
	if got := TimeUntilOpen(fri); got != 0 {
		t.Errorf("TimeUntilOpen while open = %v, want 0", got)
	}
}

func TestStatusString(t *testing.T) {
	open := StatusString(ts(2025, time.June, 4, 12, 0))
	if open == "" || open[:11] != "Market Open" {
		t.Errorf("open status = %q", open)
	}
	closed := StatusString(ts(2025, time.June, 7, 12, 0))
	if closed == "" || closed[:13] != "Market Closed" {
		t.Errorf("closed status = %q", closed)
	}
}
