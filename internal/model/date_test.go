package model

import (
	"testing"
	"time"
)

func TestDateOfUsesExplicitZone(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 23:30 UTC on June 14 is already June 15 in Paris.
	instant := time.Date(2025, 6, 14, 23, 30, 0, 0, time.UTC)

	if got, want := DateOf(instant, paris), NewDate(2025, 6, 15); got != want {
		t.Errorf("DateOf(paris) = %s, want %s", got, want)
	}
	if got, want := DateOf(instant, time.UTC), NewDate(2025, 6, 14); got != want {
		t.Errorf("DateOf(utc) = %s, want %s", got, want)
	}
}

func TestDateArithmetic(t *testing.T) {
	d := NewDate(2025, 2, 27)

	if got := d.AddDays(2); got != NewDate(2025, 3, 1) {
		t.Errorf("AddDays across month = %s", got)
	}
	if got := d.DaysUntil(NewDate(2025, 3, 5)); got != 6 {
		t.Errorf("DaysUntil = %d, want 6", got)
	}
	if got := NewDate(2025, 3, 5).DaysUntil(d); got != -6 {
		t.Errorf("DaysUntil backwards = %d, want -6", got)
	}
	if !d.Before(d.AddDays(1)) || d.After(d) {
		t.Error("Before/After mismatch")
	}
}

func TestParseDateRoundTrip(t *testing.T) {
	d, err := ParseDate("2025-06-10")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "2025-06-10" {
		t.Errorf("String() = %s", d)
	}
	if _, err := ParseDate("10/06/2025"); err == nil {
		t.Error("expected error for non-ISO date")
	}
}

func TestWindowPadAndContains(t *testing.T) {
	w := Window{From: NewDate(2025, 6, 1), To: NewDate(2025, 6, 30)}
	if !w.Contains(NewDate(2025, 6, 30)) || w.Contains(NewDate(2025, 7, 1)) {
		t.Error("Contains is not inclusive of To only")
	}
	p := w.Pad(1)
	if p.From != NewDate(2025, 5, 31) || p.To != NewDate(2025, 7, 1) {
		t.Errorf("Pad(1) = %s", p)
	}
}

func TestNewCalendarLinkCanonicalizes(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ab, err := NewCalendarLink("B", "A", "admin", at)
	if err != nil {
		t.Fatal(err)
	}
	if ab.EventIDLow != "A" || ab.EventIDHigh != "B" {
		t.Errorf("link not sorted: %+v", ab)
	}
	if ab.Other("A") != "B" || !ab.Touches("B") {
		t.Error("Other/Touches mismatch")
	}
	if _, err := NewCalendarLink("A", "A", "admin", at); err == nil {
		t.Error("expected self-loop rejection")
	}
}
