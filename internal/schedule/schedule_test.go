package schedule

import (
	"testing"
	"time"
)

func TestResolveFullRefreshSkipsDriftChecks(t *testing.T) {
	s := Schedule{Frequency: Daily, Type: FullRefresh}
	mode, warnings := Resolve(s, time.Now())

	if mode.Type != FullRefresh || mode.Start != nil || mode.End != nil {
		t.Fatalf("expected bare full-refresh mode, got %+v", mode)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings for full refresh, got %v", warnings)
	}
}

func TestResolveDailyWindow(t *testing.T) {
	hour, minute := 12, 0
	s := Schedule{Frequency: Daily, Type: Incremental, Hour: &hour, Minute: &minute}
	now := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)

	mode, _ := Resolve(s, now)

	wantEnd := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)
	wantStart := wantEnd.Add(-(24*time.Hour + 3*time.Hour))

	if !mode.End.Equal(wantEnd) {
		t.Fatalf("expected end %v, got %v", wantEnd, *mode.End)
	}
	if !mode.Start.Equal(wantStart) {
		t.Fatalf("expected start %v, got %v", wantStart, *mode.Start)
	}
}

func TestRunGapDetection(t *testing.T) {
	hour, minute := 12, 0
	s := Schedule{Frequency: Daily, Type: Incremental, Hour: &hour, Minute: &minute}
	now := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)
	mode, _ := Resolve(s, now)

	lastSuccess := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !GapDetected(mode, &lastSuccess, false) {
		t.Fatalf("expected gap: last success %v predates mode.Start %v", lastSuccess, *mode.Start)
	}
}

func TestRunGapNotFlaggedWhenOverridden(t *testing.T) {
	hour, minute := 12, 0
	s := Schedule{Frequency: Daily, Type: Incremental, Hour: &hour, Minute: &minute}
	now := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)
	mode, _ := Resolve(s, now)

	lastSuccess := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if GapDetected(mode, &lastSuccess, true) {
		t.Fatalf("override must disable gap detection")
	}
}

func TestRunGapNotFlaggedForFullRefresh(t *testing.T) {
	mode := Mode{Type: FullRefresh}
	lastSuccess := time.Unix(0, 0)
	if GapDetected(mode, &lastSuccess, false) {
		t.Fatalf("full refresh must never flag a run gap")
	}
}

func TestToCronWeeklyIsSundayIndexed(t *testing.T) {
	day := 0
	hour, minute := 3, 30
	s := Schedule{Frequency: Weekly, Type: Incremental, Day: &day, Hour: &hour, Minute: &minute}
	if got, want := s.ToCron(), "30 3 * * 0"; got != want {
		t.Fatalf("expected cron %q, got %q", want, got)
	}
}
