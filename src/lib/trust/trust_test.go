package trust

import (
	"bytes"
	"strings"
	"testing"
)

func TestMaskFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, ErrorMask|InfoMask)

	l.Errorf("zone %s is broken", "DMA")
	l.Warnf("not shown")
	l.Infof("shown %d", 3)
	l.Debugf("not shown either")

	out := buf.String()
	if !strings.Contains(out, "ERROR:zone DMA is broken\n") {
		t.Errorf("missing error line, got %q", out)
	}
	if !strings.Contains(out, " INFO:shown 3\n") {
		t.Errorf("missing info line, got %q", out)
	}
	if strings.Contains(out, "not shown") {
		t.Errorf("masked level was printed: %q", out)
	}
}

func TestStatsCategory(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, StatsMask)
	l.Statsf("zone", "free=%d", 12)
	if buf.String() != "STATS[zone]:free=12\n" {
		t.Errorf("unexpected stats line %q", buf.String())
	}
}

func TestSetLevelReturnsPrevious(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, ErrorMask|WarnMask)
	prev := l.SetLevel(DebugMask)
	if prev != ErrorMask|WarnMask {
		t.Errorf("expected previous mask %x, got %x", ErrorMask|WarnMask, prev)
	}
	if l.Level()&fatalMask == 0 {
		t.Errorf("fatal level must stay on")
	}
	if l.LevelToString() != "debug" {
		t.Errorf("unexpected level string %q", l.LevelToString())
	}
}

func TestFatalfExits(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Nothing)
	code := -1
	l.exit = func(c int) { code = c }
	l.Fatalf(3, "out of %s", "memory")
	if code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}
	if !strings.HasPrefix(buf.String(), "FATAL:out of memory") {
		t.Errorf("fatal message not printed with everything masked: %q", buf.String())
	}
}

func TestVerbosity(t *testing.T) {
	if Verbosity(0)&InfoMask != 0 {
		t.Errorf("verbosity 0 should not include info")
	}
	if Verbosity(1)&InfoMask == 0 || Verbosity(1)&DebugMask != 0 {
		t.Errorf("verbosity 1 should be info without debug")
	}
	if Verbosity(2)&(DebugMask|StatsMask) != DebugMask|StatsMask {
		t.Errorf("verbosity 2 should include debug and stats")
	}
}
