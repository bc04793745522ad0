package fault

import (
	"strings"
	"testing"
)

func TestAssertPassingDoesNotRaise(t *testing.T) {
	f := Catch(func() {
		Assert(true, CategoryConfig, "NEVER", "should not fire")
	})
	if f != nil {
		t.Fatalf("Assert(true) raised %v", f)
	}
}

func TestAssertFailingRaises(t *testing.T) {
	f := Catch(func() {
		Assert(false, CategoryProgramming, "TEST_CODE", "value was %d", 7)
	})
	if f == nil {
		t.Fatal("Assert(false) did not raise")
	}
	if f.Category != CategoryProgramming {
		t.Errorf("category = %s, want %s", f.Category, CategoryProgramming)
	}
	if f.Code != "TEST_CODE" {
		t.Errorf("code = %s, want TEST_CODE", f.Code)
	}
	if f.Message != "value was 7" {
		t.Errorf("message = %q", f.Message)
	}
	if f.Caller == "unknown" || f.Caller == "" {
		t.Errorf("caller not captured: %q", f.Caller)
	}
}

func TestHandlerReceivesFaultBeforePanic(t *testing.T) {
	var seen *Fault
	prev := SetHandler(func(f *Fault) { seen = f })
	defer SetHandler(prev)

	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		Raisef(CategoryTerminal, "TASK_RETURN", "task %q returned", "demo")
	}()

	f, ok := recovered.(*Fault)
	if !ok {
		t.Fatalf("Raisef panicked with %T, want a fault", recovered)
	}
	if seen != f {
		t.Error("handler did not receive the raised fault")
	}
}

func TestCatchSuppressesHandler(t *testing.T) {
	calls := 0
	prev := SetHandler(func(*Fault) { calls++ })
	defer SetHandler(prev)

	Catch(func() { Raisef(CategoryConfig, "QUIET", "expected") })
	if calls != 0 {
		t.Errorf("handler called %d times inside Catch", calls)
	}
}

func TestErrorFormatsContextSorted(t *testing.T) {
	f := New(CategoryConfig, "PRIORITY_BITS", "probe mismatch", map[string]interface{}{
		"want": 255,
		"got":  127,
	})

	msg := f.Error()
	if !strings.Contains(msg, "[CONFIG:PRIORITY_BITS]") {
		t.Errorf("missing category/code: %q", msg)
	}
	// Sorted keys: got before want.
	gotIdx := strings.Index(msg, "got=127")
	wantIdx := strings.Index(msg, "want=255")
	if gotIdx < 0 || wantIdx < 0 || gotIdx > wantIdx {
		t.Errorf("context not rendered in sorted order: %q", msg)
	}
}

func TestCatchPropagatesForeignPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("foreign panic was swallowed")
		}
	}()

	Catch(func() { panic("not a fault") })
}

func TestCommonConstructors(t *testing.T) {
	t.Run("OutOfRange", func(t *testing.T) {
		f := OutOfRange("arena", 64, 64)
		if f.Category != CategoryProgramming {
			t.Errorf("category = %s", f.Category)
		}
		if !strings.Contains(f.Message, "index 64 out of range for length 64") {
			t.Errorf("message = %q", f.Message)
		}
	})

	t.Run("UnmappedAddress", func(t *testing.T) {
		f := UnmappedAddress("store32", 0xDEAD0000)
		if !strings.Contains(f.Message, "0xDEAD0000") {
			t.Errorf("message = %q", f.Message)
		}
	})
}
