package apperrors

import (
	"errors"
	"testing"
)

func TestErrorStringWithAndWithoutCause(t *testing.T) {
	bare := New(1234, KindValidation, SubConflict, "bad input")
	if got, want := bare.Error(), "[1234 validation] bad input"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	cause := errors.New("boom")
	wrapped := Wrap(7000, KindStorage, SubQueryFailed, "load order", cause)
	if got, want := wrapped.Error(), "[7000 storage] load order: boom"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if errors.Unwrap(wrapped) != cause {
		t.Fatal("expected Unwrap() to return the wrapped cause")
	}
}

func TestAsHelper(t *testing.T) {
	var err error = NotFound("order", "missing")
	e, ok := As(err)
	if !ok {
		t.Fatal("expected As to match *Error")
	}
	if e.Kind != KindResource || e.Sub != SubNotFound {
		t.Fatalf("unexpected classification: %+v", e)
	}

	if _, ok := As(errors.New("plain")); ok {
		t.Fatal("expected As to reject a plain error")
	}
}

func TestWithFieldAndRetryAfter(t *testing.T) {
	v := Validation("amount must be positive", "amount")
	if v.Field != "amount" {
		t.Fatalf("Field = %q, want %q", v.Field, "amount")
	}

	rl := RateLimit("too many requests", 30)
	if rl.RetryAfter != 30 {
		t.Fatalf("RetryAfter = %d, want 30", rl.RetryAfter)
	}
}

func TestConstructorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		kind Kind
		sub  string
	}{
		{"Authentication", Authentication("bad creds"), KindAuthentication, ""},
		{"Authorization", Authorization("not allowed"), KindAuthorization, ""},
		{"NotFound", NotFound("user", "missing"), KindResource, SubNotFound},
		{"AlreadyExists", AlreadyExists("user", "dup"), KindResource, SubAlreadyExists},
		{"Conflict", Conflict("stale version"), KindResource, SubConflict},
		{"InsufficientBalance", InsufficientBalance("short"), KindBusinessLogic, SubInsufficientBalance},
		{"OrderNotMatched", OrderNotMatched("no cross"), KindBusinessLogic, SubOrderNotMatched},
		{"TradingNotAllowed", TradingNotAllowed("halted"), KindBusinessLogic, SubTradingNotAllowed},
		{"EpochNotActive", EpochNotActive("closed"), KindBusinessLogic, SubEpochNotActive},
		{"InvalidMatch", InvalidMatch("bad cross"), KindBusinessLogic, SubInvalidMatch},
		{"UnknownCorridor", UnknownCorridor("z1", "z2"), KindBusinessLogic, SubInvalidMatch},
		{"ChainError", ChainError(SubTimeout, "confirm", errors.New("x")), KindChain, SubTimeout},
		{"StorageError", StorageError(SubQueryFailed, "query", errors.New("x")), KindStorage, SubQueryFailed},
		{"ExternalError", ExternalError(SubUnavailable, "smtp", errors.New("x")), KindExternal, SubUnavailable},
		{"RateLimit", RateLimit("slow down", 5), KindRateLimit, ""},
		{"Internal", Internal("unexpected", errors.New("x")), KindInternal, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.kind {
				t.Fatalf("Kind = %v, want %v", tc.err.Kind, tc.kind)
			}
			if tc.err.Sub != tc.sub {
				t.Fatalf("Sub = %q, want %q", tc.err.Sub, tc.sub)
			}
		})
	}
}
