package binary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"typed", &Error{Kind: KindNetwork, Op: "fetch"}, KindNetwork},
		{"wrapped_typed", fmt.Errorf("outer: %w", &Error{Kind: KindArchive, Op: "extract"}), KindArchive},
		{"mismatch", &MismatchError{Expected: "a", Computed: "b"}, KindIntegrity},
		{"context_cancelled", context.Canceled, KindCancelled},
		{"cancel_inside_network", &Error{Kind: KindNetwork, Op: "fetch", Err: context.Canceled}, KindCancelled},
		{"sentinel_cancelled", fmt.Errorf("prompt: %w", ErrCancelled), KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Kind: KindIntegrity,
		Op:   "verify checksum",
		URL:  "https://example.com/a.tar.gz",
		Path: "/tmp/a.tar.gz",
		Err:  &MismatchError{Asset: "a.tar.gz", Expected: "aa", Computed: "bb"},
	}

	msg := err.Error()
	for _, want := range []string{"verify checksum", "https://example.com/a.tar.gz", "/tmp/a.tar.gz", "expected: aa", "computed: bb"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateAwaitingConfirmation.String() != "awaiting confirmation" {
		t.Errorf("unexpected %q", StateAwaitingConfirmation.String())
	}
	if State(99).String() != "unknown" {
		t.Error("unknown state should stringify as unknown")
	}
	for _, s := range []State{StateDone, StateCancelled, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	if StateInstalling.Terminal() {
		t.Error("installing is not terminal")
	}
}

func TestParsePolicies(t *testing.T) {
	for in, want := range map[string]ChecksumPolicy{"": ChecksumAuto, "auto": ChecksumAuto, "REQUIRED": ChecksumRequired, "skip": ChecksumSkip} {
		got, err := ParseChecksumPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseChecksumPolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseChecksumPolicy("sometimes"); err == nil {
		t.Error("expected error for unknown policy")
	}

	for in, want := range map[string]ArchiveFormat{"tar.gz": FormatTarGz, ".tgz": FormatTarGz, "ZIP": FormatZip} {
		got, err := ParseArchiveFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseArchiveFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseArchiveFormat("rar"); err == nil {
		t.Error("expected error for unknown format")
	}
}
