package textutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and drops empty entries", func(t *testing.T) {
		input := map[string]string{
			" account_reference ": " INV-2041 ",
			"narrative":           " August order ",
			"channel":             " ",
			" ":                   "ignored",
			"":                    "ignore",
		}

		expected := map[string]string{
			"account_reference": "INV-2041",
			"narrative":         "August order",
		}

		actual := NormalizeStringMap(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("drops keys over the processor limit", func(t *testing.T) {
		longKey := strings.Repeat("k", maxMetadataKeyLen+1)
		input := map[string]string{
			longKey:  "value",
			"branch": "NBO-01",
		}

		actual := NormalizeStringMap(input)
		if _, ok := actual[longKey]; ok {
			t.Fatalf("expected oversized key to be dropped, got %#v", actual)
		}
		if actual["branch"] != "NBO-01" {
			t.Fatalf("expected surviving entry, got %#v", actual)
		}
	})

	t.Run("truncates values over the processor limit", func(t *testing.T) {
		input := map[string]string{
			"note": strings.Repeat("x", maxMetadataValueLen+25),
		}

		actual := NormalizeStringMap(input)
		if got := len(actual["note"]); got != maxMetadataValueLen {
			t.Fatalf("expected value truncated to %d chars, got %d", maxMetadataValueLen, got)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{}) != nil {
			t.Fatalf("expected nil for empty map")
		}
		if NormalizeStringMap(map[string]string{" ": " "}) != nil {
			t.Fatalf("expected nil when all entries are dropped")
		}
	})
}
