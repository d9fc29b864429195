package handler

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestReconcile_AllDiscovered(t *testing.T) {
	specs := []ParameterSpec{
		{Name: "chat_id", Type: TypeString, Required: true},
		{Name: "message", Type: TypeString, Required: true},
	}

	rec := Reconcile(specs, map[string]any{
		"chat_id": "@kyra",
		"message": "hello",
	})

	if rec.NeedsUserInput {
		t.Errorf("expected no user input needed, got %+v", rec)
	}
	if rec.FormSchema != nil {
		t.Error("form schema should be absent when nothing is missing")
	}
	if len(rec.Discovered) != 2 {
		t.Errorf("discovered = %v, want both keys", rec.Discovered)
	}
}

func TestReconcile_MissingRequiredEmitsMinimalForm(t *testing.T) {
	specs := []ParameterSpec{
		{Name: "chat_id", Type: TypeString, Required: true},
		{Name: "message", Type: TypeString, Required: true, Description: "Message text to send"},
	}

	rec := Reconcile(specs, map[string]any{"chat_id": "@kyra"})

	if !rec.NeedsUserInput {
		t.Fatal("expected needs_user_input")
	}
	if len(rec.Missing) != 1 || rec.Missing[0] != "message" {
		t.Errorf("missing = %v, want [message]", rec.Missing)
	}

	required := rec.FormSchema["required"].([]string)
	if len(required) != 1 || required[0] != "message" {
		t.Errorf("form required = %v, want [message]", required)
	}

	properties := rec.FormSchema["properties"].(map[string]any)
	if _, has := properties["chat_id"]; has {
		t.Error("form schema must cover the missing subset only")
	}
	msgProp := properties["message"].(map[string]any)
	if msgProp["type"] != "string" {
		t.Errorf("properties.message.type = %v, want string", msgProp["type"])
	}
}

func TestReconcile_InvalidTypeJoinsForm(t *testing.T) {
	specs := []ParameterSpec{
		{Name: "count", Type: TypeInteger, Required: true},
	}

	rec := Reconcile(specs, map[string]any{"count": "five"})

	if !rec.NeedsUserInput {
		t.Fatal("expected needs_user_input")
	}
	if len(rec.Invalid) != 1 || rec.Invalid[0] != "count" {
		t.Errorf("invalid = %v, want [count]", rec.Invalid)
	}
	if _, accepted := rec.Discovered["count"]; accepted {
		t.Error("invalid value must not land in discovered")
	}
}

func TestReconcile_ExtraKeysPassThrough(t *testing.T) {
	specs := []ParameterSpec{
		{Name: "url", Type: TypeString, Required: true},
	}

	rec := Reconcile(specs, map[string]any{
		"url":   "https://example.test",
		"extra": 7,
	})

	if rec.NeedsUserInput {
		t.Errorf("unexpected user input requirement: %+v", rec)
	}
	if rec.Discovered["extra"] != 7 {
		t.Error("extra keys should pass through to discovered")
	}
}

func TestMerge_UserSuppliedWins(t *testing.T) {
	merged := Merge(
		map[string]any{"a": 1, "b": 2},
		map[string]any{"b": 3, "c": 4},
	)

	if merged["a"] != 1 || merged["b"] != 3 || merged["c"] != 4 {
		t.Errorf("merged = %v", merged)
	}
}

// TestReconcilePartition verifies the reconciler invariant: for required
// specs, discovered ∪ missing ∪ invalid covers the required set and the
// three sets are pairwise disjoint.
func TestReconcilePartition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	names := []string{"alpha", "beta", "gamma", "delta", "epsilon"}

	properties.Property("required specs partition into discovered/missing/invalid", prop.ForAll(
		func(present []bool, mistyped []bool) bool {
			specs := make([]ParameterSpec, len(names))
			discovered := make(map[string]any)
			for i, name := range names {
				specs[i] = ParameterSpec{Name: name, Type: TypeString, Required: true}
				if present[i%len(present)] {
					if mistyped[i%len(mistyped)] {
						discovered[name] = 42
					} else {
						discovered[name] = "value"
					}
				}
			}

			rec := Reconcile(specs, discovered)

			seen := make(map[string]int)
			for name := range rec.Discovered {
				seen[name]++
			}
			for _, name := range rec.Missing {
				seen[name]++
			}
			for _, name := range rec.Invalid {
				seen[name]++
			}

			// Every required name lands in exactly one bucket.
			for _, name := range names {
				if seen[name] != 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.Bool()),
		gen.SliceOfN(5, gen.Bool()),
	))

	properties.TestingRun(t)
}
