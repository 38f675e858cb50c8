package rules

import "testing"

func TestDefaultRulesLoad(t *testing.T) {
	eng := Default()
	if eng.Category() != "mouse" {
		t.Fatalf("category = %q", eng.Category())
	}
	sensor, ok := eng.Rule("sensor")
	if !ok {
		t.Fatal("no sensor rule")
	}
	if sensor.ComponentDBRef != "sensor" || !sensor.IsIdentityOrCritical() {
		t.Fatalf("sensor rule = %+v", sensor)
	}
	if len(sensor.Patterns) == 0 || sensor.Patterns[0].Compiled() == nil {
		t.Fatal("sensor patterns not compiled")
	}

	required := eng.RequiredFields()
	want := map[string]bool{"sensor": true, "dpi": true, "polling_rate": true, "weight": true}
	found := 0
	for _, f := range required {
		if want[f] {
			found++
		}
	}
	if found != len(want) {
		t.Fatalf("required fields = %v", required)
	}
}

func TestFuzzyMatchComponent(t *testing.T) {
	eng := Default()

	m, ok := eng.FuzzyMatchComponent("sensor", "PAW3950", 0.7)
	if !ok || m.Entity.Name != "PAW3950" {
		t.Fatalf("exact match failed: %+v ok=%v", m, ok)
	}
	if m.Score != 1.0 {
		t.Fatalf("exact score = %v, want 1.0", m.Score)
	}

	// Extra brand token still resolves the entity.
	m, ok = eng.FuzzyMatchComponent("sensor", "PixArt PAW3950", 0.7)
	if !ok || m.Entity.Name != "PAW3950" {
		t.Fatalf("contained match failed: %+v ok=%v", m, ok)
	}
	if m.Score < 0.7 || m.Score >= 1.0 {
		t.Fatalf("contained score = %v", m.Score)
	}

	if _, ok := eng.FuzzyMatchComponent("sensor", "Focus Pro", 0.7); ok {
		t.Fatal("unrelated query matched")
	}
	if _, ok := eng.FuzzyMatchComponent("nonexistent", "PAW3950", 0.7); ok {
		t.Fatal("unknown db matched")
	}
}

func TestNormalize(t *testing.T) {
	eng := Default()
	cases := []struct {
		field, raw, want string
	}{
		{"dpi", "30,000 DPI", "30000"},
		{"polling_rate", "8000Hz", "8000"},
		{"weight", "54.5 g", "54.5"},
		{"connection", "Corded", "wired"},
		{"connection", "2.4GHz", "wireless"},
		{"rgb", "Yes", "true"},
		{"switch_type", "  Optical   Gen-3  ", "Optical Gen-3"},
	}
	for _, tc := range cases {
		if got := eng.Normalize(tc.field, tc.raw); got != tc.want {
			t.Errorf("Normalize(%s, %q) = %q, want %q", tc.field, tc.raw, got, tc.want)
		}
	}
}

func TestEvaluateConstraints(t *testing.T) {
	entity := ComponentEntity{
		Name:       "X1",
		Properties: map[string]string{"max_dpi": "50000"},
		Constraints: []string{
			"max_dpi <= 45000", // violated by the property itself
			"max_ips >= 100",   // unresolvable, skipped
			"max_dpi > 0",      // holds
		},
	}
	violations := EvaluateConstraints(entity, nil)
	if len(violations) != 1 {
		t.Fatalf("violations = %+v", violations)
	}
	if violations[0].Subject != "max_dpi" {
		t.Fatalf("subject = %q", violations[0].Subject)
	}

	// Product values resolve operands the entity does not carry.
	entity.Constraints = []string{"max_dpi == dpi"}
	violations = EvaluateConstraints(entity, map[string]string{"dpi": "50000"})
	if len(violations) != 0 {
		t.Fatalf("product-value constraint flagged: %+v", violations)
	}
}
