package config

import (
	"testing"
	"time"
)

func TestGetDefaults(t *testing.T) {
	if got := Get("FHIRWATCH_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("Get = %q, want fallback", got)
	}
	if got := GetInt("FHIRWATCH_TEST_UNSET", 42); got != 42 {
		t.Errorf("GetInt = %d, want 42", got)
	}
	if got := GetDuration("FHIRWATCH_TEST_UNSET", time.Minute); got != time.Minute {
		t.Errorf("GetDuration = %s, want 1m", got)
	}
}

func TestGetParsesEnv(t *testing.T) {
	t.Setenv("FHIRWATCH_TEST_INT", "7")
	t.Setenv("FHIRWATCH_TEST_FLOAT", "0.75")
	t.Setenv("FHIRWATCH_TEST_DUR", "45s")
	t.Setenv("FHIRWATCH_TEST_BOOL", "true")

	if got := GetInt("FHIRWATCH_TEST_INT", 0); got != 7 {
		t.Errorf("GetInt = %d, want 7", got)
	}
	if got := GetFloat("FHIRWATCH_TEST_FLOAT", 0); got != 0.75 {
		t.Errorf("GetFloat = %v, want 0.75", got)
	}
	if got := GetDuration("FHIRWATCH_TEST_DUR", 0); got != 45*time.Second {
		t.Errorf("GetDuration = %s, want 45s", got)
	}
	if !GetBool("FHIRWATCH_TEST_BOOL", false) {
		t.Error("GetBool = false, want true")
	}
}

func TestMalformedFallsBack(t *testing.T) {
	t.Setenv("FHIRWATCH_TEST_INT", "not-a-number")
	if got := GetInt("FHIRWATCH_TEST_INT", 9); got != 9 {
		t.Errorf("GetInt on malformed = %d, want default 9", got)
	}
}
