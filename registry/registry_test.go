package registry

import "testing"

func TestRegisterLookupCreate(t *testing.T) {
	r := New()
	r.Register("pva", func(name string, config any) (any, error) {
		return name + ":" + config.(string), nil
	})
	v, err := r.Create("pva", "cfg")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v != "pva:cfg" {
		t.Fatalf("Create = %v, want pva:cfg", v)
	}
}

func TestLookupMissing(t *testing.T) {
	r := New()
	if _, err := r.Lookup("nope"); err == nil {
		t.Fatal("expected error for unregistered name")
	}
}

func TestUnregister(t *testing.T) {
	r := New()
	r.Register("pva", func(string, any) (any, error) { return nil, nil })
	r.Unregister("pva")
	if _, err := r.Lookup("pva"); err == nil {
		t.Fatal("expected error after Unregister")
	}
}

func TestReRegisterReplaces(t *testing.T) {
	r := New()
	r.Register("pva", func(string, any) (any, error) { return 1, nil })
	r.Register("pva", func(string, any) (any, error) { return 2, nil })
	v, _ := r.Create("pva", nil)
	if v != 2 {
		t.Fatalf("expected second registration to win, got %v", v)
	}
}
