package importer

import "testing"

func TestDedupeKey(t *testing.T) {
	base := DedupeKey("Seaside Loft", "1 Ocean Drive", "Lisbon")

	tests := []struct {
		name    string
		title   string
		address string
		city    string
		same    bool
	}{
		{"identical", "Seaside Loft", "1 Ocean Drive", "Lisbon", true},
		{"case and spacing", "  seaside   LOFT ", "1 ocean drive", "LISBON", true},
		{"punctuation", "Seaside-Loft!", "1, Ocean Drive.", "Lisbon", true},
		{"different city", "Seaside Loft", "1 Ocean Drive", "Porto", false},
		{"different address", "Seaside Loft", "2 Ocean Drive", "Lisbon", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DedupeKey(tt.title, tt.address, tt.city)
			if (got == base) != tt.same {
				t.Errorf("expected same=%v for %q/%q/%q", tt.same, tt.title, tt.address, tt.city)
			}
		})
	}
}

func TestIdentity_Key(t *testing.T) {
	withExternal := IdentityOf(&MappedProperty{
		Title:          "Seaside Loft",
		ExternalSource: "vrbo",
		ExternalID:     "991",
	})
	if !withExternal.HasExternal() {
		t.Fatal("expected external identity")
	}
	if withExternal.Key() != "ext:vrbo:991" {
		t.Errorf("unexpected key %s", withExternal.Key())
	}

	// a lone externalId without a source falls back to the fingerprint
	partial := IdentityOf(&MappedProperty{Title: "Seaside Loft", ExternalID: "991"})
	if partial.HasExternal() {
		t.Error("expected fingerprint identity")
	}
	if partial.Key() != "key:"+DedupeKey("Seaside Loft", "", "") {
		t.Errorf("unexpected key %s", partial.Key())
	}
}
