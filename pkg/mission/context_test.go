package mission

import "testing"

func TestAddContributorSkipsCreatorAndDuplicates(t *testing.T) {
	c := New("m-1", Person{ID: "u-creator", Name: "Creator", Email: "creator@example.com"})

	tests := []struct {
		name string
		p    Person
		want bool
	}{
		{"creator by id", Person{ID: "u-creator"}, false},
		{"new sender", Person{ID: "u-2", Name: "Ada", Email: "ada@example.com"}, true},
		{"same sender again", Person{ID: "u-2", Name: "Ada L."}, false},
		{"anonymous", Person{Name: "nobody"}, false},
		{"email only", Person{Email: "grace@example.com", Name: "Grace"}, true},
		{"email only, other case", Person{Email: "GRACE@example.com"}, false},
	}
	for _, tt := range tests {
		if got := c.AddContributor(tt.p); got != tt.want {
			t.Errorf("%s: AddContributor() = %v, want %v", tt.name, got, tt.want)
		}
	}

	if got := len(c.CoAuthors()); got != 2 {
		t.Fatalf("CoAuthors() has %d entries, want 2", got)
	}
}

func TestCommitTrailers(t *testing.T) {
	c := New("m-1", Person{ID: "owner"})
	c.AddContributor(Person{ID: "u-1", Name: "Ada", Email: "ada@example.com"})
	c.AddContributor(Person{ID: "u-2", Name: "No Email"})
	c.AddContributor(Person{ID: "u-3", Email: "u3@example.com"})

	want := "Co-authored-by: Ada <ada@example.com>\nCo-authored-by: u-3 <u3@example.com>"
	if got := c.CommitTrailers(); got != want {
		t.Fatalf("CommitTrailers() =\n%s\nwant\n%s", got, want)
	}

	c.ResetCoAuthors()
	if got := c.CommitTrailers(); got != "" {
		t.Fatalf("CommitTrailers() after reset = %q", got)
	}
	if !c.AddContributor(Person{ID: "u-1", Email: "ada@example.com"}) {
		t.Fatal("contributor not re-added after reset")
	}
}
