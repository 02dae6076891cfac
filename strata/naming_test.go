package strata

import "testing"

func TestTopicFromPersistenceName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"modern storage name",
			"public/default/persistent/orders",
			"persistent://public/default/orders",
		},
		{
			"legacy name with cluster",
			"public/us-west/default/persistent/orders",
			"persistent://public/us-west/default/orders",
		},
		{
			"non-persistent domain",
			"acme/billing/non-persistent/events",
			"non-persistent://acme/billing/events",
		},
		{"empty", "", ""},
		{"bare topic", "orders", "orders"},
		{"too many segments", "a/b/c/d/e/f", "a/b/c/d/e/f"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TopicFromPersistenceName(tc.in); got != tc.want {
				t.Errorf("TopicFromPersistenceName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
