package bus

import (
	"errors"
	"fmt"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestIsRebalance(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rebalance", kafka.RebalanceInProgress, true},
		{"wrapped rebalance", fmt.Errorf("fetch: %w", kafka.RebalanceInProgress), true},
		{"not coordinator", kafka.NotCoordinatorForGroup, true},
		{"auth failure", kafka.SASLAuthenticationFailed, false},
		{"plain", errors.New("boom"), false},
	}
	for _, c := range cases {
		if got := IsRebalance(c.err); got != c.want {
			t.Fatalf("%s: IsRebalance = %v, want %v", c.name, got, c.want)
		}
	}
}
