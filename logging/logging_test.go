package logging

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmount(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0", Amount(0))
	require.Equal(t, "1,000", Amount(1000))
	require.Equal(t, "9,223,372,036,854,775,808", Amount(math.MaxInt64+1))
	require.Equal(t, "18,446,744,073,709,551,615", Amount(math.MaxUint64))
}
