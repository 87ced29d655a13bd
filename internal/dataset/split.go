package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// Split shuffles cases with a seeded generator and holds out
// ceil(len*testFraction) of them. The same seed and input always yield the
// same split; the input slice is not modified.
func Split(cases []Case, testFraction float64, seed int64) (train, test []Case, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %v", testFraction)
	}

	n := len(cases)
	nTest := int(math.Ceil(float64(n) * testFraction))
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, fmt.Errorf("cannot split %d cases with test fraction %v", n, testFraction)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)

	test = make([]Case, 0, nTest)
	train = make([]Case, 0, n-nTest)
	for i, idx := range perm {
		if i < nTest {
			test = append(test, cases[idx])
		} else {
			train = append(train, cases[idx])
		}
	}
	return train, test, nil
}
