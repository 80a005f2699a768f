package machine_test

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVariadicMixedTypesUseIndependentCursors targets the bug a shared
// linear va_list cursor would hit: ENTER spills the int arg registers and
// float arg registers to two separate banks (vaBase[0..7] and
// vaBase[8..15], lang/compiler/func.go's vaAreaSize), not interleaved by
// logical argument position. A call alternating int/double va_arg reads
// must walk the two banks independently or the values come out scrambled.
func TestVariadicMixedTypesUseIndependentCursors(t *testing.T) {
	src := `
int mixed_sum(int n, ...) {
	va_list ap;
	va_start(ap, n);
	int isum = 0;
	double dsum = 0;
	for (int i = 0; i < n; i++) {
		if (i % 2 == 0) {
			isum += va_arg(ap, int);
		} else {
			dsum += va_arg(ap, double);
		}
	}
	va_end(ap);
	return isum + (int)dsum;
}

int main(void) {
	return mixed_sum(4, 10, 2.5, 20, 3.5);
}
`
	// isum = 10 + 20 = 30, dsum = 2.5 + 3.5 = 6.0, total = 36.
	code, _ := runSource(t, src)
	require.Equal(t, int64(36), code)
}

// TestVariadicAllFloatArgs is the control case: every va_arg read comes
// from the float bank only, so this passes even under the old
// single-cursor implementation — kept alongside the mixed-type test above
// to isolate which bank regressed if one of these starts failing.
func TestVariadicAllFloatArgs(t *testing.T) {
	src := `
double sum3(int n, ...) {
	va_list ap;
	va_start(ap, n);
	double total = 0;
	for (int i = 0; i < n; i++) {
		total += va_arg(ap, double);
	}
	va_end(ap);
	return total;
}

int main(void) {
	double got = sum3(3, 1.0, 2.0, 3.0);
	return (int)got;
}
`
	code, _ := runSource(t, src)
	require.Equal(t, int64(6), code)
}

// TestVariadicAllIntArgs is the int-bank-only control case, mirroring
// TestVariadicAllFloatArgs.
func TestVariadicAllIntArgs(t *testing.T) {
	src := `
int sum3(int n, ...) {
	va_list ap;
	va_start(ap, n);
	int total = 0;
	for (int i = 0; i < n; i++) {
		total += va_arg(ap, int);
	}
	va_end(ap);
	return total;
}

int main(void) {
	return sum3(3, 1, 2, 3);
}
`
	code, _ := runSource(t, src)
	require.Equal(t, int64(6), code)
}
