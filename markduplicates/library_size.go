package markduplicates

/**
* MIT License
*
* Copyright (c) 2017 Broad Institute
*
* Permission is hereby granted, free of charge, to any person obtaining a copy
* of this software and associated documentation files (the "Software"), to deal
* in the Software without restriction, including without limitation the rights
* to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
* copies of the Software, and to permit persons to whom the Software is
* furnished to do so, subject to the following conditions:
*
* The above copyright notice and this permission notice shall be included in all
* copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
* IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
* FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
* AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
* LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
* OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
* SOFTWARE.
 */

import (
	"fmt"
	"math"
)

// bisectionSteps bounds the search for the library size.
const bisectionSteps = 40

var errNoDuplicates = fmt.Errorf("no duplicates")

// estimateLibrarySize returns the number X of distinct molecules in a
// library from which readPairs fragments were sequenced, uniqueReadPairs of
// them distinct. X solves the Lander-Waterman equation
//
//   C/X = 1 - exp(-N/X)
//
// with N = readPairs and C = uniqueReadPairs. The root is searched for as a
// multiple of C.
func estimateLibrarySize(readPairs, uniqueReadPairs uint64) (uint64, error) {
	if readPairs == 0 || readPairs == uniqueReadPairs {
		return 0, errNoDuplicates
	}
	n, c := float64(readPairs), float64(uniqueReadPairs)
	if uniqueReadPairs > readPairs {
		return 0, fmt.Errorf("invalid values for pairs and unique pairs: %v, %v", n, c)
	}
	// residual is positive while k*C is below the library size.
	residual := func(k float64) float64 {
		x := k * c
		return c/x + math.Expm1(-n/x)
	}

	lo, hi := 1.0, 100.0
	if residual(lo) < 0 {
		return 0, fmt.Errorf("invalid values for pairs and unique pairs: %v, %v", n, c)
	}
	for residual(hi) >= 0 {
		// With c close to n the residual stays positive up to +Inf.
		if hi *= 10; math.IsInf(hi, 1) {
			return 0, fmt.Errorf("could not bracket the library size of (%v, %v)", readPairs, uniqueReadPairs)
		}
	}
	for i := 0; i < bisectionSteps; i++ {
		mid := (lo + hi) / 2
		v := residual(mid)
		if v == 0 {
			lo, hi = mid, mid
			break
		}
		if v > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return uint64(c * (lo + hi) / 2), nil
}
