// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tier

import "math/bits"

// NumBuckets is the number of power-of-two size classes. Bucket b holds
// objects of [2^b, 2^(b+1)) pages.
const NumBuckets = 16

// MaxBucketPages is the first page count past the largest bucket.
const MaxBucketPages = 1 << NumBuckets

// Bucket returns the size class of an object of pages pages.
// Page counts beyond the largest class are clamped to it.
func Bucket(pages int) int {
	if pages <= 1 {
		return 0
	}
	b := bits.Len(uint(pages)) - 1
	if b >= NumBuckets {
		b = NumBuckets - 1
	}
	return b
}

// PagesFor rounds size bytes up to whole pages of pageSize bytes.
func PagesFor(size, pageSize int) int {
	return (size + pageSize - 1) / pageSize
}
