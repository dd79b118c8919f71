// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"time"

	"github.com/gogpu/bufmgr/internal/tier"
	"github.com/gogpu/bufmgr/kernel"
)

// Default configuration values.
const (
	// DefaultBatchWords is the capacity of the command buffer in dwords.
	DefaultBatchWords = 16 * 1024

	// DefaultMaxRelocs is the capacity of the relocation table.
	DefaultMaxRelocs = 4096

	// DefaultMaxExec is the capacity of the execution list, batch included.
	DefaultMaxExec = 384

	// DefaultMaxMappings caps live persistent mappings of each kind.
	DefaultMaxMappings = 256

	// DefaultNearMissRatio lets a cached object up to twice the requested
	// size be retiled and reused.
	DefaultNearMissRatio = 2.0

	// DefaultSearchRetry bounds the candidates inspected per bucket.
	DefaultSearchRetry = 16

	// DefaultSubmitRetries bounds Execute retries on a busy device.
	DefaultSubmitRetries = 3

	// DefaultExpireAfter is the idle time before a cached object is freed.
	DefaultExpireAfter = 5 * time.Second

	// DefaultUploadPartialSize is the size of upload backing objects.
	DefaultUploadPartialSize = 256 * 1024

	// DefaultMaxPartials bounds the number of upload backing objects.
	DefaultMaxPartials = 4
)

// Config holds configuration for creating a Manager.
// Zero fields take their defaults.
type Config struct {
	// BatchWords is the command buffer capacity in dwords.
	BatchWords int

	// MaxRelocs is the relocation table capacity.
	MaxRelocs int

	// MaxExec is the execution list capacity including the batch itself.
	MaxExec int

	// MaxCPUMappings caps live CPU mappings.
	MaxCPUMappings int

	// MaxDeviceMappings caps live device (aperture) mappings.
	MaxDeviceMappings int

	// NearMissRatio is the largest size ratio between a cached object of a
	// different tiling and the request for the object to be retiled and
	// reused. It trades allocation latency against memory waste.
	NearMissRatio float64

	// SearchRetry bounds the cache candidates inspected per lookup.
	SearchRetry int

	// SubmitRetries bounds Execute retries on a busy device. Negative
	// disables retrying.
	SubmitRetries int

	// ExpireAfter is how long an object may idle in the cache.
	ExpireAfter time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// SystemMemory is the total system memory in bytes. When set, a single
	// object is capped at three quarters of it.
	SystemMemory uint64

	// UploadPartialSize is the size of each upload backing object.
	UploadPartialSize int

	// MaxPartials bounds the number of upload backing objects.
	MaxPartials int

	// LargeObjectPages overrides the page count at which objects bypass
	// the bucketed tiers.
	LargeObjectPages int
}

// withDefaults returns a copy of c with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.BatchWords <= 0 {
		c.BatchWords = DefaultBatchWords
	}
	if c.MaxRelocs <= 0 {
		c.MaxRelocs = DefaultMaxRelocs
	}
	if c.MaxExec <= 1 {
		c.MaxExec = DefaultMaxExec
	}
	if c.MaxCPUMappings <= 0 {
		c.MaxCPUMappings = DefaultMaxMappings
	}
	if c.MaxDeviceMappings <= 0 {
		c.MaxDeviceMappings = DefaultMaxMappings
	}
	if c.NearMissRatio < 1 {
		c.NearMissRatio = DefaultNearMissRatio
	}
	if c.SearchRetry <= 0 {
		c.SearchRetry = DefaultSearchRetry
	}
	if c.SubmitRetries < 0 {
		c.SubmitRetries = 0
	} else if c.SubmitRetries == 0 {
		c.SubmitRetries = DefaultSubmitRetries
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = DefaultExpireAfter
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.UploadPartialSize <= 0 {
		c.UploadPartialSize = DefaultUploadPartialSize
	}
	c.UploadPartialSize = (c.UploadPartialSize + kernel.PageSize - 1) &^ (kernel.PageSize - 1)
	if c.MaxPartials <= 0 {
		c.MaxPartials = DefaultMaxPartials
	}
	return c
}

// limits are the thresholds derived from the device parameters.
type limits struct {
	// maxObjectSize is the largest single allocation in bytes.
	maxObjectSize uint64

	// largePages is the page count from which objects use the large lists.
	largePages int

	// cacheHighPages is the inactive cache size Expire trims down to.
	cacheHighPages int

	// aperturePages is the page budget of one batch.
	aperturePages int

	// mappablePages is the size of the mappable aperture in pages.
	mappablePages int
}

func deriveLimits(p kernel.Params, c Config) limits {
	var l limits

	l.maxObjectSize = p.ApertureTotal / 2
	if p.MaxObjectSize != 0 && p.MaxObjectSize < l.maxObjectSize {
		l.maxObjectSize = p.MaxObjectSize
	}
	if c.SystemMemory != 0 {
		if sys := c.SystemMemory / 4 * 3; sys < l.maxObjectSize {
			l.maxObjectSize = sys
		}
	}

	l.mappablePages = int(p.ApertureMappable / kernel.PageSize)
	l.largePages = l.mappablePages / 4
	if l.largePages > tier.MaxBucketPages/2 || l.largePages == 0 {
		l.largePages = tier.MaxBucketPages / 2
	}
	if c.LargeObjectPages > 0 {
		l.largePages = c.LargeObjectPages
	}

	l.cacheHighPages = l.mappablePages / 4 * 3
	l.aperturePages = int(p.ApertureTotal/kernel.PageSize) / 4 * 3
	return l
}
