// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tiling_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gogpu/bufmgr/kernel"
	"github.com/gogpu/bufmgr/tiling"
)

func policy(gen int) tiling.Policy {
	return tiling.NewPolicy(kernel.Params{Gen: gen})
}

var _ = Describe("Policy", func() {
	Context("tile geometry", func() {
		DescribeTable("TileSize",
			func(gen int, t kernel.Tiling, w, h int) {
				gotW, gotH, size := policy(gen).TileSize(t)
				Expect(gotW).To(Equal(w))
				Expect(gotH).To(Equal(h))
				if t != kernel.TilingNone {
					Expect(size).To(Equal(w * h))
				}
			},
			Entry("gen2 X", 20, kernel.TilingX, 128, 16),
			Entry("gen3 X", 30, kernel.TilingX, 512, 8),
			Entry("gen6 Y", 60, kernel.TilingY, 128, 32),
			Entry("linear", 60, kernel.TilingNone, 4, 2),
		)

		DescribeTable("MaxSurfaceDim",
			func(gen, want int) {
				Expect(policy(gen).MaxSurfaceDim()).To(Equal(want))
			},
			Entry("gen2", 20, 2048),
			Entry("gen3", 33, 4096),
			Entry("gen6", 60, 8192),
			Entry("gen9", 90, 16384),
		)
	})

	Context("Choose", func() {
		It("demotes Y to X before gen 3", func() {
			Expect(policy(20).Choose(1024, 768, 32, kernel.TilingY, 0)).To(Equal(kernel.TilingX))
			Expect(policy(20).Choose(1024, 768, 32, kernel.TilingY, tiling.Exact)).To(Equal(kernel.TilingX))
		})

		It("demotes tiny surfaces to linear", func() {
			Expect(policy(60).Choose(8, 8, 32, kernel.TilingX, 0)).To(Equal(kernel.TilingNone))
			Expect(policy(60).Choose(1024, 1, 32, kernel.TilingY, 0)).To(Equal(kernel.TilingNone))
		})

		It("demotes surfaces too wide for a tiled pitch", func() {
			Expect(policy(60).Choose(40000, 16, 32, kernel.TilingX, 0)).To(Equal(kernel.TilingNone))
		})

		It("keeps the request when Exact is set", func() {
			Expect(policy(60).Choose(8, 8, 32, kernel.TilingX, tiling.Exact)).To(Equal(kernel.TilingX))
		})

		It("prefers X for scanout", func() {
			Expect(policy(60).Choose(1920, 1080, 32, kernel.TilingY, tiling.Scanout)).To(Equal(kernel.TilingX))
		})
	})

	Context("Layout", func() {
		It("aligns an X-tiled surface to whole tiles", func() {
			g, err := policy(60).Layout(1000, 100, 32, kernel.TilingX, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Tiling).To(Equal(kernel.TilingX))
			Expect(g.Pitch).To(Equal(4096))
			Expect(g.Rows).To(Equal(104))
			Expect(g.Size).To(Equal(4096 * 104))
			Expect(g.Pages()).To(Equal(104))
		})

		It("rounds tiled objects to a fence region without relaxed fencing", func() {
			g, err := policy(30).Layout(1000, 100, 32, kernel.TilingX, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Pitch).To(Equal(4096))
			Expect(g.Size).To(Equal(1024 * 1024))
		})

		It("uses power-of-two pitches without relaxed fencing", func() {
			g, err := policy(30).Layout(700, 64, 32, kernel.TilingX, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Pitch).To(Equal(4096))
		})

		It("aligns linear scanout pitches to 64 bytes", func() {
			g, err := policy(60).Layout(100, 10, 32, kernel.TilingNone, tiling.Scanout)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Pitch).To(Equal(448))

			g, err = policy(60).Layout(100, 10, 32, kernel.TilingNone, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Pitch).To(Equal(400))
			Expect(g.Size).To(Equal(kernel.PageSize))
		})

		It("falls back to linear when the tiled pitch is too wide", func() {
			g, err := policy(60).Layout(9000, 16, 32, kernel.TilingX, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Tiling).To(Equal(kernel.TilingNone))
			Expect(g.Pitch).To(Equal(36000))
		})

		It("rejects pitches beyond the linear limit", func() {
			_, err := policy(30).Layout(10000, 16, 32, kernel.TilingNone, 0)
			Expect(err).To(MatchError(tiling.ErrPitchTooLarge))
		})

		It("rejects invalid sizes", func() {
			_, err := policy(60).Layout(0, 16, 32, kernel.TilingNone, 0)
			Expect(err).To(MatchError(tiling.ErrInvalidSize))
			_, err = policy(60).Layout(16, 16, 12, kernel.TilingNone, 0)
			Expect(err).To(MatchError(tiling.ErrInvalidSize))
		})
	})

	It("reports whether a surface fits", func() {
		p := policy(40)
		Expect(p.Fits(8192, 8192)).To(BeTrue())
		Expect(p.Fits(8193, 16)).To(BeFalse())
	})
})
