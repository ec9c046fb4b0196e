package imagehash

// haarApproximation computes the low-frequency approximation band (cA) of a
// single-level 2-D Haar discrete wavelet transform: each 2x2 block of the
// input is averaged into one output coefficient, halving both dimensions.
// This is the piece of the transform wHash actually needs; the detail bands
// (cH/cV/cD) carry high-frequency content the hash deliberately discards.
func haarApproximation(g *grayGrid) []float64 {
	outW, outH := g.w/2, g.h/2
	out := make([]float64, outW*outH)

	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			a := float64(g.GrayAt(2*x, 2*y))
			b := float64(g.GrayAt(2*x+1, 2*y))
			c := float64(g.GrayAt(2*x, 2*y+1))
			d := float64(g.GrayAt(2*x+1, 2*y+1))
			out[y*outW+x] = (a + b + c + d) / 4
		}
	}
	return out
}

// resizeFloatGrid downsamples a srcW x srcH grid of coefficients to a
// dstW x dstH grid by block-averaging, the same way haarApproximation pools
// pixels. srcW/srcH are assumed to be integer multiples of dstW/dstH.
func resizeFloatGrid(src []float64, srcW, srcH, dstW, dstH int) []float64 {
	out := make([]float64, dstW*dstH)
	blockW, blockH := srcW/dstW, srcH/dstH

	for y := 0; y < dstH; y++ {
		for x := 0; x < dstW; x++ {
			var sum float64
			for by := 0; by < blockH; by++ {
				for bx := 0; bx < blockW; bx++ {
					sy := y*blockH + by
					sx := x*blockW + bx
					sum += src[sy*srcW+sx]
				}
			}
			out[y*dstW+x] = sum / float64(blockW*blockH)
		}
	}
	return out
}
