package strategy

// CalcHalfSpread 基于最小价差（bps of fair）计算半价差（绝对价格），至少一个 tick。
// minBps 应覆盖 maker 手续费加目标利润。
func CalcHalfSpread(fair, minBps, tick float64) float64 {
	half := fair * minBps / 10000.0
	if half < tick {
		half = tick
	}
	// 防止为 0
	if half <= 0 {
		return fair * 0.0001
	}
	return half
}
