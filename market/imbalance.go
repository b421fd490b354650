package market

// CalculateImbalance calculates the imbalance between bid and ask volumes
// Imbalance = (BidVol - AskVol) / (BidVol + AskVol)
func CalculateImbalance(bidVolumeTop float64, askVolumeTop float64) float64 {
	totalVolume := bidVolumeTop + askVolumeTop
	if totalVolume == 0 {
		return 0
	}
	return (bidVolumeTop - askVolumeTop) / totalVolume
}

// CalculateImbalanceFromOrderBook calculates imbalance using full order book data
// levels specifies how many levels to consider from the top
func CalculateImbalanceFromOrderBook(book *OrderBook, levels int) float64 {
	if book == nil || levels <= 0 {
		return 0
	}
	bids, asks := book.TopLevels(levels)
	bidVolume, askVolume := 0.0, 0.0
	for _, l := range bids {
		bidVolume += l.Qty
	}
	for _, l := range asks {
		askVolume += l.Qty
	}
	return CalculateImbalance(bidVolume, askVolume)
}
