package devices

// Baselines of the vendor's native signal scales. Readings at the baseline
// map to 10 percent; each unit below the baseline is worth 3 percent.
const (
	WifiSignalBaseline = 86
	RFSignalBaseline   = 90

	signalRange = 30
)

// MapSignalToPercent compresses a native signal reading into a 0-100 percent
// gauge. The documented "good" window occupies roughly the upper third;
// readings better than the baseline clamp at 100 instead of overflowing.
func MapSignalToPercent(raw, baseline int) float64 {
	percent := (float64(baseline-raw)/signalRange)*90 + 10
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
