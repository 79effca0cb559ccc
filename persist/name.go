package persist

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the creation time format embedded in run names.
const TimestampLayout = "2006_01_02_15_04_05"

const namePrefix = "Model_"

// RunName builds the base name shared by a run's topology and weight files,
// e.g. Model_0.1098_0.9841_2017_09_11_11_53_30.
func RunName(loss, accuracy float64, ts time.Time) string {
	return namePrefix + formatMetric(loss) + "_" + formatMetric(accuracy) + "_" + ts.Format(TimestampLayout)
}

// formatMetric uses the shortest digits that parse back to v, laid out like
// Python's repr: whole numbers keep a ".0", and exponents below -4 or from 16
// up switch to scientific notation, as in 1e-05.
func formatMetric(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	sci := strconv.FormatFloat(v, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err == nil && (exp < -4 || exp >= 16) {
		return sci
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
