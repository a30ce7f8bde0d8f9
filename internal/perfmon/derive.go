package perfmon

import "math"

// deriver turns one raw reading into an output value.
// Implementations keep per-metric state and are guarded by the owning Metric's lock.
type deriver interface {
	derive(timestampMillis int64, raw Number) (Number, bool)
}

// newDeriver builds the deriver for a template kind.
// Params: spec normalized template declaration.
// Returns: fresh deriver with empty state.
func newDeriver(spec TemplateSpec) deriver {
	scale := newScaler(spec.Multiplier)
	unitMillis := float64(spec.RateUnit.Milliseconds())

	switch spec.Kind {
	case KindDelta:
		return &deltaDeriver{scale: scale}
	case KindRate:
		return &rateDeriver{scale: scale, unitMillis: unitMillis}
	case KindWindowedRate:
		return &windowDeriver{
			scale:      scale,
			unitMillis: unitMillis,
			size:       spec.Window,
			times:      make([]int64, 0, spec.Window),
			values:     make([]Number, 0, spec.Window),
		}
	default:
		return rawDeriver{scale: scale}
	}
}

// scaler applies the template multiplier, keeping integers integral when it can.
type scaler struct {
	factor   float64
	intScale int64
	integral bool
}

func newScaler(factor float64) scaler {
	if factor == 0 {
		factor = 1
	}
	integral := factor == math.Trunc(factor) && math.Abs(factor) <= 1<<53
	s := scaler{factor: factor, integral: integral}
	if integral {
		s.intScale = int64(factor)
	}
	return s
}

// apply scales a raw or delta value.
func (s scaler) apply(n Number) Number {
	switch {
	case s.factor == 1:
		return n
	case !n.IsFloat() && s.integral:
		if product, ok := mulInt(n.Int64(), s.intScale); ok {
			return Int(product)
		}
		return Float(n.Float64() * s.factor)
	default:
		return Float(n.Float64() * s.factor)
	}
}

// applyRate scales a rate, which is always a float.
func (s scaler) applyRate(v float64) Number {
	return Float(v * s.factor)
}

type rawDeriver struct {
	scale scaler
}

func (d rawDeriver) derive(_ int64, raw Number) (Number, bool) {
	return d.scale.apply(raw), true
}

// deltaDeriver emits raw minus the previous reading.
// The first reading and any decrease (counter reset) only set the baseline.
type deltaDeriver struct {
	scale  scaler
	primed bool
	prev   Number
}

func (d *deltaDeriver) derive(_ int64, raw Number) (Number, bool) {
	if !d.primed || raw.less(d.prev) {
		d.primed = true
		d.prev = raw
		return Number{}, false
	}
	delta := raw.sub(d.prev)
	d.prev = raw
	return d.scale.apply(delta), true
}

// rateDeriver emits the delta per rate unit between consecutive readings.
// The first reading, non-positive elapsed time and counter resets only set the baseline.
type rateDeriver struct {
	scale      scaler
	unitMillis float64
	primed     bool
	prevTime   int64
	prev       Number
}

func (d *rateDeriver) derive(timestampMillis int64, raw Number) (Number, bool) {
	elapsed := timestampMillis - d.prevTime
	if !d.primed || elapsed <= 0 || raw.less(d.prev) {
		d.primed = true
		d.prevTime = timestampMillis
		d.prev = raw
		return Number{}, false
	}

	rate := raw.sub(d.prev).Float64() / float64(elapsed) * d.unitMillis
	d.prevTime = timestampMillis
	d.prev = raw
	return d.scale.applyRate(rate), true
}

// windowDeriver emits the rate between the oldest and newest of the last size readings.
// Non-increasing time or a counter reset restarts the window at the current reading.
type windowDeriver struct {
	scale      scaler
	unitMillis float64
	size       int
	times      []int64
	values     []Number
}

func (d *windowDeriver) derive(timestampMillis int64, raw Number) (Number, bool) {
	if n := len(d.times); n > 0 && (timestampMillis <= d.times[n-1] || raw.less(d.values[n-1])) {
		d.times = d.times[:0]
		d.values = d.values[:0]
	}
	if len(d.times) == d.size {
		copy(d.times, d.times[1:])
		copy(d.values, d.values[1:])
		d.times = d.times[:d.size-1]
		d.values = d.values[:d.size-1]
	}
	d.times = append(d.times, timestampMillis)
	d.values = append(d.values, raw)

	last := len(d.times) - 1
	if last < 1 {
		return Number{}, false
	}
	elapsed := d.times[last] - d.times[0]
	rate := d.values[last].sub(d.values[0]).Float64() / float64(elapsed) * d.unitMillis
	return d.scale.applyRate(rate), true
}
