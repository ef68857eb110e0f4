package sweep

import (
	"fmt"
	"math/rand"

	"github.com/fumin/tensor"
)

// A Mixer perturbs block wavefunctions during optimization to help the sweep
// escape local minima, at the cost of a larger truncation error.
// Mixers decay over sweeps and eventually disable themselves.
type Mixer interface {
	// Amplitude is the current perturbation strength.
	Amplitude() float32
	// Perturb adds the perturbation to theta in place.
	Perturb(theta *tensor.Dense)
	// UpdateAmplitude decays the mixer after a completed sweep.
	// It returns nil once the amplitude falls below the mixer's floor,
	// which disables mixing for the rest of the run.
	UpdateAmplitude(sweeps int) Mixer
}

// NoiseMixer perturbs wavefunctions with uniform random noise.
type NoiseMixer struct {
	amplitude float32
	decay     float32
	floor     float32
	rnd       *rand.Rand
}

// NewNoiseMixer creates a NoiseMixer.
// The amplitude is divided by decay after every sweep,
// and the mixer disables itself below floor.
func NewNoiseMixer(amplitude, decay, floor float32) *NoiseMixer {
	if amplitude <= 0 || decay <= 1 || floor <= 0 {
		panic(fmt.Sprintf("%f %f %f", amplitude, decay, floor))
	}
	return &NoiseMixer{
		amplitude: amplitude,
		decay:     decay,
		floor:     floor,
		rnd:       rand.New(rand.NewSource(25)),
	}
}

// Amplitude implements Mixer.
func (m *NoiseMixer) Amplitude() float32 { return m.amplitude }

// Perturb implements Mixer.
func (m *NoiseMixer) Perturb(theta *tensor.Dense) {
	for ijk, v := range theta.All() {
		re := (m.rnd.Float32()*2 - 1) * m.amplitude
		im := (m.rnd.Float32()*2 - 1) * m.amplitude
		theta.SetAt(ijk, v+complex(re, im))
	}
}

// UpdateAmplitude implements Mixer.
func (m *NoiseMixer) UpdateAmplitude(sweeps int) Mixer {
	m.amplitude /= m.decay
	if m.amplitude < m.floor {
		return nil
	}
	return m
}
