package sweep

import (
	"fmt"
	"math"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/scaletos/dmrg/chain"
	"github.com/scaletos/dmrg/trunc"
)

// UpdateResult is the outcome of a local update.
type UpdateResult struct {
	// U is the tensor stored at the first block site, of shape {ketL, up, newBond}.
	// The environment updates contract U, so it must be exactly the stored tensor.
	U *tensor.Dense
	// VH is the tensor stored at the last block site, of shape {newBond, up, ketR}.
	VH *tensor.Dense
	// TruncErr is the truncation error of the update.
	TruncErr float64
	// ETrunc is the energy shift caused by the truncation,
	// NaN unless its measurement was requested.
	ETrunc float64
}

// An Updater defines the variational step applied to each active block.
type Updater interface {
	// Length is the number of sites of the active block.
	Length() int
	// PrepareUpdate builds the block wavefunction at i0 along with the
	// block overlaps against the orthogonality targets.
	PrepareUpdate(e *Engine, i0 int) (*tensor.Dense, []*tensor.Dense, error)
	// UpdateLocal optimizes and splits the block wavefunction.
	UpdateLocal(e *Engine, i0 int, theta *tensor.Dense, thetaOrtho []*tensor.Dense, h LocalOp, updL, updR, optimize bool) (UpdateResult, error)
	// PostUpdateLocal runs after the chain tensors have been replaced.
	PostUpdateLocal(e *Engine, i0 int, res UpdateResult, updL, updR bool)
	// MixerActivate returns the mixer to use at the start of a run, or nil.
	MixerActivate(e *Engine) Mixer
}

// LanczosParams tunes the iterative eigensolver of the local updates.
type LanczosParams struct {
	// K is the number of eigenpairs to compute.
	K int
}

// Options are options for a sweep Engine.
type Options struct {
	combine      bool
	verbose      int
	chiList      map[int]int
	lanczos      LanczosParams
	truncCfg     trunc.Config
	mixer        Mixer
	orthogonalTo []*chain.State
	startEnv     int
	sweep0       int
	logf         func(format string, args ...any)
}

// NewOptions returns the default engine options.
func NewOptions() Options {
	opt := Options{}
	opt.lanczos = LanczosParams{K: 1}
	opt.startEnv = 1
	return opt
}

// Combine pre-contracts the environment parts with the operator site tensors.
func (opt Options) Combine(b bool) Options {
	opt.combine = b
	return opt
}

// Verbose sets the logging verbosity.
func (opt Options) Verbose(v int) Options {
	opt.verbose = v
	return opt
}

// ChiList schedules the maximum bond dimension by sweep number.
// The keys are the sweeps at which each bound takes effect.
func (opt Options) ChiList(l map[int]int) Options {
	opt.chiList = l
	return opt
}

// Lanczos sets the eigensolver parameters.
func (opt Options) Lanczos(p LanczosParams) Options {
	opt.lanczos = p
	return opt
}

// Trunc sets the truncation policy.
func (opt Options) Trunc(cfg trunc.Config) Options {
	opt.truncCfg = cfg
	return opt
}

// WithMixer sets the mixer activated at the start of the run.
func (opt Options) WithMixer(m Mixer) Options {
	opt.mixer = m
	return opt
}

// OrthogonalTo keeps the optimization orthogonal to the given states.
func (opt Options) OrthogonalTo(states ...*chain.State) Options {
	opt.orthogonalTo = states
	return opt
}

// StartEnv sets the number of environment sweeps priming an infinite chain.
func (opt Options) StartEnv(n int) Options {
	opt.startEnv = n
	return opt
}

// Sweep0 sets the initial sweep counter, for resuming interrupted runs.
func (opt Options) Sweep0(n int) Options {
	opt.sweep0 = n
	return opt
}

// Logf sets the logging function.
func (opt Options) Logf(f func(format string, args ...any)) Options {
	opt.logf = f
	return opt
}

// Engine sweeps over a chain, updating blocks of sites with an Updater
// while keeping the environment caches consistent.
type Engine struct {
	state     *chain.State
	op        *chain.Operator
	env       *Environment
	orthoEnvs []*OverlapEnvironment
	updater   Updater

	opts        Options
	mixer       Mixer
	sweeps      int
	truncErrs   []float64
	eTruncs     []float64
	measETrunc  bool
	doneOrtho   bool
	bufs        [10]*tensor.Dense
}

// New creates an Engine.
func New(state *chain.State, op *chain.Operator, updater Updater, options ...Options) (*Engine, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if state.Len() != op.Len() {
		return nil, errors.Errorf("%d %d", state.Len(), op.Len())
	}
	if state.Boundary() != op.Boundary() {
		return nil, errors.Errorf("%d %d", state.Boundary(), op.Boundary())
	}

	env, err := NewEnvironment(state, op, state)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	e := &Engine{
		state:   state,
		op:      op,
		env:     env,
		updater: updater,
		opts:    opt,
		sweeps:  opt.sweep0,
	}
	for i := range e.bufs {
		e.bufs[i] = tensor.Zeros(1)
	}

	for _, target := range opt.orthogonalTo {
		oe, err := NewOverlapEnvironment(state, target)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		e.orthoEnvs = append(e.orthoEnvs, oe)
	}

	// Apply the latest scheduled bond cap not exceeding the current sweep.
	if opt.chiList != nil {
		best := -1
		for s := range opt.chiList {
			if s <= e.sweeps && s > best {
				best = s
			}
		}
		if best >= 0 {
			e.opts.truncCfg.ChiMax = opt.chiList[best]
			if best < e.sweeps && opt.verbose > 0 {
				e.logf("resuming at sweep %d with the chi schedule of sweep %d", e.sweeps, best)
			}
		}
	}

	if state.Boundary() == chain.Infinite && opt.startEnv > 0 {
		if err := e.EnvironmentSweeps(opt.startEnv); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return e, nil
}

// State returns the chain being optimized.
func (e *Engine) State() *chain.State { return e.state }

// Operator returns the operator being optimized against.
func (e *Engine) Operator() *chain.Operator { return e.op }

// Env returns the environment cache.
func (e *Engine) Env() *Environment { return e.env }

// Sweeps returns the number of completed optimization sweeps.
func (e *Engine) Sweeps() int { return e.sweeps }

// TruncConfig returns the current truncation policy.
func (e *Engine) TruncConfig() trunc.Config { return e.opts.truncCfg }

// Lanczos returns the eigensolver parameters.
func (e *Engine) Lanczos() LanczosParams { return e.opts.lanczos }

// Mixer returns the active mixer, nil when mixing is off.
func (e *Engine) Mixer() Mixer { return e.mixer }

// MeasureETrunc reports whether the current sweep measures truncation energy shifts.
func (e *Engine) MeasureETrunc() bool { return e.measETrunc }

// Bufs returns the engine's scratch buffers.
func (e *Engine) Bufs() [10]*tensor.Dense { return e.bufs }

func (e *Engine) logf(format string, args ...any) {
	if e.opts.logf != nil {
		e.opts.logf(format, args...)
	}
}

// Sweep performs one full sweep over the chain.
// When optimize is false only the environments are recomputed.
// It returns the maximum truncation error of the sweep, and the maximum
// truncation energy shift when measETrunc is set, NaN otherwise.
func (e *Engine) Sweep(optimize, measETrunc bool) (float64, float64, error) {
	if e.updater == nil {
		panic("no updater")
	}
	if optimize && e.mixer == nil && e.sweeps == e.opts.sweep0 {
		e.mixer = e.updater.MixerActivate(e)
		if e.opts.mixer != nil {
			e.mixer = e.opts.mixer
		}
	}
	e.measETrunc = measETrunc
	e.truncErrs = e.truncErrs[:0]
	e.eTruncs = e.eTruncs[:0]

	n := e.updater.Length()
	sch := NewSchedule(e.state.Len(), n, e.state.Boundary())
	for i, i0 := range sch.I0 {
		updL, updR := sch.Flags[i].Left, sch.Flags[i].Right
		if err := e.update(i0, updL, updR, optimize); err != nil {
			return 0, 0, errors.Wrap(err, "")
		}
	}

	if optimize {
		e.sweeps++
		if chi, ok := e.opts.chiList[e.sweeps]; ok {
			e.opts.truncCfg.ChiMax = chi
			if e.opts.verbose > 0 {
				e.logf("sweep %d: chi max %d", e.sweeps, chi)
			}
		}
		if e.mixer != nil {
			e.mixer = e.mixer.UpdateAmplitude(e.sweeps)
		}
	}

	maxErr := 0.0
	for _, te := range e.truncErrs {
		maxErr = math.Max(maxErr, te)
	}
	maxETrunc := math.NaN()
	if measETrunc {
		maxETrunc = 0
		for _, et := range e.eTruncs {
			maxETrunc = math.Max(maxETrunc, math.Abs(et))
		}
	}
	return maxErr, maxETrunc, nil
}

// Reinit revalidates the engine against a replacement operator,
// rebuilding the environment caches through Environment.Reinit.
// The configured chi schedule is carried over, which may be intentional,
// so it is only surfaced as a diagnostic.
func (e *Engine) Reinit(op *chain.Operator) error {
	if err := e.env.Reinit(op, e.logf); err != nil {
		return errors.Wrap(err, "")
	}
	e.op = op
	if e.opts.chiList != nil {
		e.logf("chi schedule carried over the reinitialization at sweep %d", e.sweeps)
	}
	return nil
}

// EnvironmentSweeps performs n sweeps that only recompute environments.
func (e *Engine) EnvironmentSweeps(n int) error {
	for i := 0; i < n; i++ {
		if _, _, err := e.Sweep(false, false); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

func (e *Engine) update(i0 int, updL, updR, optimize bool) error {
	n := e.updater.Length()
	theta, thetaOrtho, err := e.updater.PrepareUpdate(e, i0)
	if err != nil {
		return errors.Wrap(err, "")
	}

	var h LocalOp
	hbufs := [2]*tensor.Dense{e.bufs[8], e.bufs[9]}
	switch n {
	case 1:
		h = NewOneSiteH(e.env, i0, e.opts.combine, hbufs)
	case 2:
		h = NewTwoSiteH(e.env, i0, e.opts.combine, hbufs)
	default:
		panic(fmt.Sprintf("%d", n))
	}

	res, err := e.updater.UpdateLocal(e, i0, theta, thetaOrtho, h, updL, updR, optimize)
	if err != nil {
		return errors.Wrap(err, "")
	}
	e.truncErrs = append(e.truncErrs, res.TruncErr)
	if e.measETrunc {
		e.eTruncs = append(e.eTruncs, res.ETrunc)
	}

	e.updateEnv(i0, h, res, updL, updR)
	e.updater.PostUpdateLocal(e, i0, res, updL, updR)
	return nil
}

// updateEnv recomputes the environment parts adjacent to the updated block,
// and invalidates the parts contracted with the replaced site tensors.
func (e *Engine) updateEnv(i0 int, h LocalOp, res UpdateResult, updL, updR bool) {
	n := e.updater.Length()

	if e.state.Boundary() == chain.Finite {
		e.env.DropLeftFrom(i0 + 1)
		e.env.DropRightTo(i0 + n - 2)
		for _, oe := range e.orthoEnvs {
			oe.DropLeftFrom(i0 + 1)
			oe.DropRightTo(i0 + n - 2)
		}
	}

	if updL {
		if lh := h.leftFused(); lh != nil && res.U != nil {
			e.fusedUpdateLeft(i0, lh, res.U)
		} else {
			e.env.DropLeft(i0 + 1)
			e.env.LeftPart(i0+1, true)
		}
		for _, oe := range e.orthoEnvs {
			oe.LeftPart(i0+1, true)
		}
	}
	if updR {
		if rh := h.rightFused(); rh != nil && res.VH != nil {
			e.fusedUpdateRight(i0, n, rh, res.VH)
		} else {
			e.env.DropRight(i0 + n - 2)
			e.env.RightPart(i0+n-2, true)
		}
		for _, oe := range e.orthoEnvs {
			oe.RightPart(i0+n-2, true)
		}
	}
}

// fusedUpdateLeft extends the left part across site i0 using the
// pre-contracted left tensor of the block operator, which avoids
// recontracting the operator with the environment.
func (e *Engine) fusedUpdateLeft(i0 int, lheff, u *tensor.Dense) {
	us := u.Shape()
	uf := resetCopy(e.bufs[8], u).Reshape(us[0]*us[1], us[2])
	// lu is of shape {braL*up, w, newBond}.
	lu := tensor.Product(e.bufs[9], lheff, uf, [][2]int{{2, 0}})
	// lp is of shape {newBond.conj, w, newBond}.
	lp := tensor.Product(tensor.Zeros(1), uf.Conj(), lu, [][2]int{{0, 0}})
	e.env.SetLeftPart(i0+1, lp, e.env.LeftAge(i0)+1)
}

func (e *Engine) fusedUpdateRight(i0, n int, rheff, vh *tensor.Dense) {
	vs := vh.Shape()
	vf := resetCopy(e.bufs[8], vh).Reshape(vs[0], vs[1]*vs[2])
	// rv is of shape {w, down*ketR, newBond.conj}.
	rv := tensor.Product(e.bufs[9], rheff, vf.Conj(), [][2]int{{0, 1}})
	// rp0 is of shape {newBond, w, newBond.conj}.
	rp0 := tensor.Product(tensor.Zeros(1), vf, rv, [][2]int{{1, 1}})
	rp := resetCopy(tensor.Zeros(1), rp0.Transpose(2, 1, 0))
	e.env.SetRightPart(i0+n-2, rp, e.env.RightAge(i0+n-1)+1)
}

// ThetaOrtho projects the orthogonality targets into the active block at i0,
// returning one block wavefunction per target.
func (e *Engine) ThetaOrtho(i0 int) []*tensor.Dense {
	n := e.updater.Length()
	var ortho []*tensor.Dense
	for _, oe := range e.orthoEnvs {
		lp := oe.LeftPart(i0, true)
		rp := oe.RightPart(i0+n-1, true)
		th := oe.Ket().Theta(tensor.Zeros(1), i0, n)
		// t is of shape {braL, physical..., ketR}.
		t := tensor.Product(e.bufs[8], lp, th, [][2]int{{1, chain.LeftAxis}})
		last := len(t.Shape()) - 1
		// o is of shape {braL, physical..., braR}.
		o := tensor.Product(tensor.Zeros(1), t, rp, [][2]int{{last, 1}})
		ortho = append(ortho, o)
	}
	return ortho
}

// MixerCleanup restores the chain's canonical form after mixing.
// The mixer is disabled for one non-optimizing sweep, then reinstated.
func (e *Engine) MixerCleanup() error {
	if e.mixer == nil {
		return nil
	}
	m := e.mixer
	e.mixer = nil
	_, _, err := e.Sweep(false, false)
	e.mixer = m
	if err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
