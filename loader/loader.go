// Package loader - Paralleles Laden eines Gewichts-Manifests
//
// Enthaelt:
// - Load: ein Job pro (Modul, Scope), begrenzt ueber errgroup
// - Options: Parallelitaet, Fortschritt, optionaler LoRA-Adapter
// - RuntimeName: globale Namen bleiben, Layer-Namen bekommen blk.<i>.
//
// Der erste Fehler bricht das Laden ab. Es gibt keine Wiederholungen.
package loader

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ollama/weightpipe/logutil"
	"github.com/ollama/weightpipe/weights"
)

// Store nimmt die fertigen Laufzeit-Tensoren entgegen; Put wird nur im
// kritischen Abschnitt des LoadContext aufgerufen
type Store interface {
	Put(name string, t *weights.Tensor) error
}

// Lora beschreibt einen Adapter der beim Laden eingerechnet wird. Der Store
// haelt ungeteilte Tensoren, Split muss daher TP 1 (oder 0) und Rank 0 sein;
// die Kopf-Parameter braucht SpHeadLora trotzdem.
type Lora struct {
	Reader weights.Reader
	Scale  float64
	Split  weights.SplitParams
}

// ErrLoraSplit - Adapter lassen sich nur in ungeteilte Gewichte einrechnen
var ErrLoraSplit = errors.New("lora can only be merged into unsplit weights")

func (l *Lora) split() (weights.SplitParams, error) {
	s := l.Split
	if s.TP > 1 || s.Rank != 0 {
		return s, fmt.Errorf("%w: tensor parallel rank %d of %d", ErrLoraSplit, s.Rank, s.TP)
	}
	s.TP = 1
	return s, nil
}

type Options struct {
	// Concurrency ist die Anzahl paralleler Jobs; <= 0 bedeutet GOMAXPROCS
	Concurrency int

	// Progress wird mit dem Anteil fertiger Jobs aufgerufen
	Progress func(float32)

	Lora *Lora
}

// Summary beschreibt einen abgeschlossenen Ladevorgang
type Summary struct {
	RunID   string
	Modules int
	Tensors int
	Merged  int
	Elapsed time.Duration
}

// RuntimeName gibt den Namen im Store zurueck
func RuntimeName(scope weights.Scope, name weights.Name) string {
	if scope.IsGlobal() {
		return name.String()
	}
	return fmt.Sprintf("blk.%d.%s", scope.Layer, name)
}

type job struct {
	scope  weights.Scope
	module weights.WeightModule
}

// Load materialisiert alle Module des Manifests und legt sie im Store ab
func Load(ctx context.Context, info *weights.ModelWeightInfo, r weights.Reader, lc *weights.LoadContext, store Store, opts Options) (Summary, error) {
	sum := Summary{RunID: uuid.NewString()}
	start := time.Now()

	var jobs []job
	if err := info.Walk(func(scope weights.Scope, m weights.WeightModule) error {
		jobs = append(jobs, job{scope: scope, module: m})
		return nil
	}); err != nil {
		return sum, err
	}
	sum.Modules = len(jobs)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	if lc == nil {
		return sum, errors.New("load: nil load context")
	}
	if opts.Lora != nil {
		if _, err := opts.Lora.split(); err != nil {
			return sum, err
		}
	}

	slog.Info("loading weights", "run", sum.RunID, "modules", len(jobs), "layers", info.NumLayers(), "concurrency", concurrency, "device", lc.Device)

	var done, tensors, merged atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			n, m, err := loadJob(j, r, lc, store, opts.Lora)
			if err != nil {
				return err
			}
			tensors.Add(int64(n))
			merged.Add(int64(m))

			if d := done.Add(1); opts.Progress != nil {
				opts.Progress(float32(d) / float32(len(jobs)))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("loading weights failed", "run", sum.RunID, "error", err)
		return sum, err
	}

	sum.Tensors = int(tensors.Load())
	sum.Merged = int(merged.Load())
	sum.Elapsed = time.Since(start)
	slog.Info("weights loaded", "run", sum.RunID, "tensors", sum.Tensors, "lora_merged", sum.Merged, "elapsed", sum.Elapsed)
	return sum, nil
}

// loadJob laedt ein Modul, rechnet optional LoRA ein und legt es ab
func loadJob(j job, r weights.Reader, lc *weights.LoadContext, store Store, lora *Lora) (int, int, error) {
	ts, err := j.module.Load(r, j.scope, lc)
	if err != nil {
		return 0, 0, err
	}

	var merged int
	if lora != nil {
		for _, w := range loraTargets(j.module) {
			base, ok := ts[w.Name()]
			if !ok {
				return 0, 0, fmt.Errorf("%s (%s): lora target was not loaded", w.Name(), j.scope)
			}
			t, err := mergeLora(w, base, j.scope, lora)
			if err != nil {
				return 0, 0, err
			}
			if t != nil {
				ts[w.Name()] = t
				merged++
			}
		}
	}

	names := slices.SortedFunc(maps.Keys(ts), func(a, b weights.Name) int {
		return cmp.Compare(a, b)
	})

	err = lc.Exclusive(func() error {
		for _, name := range names {
			rt := RuntimeName(j.scope, name)
			if err := store.Put(rt, ts[name]); err != nil {
				return fmt.Errorf("store %s: %w", rt, err)
			}
			logutil.Trace("weight loaded", "name", rt, "tensor", ts[name])
		}
		return nil
	})
	return len(names), merged, err
}

// loraTargets gibt alle Deskriptoren mit LoRA-Funktionen zurueck, auch
// innerhalb von Gruppen; quantisierte Gruppen werden nicht angefasst
func loraTargets(m weights.WeightModule) []*weights.AtomicWeight {
	switch m := m.(type) {
	case *weights.AtomicWeight:
		if m.SupportsLora() {
			return []*weights.AtomicWeight{m}
		}
	case *weights.CompositeWeight:
		var ws []*weights.AtomicWeight
		for _, sub := range m.Modules() {
			ws = append(ws, loraTargets(sub)...)
		}
		return ws
	}
	return nil
}

// mergeLora gibt nil zurueck wenn der Adapter das Gewicht nicht enthaelt, also
// schon das erste lora_A fehlt. Jeder andere fehlende Tensor ist ein Fehler.
func mergeLora(w *weights.AtomicWeight, base *weights.Tensor, scope weights.Scope, lora *Lora) (*weights.Tensor, error) {
	split, err := lora.split()
	if err != nil {
		return nil, err
	}

	pair, err := weights.LoadLora(w, lora.Reader, scope, split)
	if mwe := (*weights.MissingWeightError)(nil); errors.As(err, &mwe) {
		names, rerr := w.ResolvedNames(scope)
		if rerr == nil && len(names) > 0 {
			if first, _ := weights.LoraNames(names[0]); mwe.Name == first {
				logutil.Trace("no lora for weight", "weight", w.Name(), "scope", scope)
				return nil, nil
			}
		}
		return nil, fmt.Errorf("incomplete lora adapter: %w", err)
	} else if err != nil {
		return nil, err
	}

	merged, err := weights.MergeLora(base, pair, lora.Scale)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", w.Name(), scope, err)
	}
	return merged, nil
}
