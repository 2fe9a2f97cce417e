package query

import (
	"errors"
	"fmt"

	"github.com/dgallion1/docask/internal/chunker"
)

// ErrBudgetUnsatisfiable means no chunk budget lets the prompts fit the
// model window within the iteration cap.
var ErrBudgetUnsatisfiable = errors.New("token budget unsatisfiable")

// Splitter segments text under a per-chunk token budget.
type Splitter func(text string, maxTokens int) []chunker.Chunk

// Plan is the outcome of fitting a text to the model window.
type Plan struct {
	Chunks            []chunker.Chunk
	ChunkBudget       int
	CompletionReserve int
	Iterations        int
	// BestEffort is set when an oversized unit could not be made to fit even
	// at the floors; the service's own limit is then the backstop.
	BestEffort bool
}

// Fit segments text so that every chunk plus fixed prompt tokens plus the
// completion reserve fits cfg.ModelWindow. fixed covers the instructions,
// question and history that every chunk prompt repeats.
//
// Each miss lowers the reserve by ReserveStep and the chunk budget by
// ChunkStep, down to their floors, and segments again from scratch.
func Fit(cfg Config, text string, fixed int, split Splitter) (Plan, error) {
	reserve := cfg.CompletionReserve
	budget := cfg.ModelWindow - fixed - reserve
	if cfg.MaxChunkTokens > 0 {
		budget = min(budget, cfg.MaxChunkTokens)
	}
	budget = max(budget, cfg.MinChunkBudget)

	for iter := 1; iter <= cfg.MaxFitIterations; iter++ {
		chunks := split(text, budget)
		plan := Plan{Chunks: chunks, ChunkBudget: budget, CompletionReserve: reserve, Iterations: iter}

		fits, onlyOversized := check(chunks, fixed+reserve, cfg.ModelWindow)
		if fits {
			return plan, nil
		}

		reserveAtFloor := reserve <= cfg.MinCompletionReserve
		budgetAtFloor := budget <= cfg.MinChunkBudget
		if reserveAtFloor && onlyOversized {
			// A smaller budget cannot shrink a single unit.
			plan.BestEffort = true
			return plan, nil
		}
		if reserveAtFloor && budgetAtFloor {
			return plan, fmt.Errorf("%w: %d fixed tokens leave no room in a %d-token window",
				ErrBudgetUnsatisfiable, fixed, cfg.ModelWindow)
		}

		reserve = max(reserve-cfg.ReserveStep, cfg.MinCompletionReserve)
		budget = max(budget-cfg.ChunkStep, cfg.MinChunkBudget)
	}

	return Plan{}, fmt.Errorf("%w: no fit after %d iterations", ErrBudgetUnsatisfiable, cfg.MaxFitIterations)
}

// check reports whether every chunk fits, and whether the ones that do not
// are all oversized single units.
func check(chunks []chunker.Chunk, overhead, window int) (fits, onlyOversized bool) {
	fits, onlyOversized = true, true
	for _, c := range chunks {
		if c.Tokens+overhead <= window {
			continue
		}
		fits = false
		if !c.Oversized {
			onlyOversized = false
		}
	}
	return fits, onlyOversized
}
