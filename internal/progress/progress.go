package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/apsjohn/pianovision-fingerings/internal/worker"
)

// Stage represents a processing stage
type Stage struct {
	Number      int
	Total       int
	Name        string
	Description string
}

// Stages of the one-shot finger command
var (
	StageRead    = Stage{1, 4, "read", "Reading MIDI file..."}
	StageEngine  = Stage{2, 4, "engine", "Waiting for engine (first run installs libraries)..."}
	StageCompute = Stage{3, 4, "compute", "Computing fingerings..."}
	StageWrite   = Stage{4, 4, "write", "Writing output..."}
)

// Reporter handles CLI progress output
type Reporter struct {
	out        io.Writer
	startTime  time.Time
	verbose    bool
	stageStart time.Time
}

// NewReporter creates a new progress reporter
func NewReporter(out io.Writer, verbose bool) *Reporter {
	return &Reporter{
		out:       out,
		startTime: time.Now(),
		verbose:   verbose,
	}
}

// StartStage announces the beginning of a processing stage
func (r *Reporter) StartStage(stage Stage) {
	r.stageStart = time.Now()
	fmt.Fprintf(r.out, "[%d/%d] %s\n", stage.Number, stage.Total, stage.Description)
}

// Hook maps worker stages onto reporter stages
func (r *Reporter) Hook() func(worker.Stage) {
	return func(s worker.Stage) {
		switch s {
		case worker.StageAwaitingEngine:
			r.StartStage(StageEngine)
		case worker.StageProcessing:
			r.Update("engine ready after %.1fs", time.Since(r.stageStart).Seconds())
			r.StartStage(StageCompute)
		}
	}
}

// Update shows a sub-progress message within a stage
func (r *Reporter) Update(format string, args ...any) {
	if r.verbose {
		fmt.Fprintf(r.out, "       %s\n", fmt.Sprintf(format, args...))
	}
}

// StageComplete shows completion message for a stage
func (r *Reporter) StageComplete(format string, args ...any) {
	fmt.Fprintf(r.out, "       %s\n", fmt.Sprintf(format, args...))
}

// Done announces successful completion
func (r *Reporter) Done(outputPath string) {
	elapsed := time.Since(r.startTime)
	fmt.Fprintln(r.out, "Done! Fingerings computed.")
	if outputPath != "" {
		fmt.Fprintf(r.out, "Output saved to: %s\n", outputPath)
	}
	fmt.Fprintf(r.out, "Completed in %.1f seconds\n", elapsed.Seconds())
}

// Error announces an error
func (r *Reporter) Error(err error) {
	fmt.Fprintf(r.out, "Error: %s\n", err)
}

// Warning announces a non-fatal warning
func (r *Reporter) Warning(format string, args ...any) {
	fmt.Fprintf(r.out, "Warning: %s\n", fmt.Sprintf(format, args...))
}
