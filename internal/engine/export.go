// Package engine drives export runs: it applies the layout policy, calls the
// container writer per relation, extracts stored project documents, and
// reports ordered progress plus one terminal result per run.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geopack/geopack/internal/database/postgres"
	"github.com/geopack/geopack/internal/gpkg"
	"github.com/geopack/geopack/internal/project"
	"github.com/geopack/geopack/pkg/config"
	"github.com/geopack/geopack/pkg/logger"
)

// maxReportedFailures caps the failure list in the rendered summary
const maxReportedFailures = 10

// Options configures one export run
type Options struct {
	Conn           config.Connection
	Selection      Selection
	Mode           LayoutMode
	OutputDir      string
	SinglePath     string // Single mode container path; defaults to <database>.gpkg
	ExportProjects bool
}

// ProgressEvent is emitted before each relation export is attempted
type ProgressEvent struct {
	Step  int
	Total int
	Label string
}

// Result is the terminal outcome of a run, delivered exactly once
type Result struct {
	RunID      string
	Successes  int
	Failures   []string
	Containers int
	Documents  []string
	Cancelled  bool
	Total      int
}

// Summary renders the result for the console, capping the failure list
func (r Result) Summary() string {
	var b strings.Builder

	if r.RunID != "" {
		fmt.Fprintf(&b, "Run %s\n", r.RunID)
	}

	status := "Export finished"
	if r.Cancelled {
		status = "Export cancelled"
	}
	fmt.Fprintf(&b, "%s: %d/%d relations exported, %d container(s) written\n",
		status, r.Successes, r.Total, r.Containers)

	if len(r.Documents) > 0 {
		fmt.Fprintf(&b, "Projects exported: %s\n", strings.Join(r.Documents, ", "))
	}

	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "Errors (%d):\n", len(r.Failures))
		reported := r.Failures
		elided := 0
		if len(reported) > maxReportedFailures {
			elided = len(reported) - maxReportedFailures
			reported = reported[:maxReportedFailures]
		}
		for _, failure := range reported {
			fmt.Fprintf(&b, "  - %s\n", failure)
		}
		if elided > 0 {
			fmt.Fprintf(&b, "  … and %d more error(s)\n", elided)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Runner starts export runs against a container writer
type Runner struct {
	writer gpkg.Writer
	log    *logger.Logger
}

// NewRunner creates a runner using the given container writer
func NewRunner(writer gpkg.Writer, log *logger.Logger) *Runner {
	return &Runner{writer: writer, log: log}
}

// Run is a single in-flight export. Progress events arrive in processing
// order with strictly increasing step indices; the result channel delivers
// exactly one value once the run completes or is cancelled.
type Run struct {
	id        string
	progress  chan ProgressEvent
	result    chan Result
	cancelled atomic.Bool
}

// ID returns the run identifier
func (r *Run) ID() string { return r.id }

// Progress returns the progress event channel, closed when the run ends
func (r *Run) Progress() <-chan ProgressEvent { return r.progress }

// Result returns the result channel; it yields one value and is then closed
func (r *Run) Result() <-chan Result { return r.result }

// Cancel requests cooperative cancellation. The run stops before the next
// relation or document; in-flight container writes complete normally.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
}

func (r *Run) isCancelled(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}

func (r *Run) emit(step, total int, label string) {
	select {
	case r.progress <- ProgressEvent{Step: step, Total: total, Label: label}:
	default:
		// Never stall the run on a slow consumer
	}
}

// Start launches the export worker and returns immediately. The caller reads
// progress and the final result from the returned Run.
func (rn *Runner) Start(ctx context.Context, opts Options) *Run {
	run := &Run{
		id:       uuid.NewString(),
		progress: make(chan ProgressEvent, opts.Selection.Total()+1),
		result:   make(chan Result, 1),
	}
	go rn.work(ctx, opts, run)
	return run
}

func (rn *Runner) work(ctx context.Context, opts Options, run *Run) {
	res := Result{RunID: run.id, Total: opts.Selection.Total()}
	assignment := project.NewAssignment()

	rn.log.Infof("Run %s: exporting %d relation(s), %s layout", run.id, res.Total, opts.Mode)

	defer func() {
		if p := recover(); p != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("internal error: %v", p))
		}
		res.Cancelled = run.isCancelled(ctx)
		close(run.progress)
		run.result <- res
		close(run.result)
	}()

	// Metadata connection for key hints and the document phase. The writer
	// opens its own connections; this one belongs to the worker alone.
	pool, err := postgres.Connect(ctx, opts.Conn)
	if err != nil {
		rn.log.Warnf("Metadata connection unavailable: %v", err)
		pool = nil
	}
	defer func() {
		if pool != nil {
			pool.Close()
		}
	}()

	step := 0
	schemas := opts.Selection.Schemas()

	switch opts.Mode {
	case PerSchema:
		for _, schema := range schemas {
			if run.isCancelled(ctx) {
				break
			}
			path := filepath.Join(opts.OutputDir, schema+ContainerExt)
			assignment.SchemaContainers[schema] = path
			if err := removeIfExists(path); err != nil {
				res.Failures = append(res.Failures, fmt.Sprintf("Container %s: %v", path, err))
				// Progress still accounts for every skipped relation
				for _, rel := range opts.Selection[schema] {
					step++
					run.emit(step, res.Total, rel.QualifiedName())
				}
				continue
			}

			for _, rel := range opts.Selection[schema] {
				if run.isCancelled(ctx) {
					break
				}
				step++
				run.emit(step, res.Total, rel.QualifiedName())
				rn.exportRelation(ctx, opts, pool, rel, path, "", &res)
			}
		}
		for _, path := range assignment.SchemaContainers {
			if fileExists(path) {
				res.Containers++
			}
		}

	case Single:
		path := opts.SinglePath
		if path == "" {
			path = filepath.Join(opts.OutputDir, opts.Conn.Database+ContainerExt)
		}
		if err := removeIfExists(path); err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("Container %s: %v", path, err))
			for _, schema := range schemas {
				for _, rel := range opts.Selection[schema] {
					step++
					run.emit(step, res.Total, rel.QualifiedName())
				}
			}
			return
		}

		// Layer names collide across schemas in one container, so a
		// multi-schema selection prefixes every layer with its schema
		multi := len(schemas) > 1

		for _, schema := range schemas {
			if run.isCancelled(ctx) {
				break
			}
			assignment.SchemaContainers[schema] = path
			if multi {
				assignment.LayerPrefixes[schema] = schema + "__"
			}

			for _, rel := range opts.Selection[schema] {
				if run.isCancelled(ctx) {
					break
				}
				step++
				run.emit(step, res.Total, rel.QualifiedName())

				layerName := ""
				if multi {
					layerName = schema + "__" + rel.Table
				}
				rn.exportRelation(ctx, opts, pool, rel, path, layerName, &res)
			}
		}
		if fileExists(path) {
			res.Containers = 1
		}

	case PerTable:
		for _, schema := range schemas {
			if run.isCancelled(ctx) {
				break
			}
			schemaDir := filepath.Join(opts.OutputDir, schema)
			if err := os.MkdirAll(schemaDir, 0755); err != nil {
				res.Failures = append(res.Failures, fmt.Sprintf("Directory %s: %v", schemaDir, err))
				for _, rel := range opts.Selection[schema] {
					step++
					run.emit(step, res.Total, rel.QualifiedName())
				}
				continue
			}

			for _, rel := range opts.Selection[schema] {
				if run.isCancelled(ctx) {
					break
				}
				step++
				run.emit(step, res.Total, rel.QualifiedName())

				path := filepath.Join(schemaDir, rel.Table+ContainerExt)
				if err := removeIfExists(path); err != nil {
					res.Failures = append(res.Failures, fmt.Sprintf("Container %s: %v", path, err))
					continue
				}
				if rn.exportRelation(ctx, opts, pool, rel, path, "", &res) {
					res.Containers++
					assignment.TableContainers[project.TableKey{Schema: schema, Table: rel.Table}] = path
				}
			}
		}
	}

	if opts.ExportProjects && !run.isCancelled(ctx) {
		rn.exportProjects(ctx, opts, pool, assignment, run, &res)
	}
}

// exportRelation resolves the key hint and invokes the container writer,
// recording the outcome. Returns true on success.
func (rn *Runner) exportRelation(ctx context.Context, opts Options, pool *pgxpool.Pool, rel postgres.Relation, path, layerName string, res *Result) bool {
	// Best-effort key hint: a failed lookup degrades, never aborts
	keyColumn := ""
	if pool != nil {
		if key, err := postgres.PrimaryKeyColumn(ctx, pool, rel.Schema, rel.Table); err == nil {
			keyColumn = key
		} else {
			rn.log.Debugf("Key detection failed for %s: %v", rel.QualifiedName(), err)
		}
	}

	ok, msg := rn.writer.Export(ctx, opts.Conn, rel, path, layerName, keyColumn)
	if ok {
		res.Successes++
		rn.log.Info(msg)
	} else {
		res.Failures = append(res.Failures, msg)
		rn.log.Warn(msg)
	}
	return ok
}

// exportProjects extracts stored project documents, rewrites their data
// sources against the run's assignment and writes them to the output
// directory. Only a connectivity failure aborts the whole phase.
func (rn *Runner) exportProjects(ctx context.Context, opts Options, pool *pgxpool.Pool, assignment project.Assignment, run *Run, res *Result) {
	if pool == nil {
		reconnected, err := postgres.Connect(ctx, opts.Conn)
		if err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("Projects: %v", err))
			rn.log.Warnf("Error connecting for projects: %v", err)
			return
		}
		defer reconnected.Close()
		pool = reconnected
	}

	documents, err := postgres.FindProjectDocuments(ctx, pool, rn.log)
	if err != nil {
		res.Failures = append(res.Failures, fmt.Sprintf("Projects: %v", err))
		rn.log.Warnf("Error reading stored projects: %v", err)
		return
	}

	for _, doc := range documents {
		if run.isCancelled(ctx) {
			break
		}

		name := postgres.NormalizeProjectFilename(doc.Name)
		rn.log.Infof("Project: %s", name)

		rewritten := project.Rewrite(doc.XML, assignment, rn.log)
		path := filepath.Join(opts.OutputDir, name)
		if err := os.WriteFile(path, []byte(rewritten), 0644); err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("Project %s: %v", name, err))
			rn.log.Warnf("Project %s: %v", name, err)
			continue
		}

		res.Documents = append(res.Documents, name)
		rn.log.Infof("Project exported: %s", name)
	}
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
