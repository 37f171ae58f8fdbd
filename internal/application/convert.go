package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
)

// ConvertService orchestrates one conversion request: stage the resource
// once, then fan the staged dataset out into every requested (format, EPSG)
// combination. One writer's failure never aborts its siblings.
type ConvertService struct {
	dump        *DumpStage
	workspace   output.Workspace
	transformer output.GeometryTransformer
	writers     map[domain.Format]output.FormatWriter
	publisher   output.ArtifactPublisher
	registry    *ReportRegistry
	metrics     output.MetricsCollector
	logger      *slog.Logger
	chunkSize   int
}

// ConvertServiceConfig holds configuration for the convert service.
type ConvertServiceConfig struct {
	ChunkSize int
}

// NewConvertService creates a new convert service.
func NewConvertService(
	dump *DumpStage,
	workspace output.Workspace,
	transformer output.GeometryTransformer,
	formatWriters []output.FormatWriter,
	publisher output.ArtifactPublisher,
	registry *ReportRegistry,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg ConvertServiceConfig,
) *ConvertService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20000
	}

	writers := make(map[domain.Format]output.FormatWriter, len(formatWriters))
	for _, w := range formatWriters {
		writers[w.Format()] = w
	}

	return &ConvertService{
		dump:        dump,
		workspace:   workspace,
		transformer: transformer,
		writers:     writers,
		publisher:   publisher,
		registry:    registry,
		metrics:     metrics,
		logger:      logger,
		chunkSize:   cfg.ChunkSize,
	}
}

// ToFile converts a datastore resource into the requested outputs.
func (s *ConvertService) ToFile(ctx context.Context, req domain.ConvertRequest) (*domain.Report, error) {
	start := time.Now()

	report := &domain.Report{
		ResourceID: req.ResourceID,
		State:      domain.StateIdle,
		StartedAt:  start,
	}

	schema, err := s.dump.Describe(ctx, req.ResourceID)
	if err != nil {
		return s.fail(report, err)
	}
	if err := req.Validate(schema); err != nil {
		return s.fail(report, err)
	}

	dir, err := s.workspace.NewRequestDir()
	if err != nil {
		return s.fail(report, err)
	}
	report.Dir = dir
	report.StagedPath = filepath.Join(dir, req.ResourceID+".jsonl")

	report.State = domain.StateDumping
	dumpStart := time.Now()
	staged, err := s.dump.Run(ctx, req.ResourceID, schema, report.StagedPath)
	s.metrics.ObserveStageDuration("dump", time.Since(dumpStart))
	if err != nil {
		return s.fail(report, err)
	}
	if staged.Rows == 0 {
		return s.fail(report, fmt.Errorf("%s: %w", req.ResourceID, domain.ErrEmptyResource))
	}
	report.RowCount = staged.Rows
	report.StagedDigest = staged.Digest

	report.State = domain.StateWriting
	spatial := schema.IsSpatial()
	if err := s.writeOutputs(ctx, req, report, schema, spatial); err != nil {
		return s.fail(report, err)
	}

	report.State = domain.StateDone
	if len(report.Artifacts) == 0 && len(report.Failures) > 0 {
		report.State = domain.StateFailed
	}
	report.FinishedAt = time.Now()
	s.metrics.ObserveConversionDuration(time.Since(start))
	s.registry.Add(*report)

	s.logger.Info("conversion finished",
		"resource", req.ResourceID,
		"state", report.State,
		"rows", report.RowCount,
		"artifacts", len(report.Artifacts),
		"failures", len(report.Failures),
	)
	return report, nil
}

// writeOutputs drives the cartesian product of formats and target EPSGs.
// Per-combination failures are recorded on the report; only context
// cancellation aborts the loop.
func (s *ConvertService) writeOutputs(ctx context.Context, req domain.ConvertRequest, report *domain.Report, schema domain.Schema, spatial bool) error {
	plans := make(map[domain.Format]*domain.ColumnMap, len(req.Formats))

	for _, spec := range req.Outputs(spatial) {
		writer, ok := s.writers[spec.Format]
		if !ok {
			report.Failures = append(report.Failures, domain.OutputFailure{
				Spec:  spec,
				Error: fmt.Sprintf("%s: %v", spec.Format, domain.ErrUnsupported),
			})
			continue
		}

		plan, ok := plans[spec.Format]
		if !ok {
			var err error
			plan, err = domain.PlanColumns(schema, spec.Format)
			if err != nil {
				s.recordFailure(report, spec, err)
				continue
			}
			plans[spec.Format] = plan
		}

		var transform output.Transform
		if spec.TargetEPSG != 0 {
			var err error
			transform, err = s.transformer.BuildTransform(spec.SourceEPSG, spec.TargetEPSG)
			if err != nil {
				s.recordFailure(report, spec, err)
				continue
			}
		}

		writeStart := time.Now()
		artifact, err := writer.Write(ctx, output.WriteRequest{
			Spec:       spec,
			Name:       req.ResourceID,
			Schema:     schema,
			Columns:    plan,
			StagedPath: report.StagedPath,
			Dir:        report.Dir,
			ChunkSize:  s.chunkSize,
			Transform:  transform,
		})
		s.metrics.ObserveStageDuration("write", time.Since(writeStart))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.recordFailure(report, spec, err)
			continue
		}

		s.publish(ctx, report, artifact)
		report.Artifacts = append(report.Artifacts, artifact)
		s.metrics.IncConversions(string(spec.Format), true)
	}
	return nil
}

func (s *ConvertService) recordFailure(report *domain.Report, spec domain.OutputSpec, err error) {
	s.logger.Warn("output failed",
		"resource", report.ResourceID,
		"output", spec.Key(),
		"error", err,
	)
	s.metrics.IncConversions(string(spec.Format), false)
	report.Failures = append(report.Failures, domain.OutputFailure{Spec: spec, Error: err.Error()})
}

// publish copies the artifact to durable storage. Publishing is best
// effort; the artifact stays valid on scratch either way.
func (s *ConvertService) publish(ctx context.Context, report *domain.Report, artifact domain.Artifact) {
	key := filepath.Base(report.Dir) + "/" + filepath.Base(artifact.Path)
	if err := s.publisher.Publish(ctx, artifact.Path, key); err != nil {
		s.logger.Warn("artifact publish failed",
			"resource", report.ResourceID,
			"key", key,
			"error", err,
		)
	}
}

// Prune deletes a path under the scratch root.
func (s *ConvertService) Prune(_ context.Context, path string) error {
	err := s.workspace.Prune(path)
	s.metrics.IncPrunes(err == nil)
	if err != nil {
		return err
	}
	s.logger.Info("pruned", "path", path)
	return nil
}

func (s *ConvertService) fail(report *domain.Report, err error) (*domain.Report, error) {
	report.State = domain.StateFailed
	report.FinishedAt = time.Now()
	s.registry.Add(*report)
	return report, err
}
