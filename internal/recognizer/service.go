package recognizer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/scribekit/scribed/internal/bus"
	"github.com/scribekit/scribed/internal/protocol"
	"github.com/scribekit/scribed/internal/transcriptstore"
)

// Service bridges the orchestrator onto the message bus: it consumes
// recognition requests and settings updates and publishes progress,
// transcript, and error events.
type Service struct {
	orch        *Orchestrator
	bus         *bus.Client
	store       *transcriptstore.Store
	logger      *slog.Logger
	subRequests *nats.Subscription
	subStop     *nats.Subscription
	subSettings *nats.Subscription
	settings    Settings

	meter        metric.Meter
	completed    metric.Int64Counter
	failed       metric.Int64Counter
	duration     metric.Float64Histogram
	metricsReady bool
}

// NewService wires orchestrator events to the bus and store. The
// orchestrator is constructed here so its callbacks publish through this
// service.
func NewService(settings Settings, extractor Extractor, newEngine EngineFactory, newRemote RemoteFactory, busClient *bus.Client, store *transcriptstore.Store, logger *slog.Logger) (*Service, error) {
	s := &Service{
		bus:      busClient,
		store:    store,
		logger:   logger.With(slog.String("component", "recognition")),
		settings: settings,
		meter:    otel.Meter("github.com/scribekit/scribed/recognition"),
	}
	s.initMetrics()

	orch, err := New(settings, extractor, newEngine, newRemote, Events{
		Progress:  s.publishProgress,
		Completed: s.publishTranscript,
		Failed:    s.publishError,
	}, logger)
	if err != nil {
		return nil, err
	}
	s.orch = orch
	return s, nil
}

func (s *Service) initMetrics() {
	var err error
	s.completed, err = s.meter.Int64Counter("scribed.recognitions.completed",
		metric.WithDescription("Recognitions finished with a transcript"))
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
		return
	}
	s.failed, err = s.meter.Int64Counter("scribed.recognitions.failed",
		metric.WithDescription("Recognitions finished with an error"))
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
		return
	}
	s.duration, err = s.meter.Float64Histogram("scribed.recognition.duration",
		metric.WithDescription("End-to-end recognition duration"),
		metric.WithUnit("s"))
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
		return
	}
	s.metricsReady = true
}

// Start subscribes to the request and settings subjects.
func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectRecognitionRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.subRequests = sub

	subStop, err := s.bus.Conn().Subscribe(protocol.SubjectRecognitionStop, s.handleStop)
	if err != nil {
		s.subRequests.Drain()
		return err
	}
	s.subStop = subStop

	subSettings, err := s.bus.Conn().Subscribe(protocol.SubjectRecognitionSettings, s.handleSettings)
	if err != nil {
		s.subRequests.Drain()
		s.subStop.Drain()
		return err
	}
	s.subSettings = subSettings
	return nil
}

// Stop aborts the in-flight recognition, if any.
func (s *Service) Stop() {
	s.orch.Stop()
}

func (s *Service) Close() {
	if s.subRequests != nil {
		_ = s.subRequests.Drain()
	}
	if s.subStop != nil {
		_ = s.subStop.Drain()
	}
	if s.subSettings != nil {
		_ = s.subSettings.Drain()
	}
	s.orch.Close()
}

func (s *Service) Healthy() bool {
	return s.subRequests != nil && s.subStop != nil && s.subSettings != nil
}

// State exposes the orchestrator phase for readiness reporting.
func (s *Service) State() RunState {
	return s.orch.State()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.RecognitionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode recognition request", slogError(err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	err := s.orch.Recognize(Request{
		ID:         req.RequestID,
		SourcePath: req.SourcePath,
		OutputPath: req.OutputPath,
		Language:   req.Language,
		Backend:    req.Backend,
	})
	if err != nil {
		// Rejections never reach the orchestrator's callbacks, so the
		// error event is published here.
		s.publishError(req.RequestID, classify(err))
	}
}

func (s *Service) handleStop(msg *nats.Msg) {
	var stop protocol.RecognitionStop
	if err := json.Unmarshal(msg.Data, &stop); err != nil {
		s.logger.Warn("failed to decode stop request", slogError(err))
		return
	}
	if stop.RequestID != "" && stop.RequestID != s.orch.ActiveRequestID() {
		return
	}
	s.orch.Stop()
}

func (s *Service) handleSettings(msg *nats.Msg) {
	var update protocol.SettingsUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		s.logger.Warn("failed to decode settings update", slogError(err))
		return
	}

	next := s.settings
	if update.ModelPath != nil {
		next.ModelPath = *update.ModelPath
	}
	if update.ModelSizeHint != nil {
		next.ModelSizeHint = *update.ModelSizeHint
	}
	if update.Language != nil {
		next.Language = *update.Language
	}
	if update.PreferRemote != nil {
		next.PreferRemote = *update.PreferRemote
	}
	if update.Endpoint != nil {
		next.Endpoint = *update.Endpoint
	}

	if err := s.orch.ApplySettings(next); err != nil {
		s.logger.Warn("settings update rejected", slogError(err))
		return
	}
	s.settings = next
	s.logger.Info("settings applied",
		slog.String("model_path", next.ModelPath),
		slog.Bool("prefer_remote", next.PreferRemote))
}

func (s *Service) publishProgress(requestID string, state RunState, percent int) {
	evt := protocol.RecognitionProgress{
		RequestID: requestID,
		Stage:     state.String(),
		Percent:   percent,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publish(protocol.SubjectRecognitionProgress, evt); err != nil {
		s.logger.Warn("failed to publish progress", slogError(err))
	}
}

func (s *Service) publishTranscript(res Result) {
	evt := protocol.RecognitionTranscript{
		RequestID:  res.RequestID,
		SourcePath: res.SourcePath,
		Backend:    res.Backend.String(),
		Language:   res.Language,
		Text:       res.Text,
		DurationMS: res.Took.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err := s.publish(protocol.SubjectRecognitionTranscript, evt); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}

	ctx := context.Background()
	if err := s.store.Save(ctx, transcriptstore.Transcript{
		RequestID:  res.RequestID,
		SourcePath: res.SourcePath,
		Backend:    res.Backend.String(),
		Language:   res.Language,
		Text:       res.Text,
		DurationMS: res.Took.Milliseconds(),
	}); err != nil {
		s.logger.Warn("failed to persist transcript", slogError(err))
	}

	if s.metricsReady {
		s.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", res.Backend.String())))
		s.duration.Record(ctx, res.Took.Seconds(), metric.WithAttributes(attribute.String("backend", res.Backend.String())))
	}
}

func (s *Service) publishError(requestID string, failure *Failure) {
	evt := protocol.RecognitionError{
		RequestID: requestID,
		Kind:      string(failure.Kind),
		Detail:    failure.Detail,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publish(protocol.SubjectRecognitionError, evt); err != nil {
		s.logger.Warn("failed to publish error event", slogError(err))
	}
	if s.metricsReady {
		s.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(failure.Kind))))
	}
}

func (s *Service) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.bus.Conn().Publish(subject, data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
