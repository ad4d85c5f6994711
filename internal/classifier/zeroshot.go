package classifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/zeroshotclassifier"
	"github.com/rs/zerolog"
	log "github.com/sirupsen/logrus"

	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
)

const DefaultZeroShotModel = "MoritzLaurer/mDeBERTa-v3-base-mnli-xnli"

const (
	labelSpam    = "spam advertisement"
	labelRegular = "regular conversation"
)

type zeroShotModel interface {
	Classify(ctx context.Context, text string, parameters zeroshotclassifier.Parameters) (zeroshotclassifier.Response, error)
}

// ZeroShot confirms spam verdicts with a local NLI model.
type ZeroShot struct {
	model    zeroShotModel
	minScore float64
	mutex    sync.Mutex
	logger   *log.Entry
}

// LoadZeroShot downloads (if missing) and loads the model. Loading takes a while.
func LoadZeroShot(modelsDir, modelName string, logger *log.Entry) (*ZeroShot, error) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if modelName == "" {
		modelName = DefaultZeroShotModel
	}
	m, err := tasks.Load[zeroshotclassifier.Interface](&tasks.Config{
		ModelsDir:           modelsDir,
		ModelName:           modelName,
		DownloadPolicy:      tasks.DownloadMissing,
		ConversionPolicy:    tasks.ConvertMissing,
		ConversionPrecision: tasks.F32,
	})
	if err != nil {
		return nil, fmt.Errorf("load zero-shot model %s: %w", modelName, err)
	}
	return newZeroShot(m, logger), nil
}

func newZeroShot(model zeroShotModel, logger *log.Entry) *ZeroShot {
	return &ZeroShot{
		model:    model,
		minScore: 0.5,
		logger:   logger,
	}
}

func (z *ZeroShot) SecondaryCheck(ctx context.Context, text string, actorID int64) (bool, error) {
	// the model is not safe for concurrent inference
	z.mutex.Lock()
	result, err := z.model.Classify(ctx, text, zeroshotclassifier.Parameters{
		CandidateLabels:    []string{labelSpam, labelRegular},
		HypothesisTemplate: "This message is {}.",
		MultiLabel:         false,
	})
	z.mutex.Unlock()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ngerrors.ErrInconclusive, err)
	}
	if len(result.Labels) == 0 || len(result.Labels) != len(result.Scores) {
		return false, fmt.Errorf("%w: empty classification", ngerrors.ErrInconclusive)
	}

	z.getLogEntry().
		WithField("method", "SecondaryCheck").
		WithField("user_id", actorID).
		WithField("label", result.Labels[0]).
		WithField("score", result.Scores[0]).
		Trace("classified")
	return result.Labels[0] == labelSpam && result.Scores[0] >= z.minScore, nil
}

func (z *ZeroShot) getLogEntry() *log.Entry {
	if z.logger != nil {
		return z.logger.WithField("object", "ZeroShotClassifier")
	}
	return log.WithField("object", "ZeroShotClassifier")
}
