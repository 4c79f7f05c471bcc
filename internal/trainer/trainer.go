// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trainer trains the classifier for a fixed number of epochs, evaluating it on the validation
// dataset after each one, and keeps the per-epoch history of loss and accuracy.
package trainer

import (
	"fmt"
	"path/filepath"

	"github.com/gomlx/buttonlinks/internal/model"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options of a training session that are not hyperparameters.
type Options struct {
	// OutputDir, if set, is where the plot points collected during training are saved, in the
	// file plots.TrainingPlotFileName.
	OutputDir string

	// ProgressBar enables the command-line progress bar.
	ProgressBar bool
}

// Result of a training session.
type Result struct {
	// Context holding the trained variables, and the hyperparameters used.
	Context *context.Context

	// Trainer used, it can be used for further evaluations.
	Trainer *train.Trainer

	History *History

	// Points recorded during training, also saved to PointsFile if it is set.
	Points     []plots.Point
	PointsFile string
}

// lossGraph is the mean of the sparse categorical cross-entropy of the batch, used as a metric.
func lossGraph(_ *context.Context, labels, predictions []*graph.Node) *graph.Node {
	return graph.ReduceAllMean(losses.SparseCategoricalCrossEntropyLogits(labels, predictions))
}

// Train trains the model for the number of epochs in the context parameter model.ParamNumEpochs.
//
// trainDS must be finite (it yields io.EOF at the end of each epoch), and is reset after each epoch.
// validationDS is evaluated at the end of each epoch. Both must yield images rescaled to [0, 1].
func Train(backend backends.Backend, ctx *context.Context, trainDS, validationDS train.Dataset, opts Options) (*Result, error) {
	numEpochs := context.GetParamOr(ctx, model.ParamNumEpochs, 10)
	if numEpochs <= 0 {
		return nil, errors.Errorf("%q must be > 0, got %d", model.ParamNumEpochs, numEpochs)
	}

	// Metrics: the mean over the epoch, like the values reported by Keras.
	trainLoss := metrics.NewMeanMetric("Mean Loss", "loss", metrics.LossMetricType, lossGraph, nil)
	trainAccuracy := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "acc")
	evalLoss := metrics.NewMeanMetric("Mean Loss", "loss", metrics.LossMetricType, lossGraph, nil)
	evalAccuracy := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "acc")
	names := MetricNames{
		Loss:        "Train: " + trainLoss.Name(),
		Accuracy:    "Train: " + trainAccuracy.Name(),
		ValLoss:     fmt.Sprintf("%s on %s", evalLoss.Name(), validationDS.Name()),
		ValAccuracy: fmt.Sprintf("%s on %s", evalAccuracy.Name(), validationDS.Name()),
	}

	var trainer *train.Trainer
	err := exceptions.TryCatch[error](func() {
		modelCtx := ctx.In(model.Scope) // Convention scope used for model creation.
		trainer = train.NewTrainer(backend, modelCtx, model.BuildGraph,
			losses.SparseCategoricalCrossEntropyLogits,
			optimizers.FromContext(modelCtx),
			[]metrics.Interface{trainLoss, trainAccuracy}, // trainMetrics
			[]metrics.Interface{evalLoss, evalAccuracy})   // evalMetrics
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create trainer")
	}
	loop := train.NewLoop(trainer)
	if opts.ProgressBar {
		commandline.AttachProgressBar(loop)
	}

	result := &Result{Context: ctx, Trainer: trainer}
	rec := &recorder{}
	var errReport <-chan error
	if opts.OutputDir != "" {
		result.PointsFile = filepath.Join(opts.OutputDir, plots.TrainingPlotFileName)
		rec.writer, errReport = plots.CreatePointsWriter(result.PointsFile)
	}

	err = trainEpochs(loop, trainDS, validationDS, numEpochs, rec, names)
	if rec.writer != nil {
		close(rec.writer)
		if writeErr := <-errReport; writeErr != nil && err == nil {
			err = writeErr
		}
	}
	result.Points = rec.points
	result.History = HistoryFromPoints(rec.points, names)
	return result, err
}

func trainEpochs(loop *train.Loop, trainDS, validationDS train.Dataset, numEpochs int, rec *recorder, names MetricNames) error {
	for epoch := range numEpochs {
		trainMetrics, err := loop.RunEpochs(trainDS, 1)
		if err != nil {
			return errors.WithMessagef(err, "training epoch %d of %d", epoch+1, numEpochs)
		}
		validationDS.Reset()
		err = plots.AddTrainAndEvalMetrics(rec, loop, trainMetrics, []train.Dataset{validationDS}, nil)
		validationDS.Reset()
		if err != nil {
			return errors.WithMessagef(err, "evaluating epoch %d of %d", epoch+1, numEpochs)
		}
		h := HistoryFromPoints(rec.points, names)
		last := h.Len() - 1
		if last >= 0 {
			klog.Infof("Epoch %d/%d: loss=%.4f accuracy=%.4f val_loss=%.4f val_accuracy=%.4f",
				epoch+1, numEpochs, h.Loss[last], h.Accuracy[last], h.ValLoss[last], h.ValAccuracy[last])
		}
	}
	return nil
}
